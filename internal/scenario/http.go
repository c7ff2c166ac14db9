package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strings"
)

var categories = []string{
	"crime witness",
	"accident scene",
	"mysterious encounter",
	"public incident",
	"strange occurrence",
	"memorable event",
}

const systemPrompt = `You are creating content for a social deduction game called "DEJA VU" where one player is a witness with real memories and others must fake having the same memory.

Generate a %s scenario. Respond in this exact JSON format only, no other text:
{
  "prompt": "A 2-3 sentence vivid memory scenario that all players will see.",
  "fragments": ["exactly 4 specific sensory details the witness remembers: colors, sounds, exact words, times or numbers"],
  "hints": ["exactly 4 vague hints imposters can fabricate from: themes, tones, broad context"],
  "detailQuestions": ["exactly 5 probing questions a real witness could answer and an imposter would struggle with"]
}`

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// HTTP asks an OpenAI-compatible chat completions endpoint for a scenario.
type HTTP struct {
	Endpoint string
	APIKey   string
	Model    string
	Client   *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (h *HTTP) Generate(ctx context.Context) (Scenario, error) {
	category := categories[rand.IntN(len(categories))]
	body, err := json.Marshal(chatRequest{
		Model: h.Model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, category)},
			{Role: "user", Content: "Generate a new scenario."},
		},
	})
	if err != nil {
		return Scenario{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Scenario{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Scenario{}, fmt.Errorf("scenario request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return Scenario{}, fmt.Errorf("decode completion: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Scenario{}, fmt.Errorf("completion had no choices")
	}
	return parseScenario(decoded.Choices[0].Message.Content)
}

// parseScenario pulls the first JSON object out of free-form model output.
func parseScenario(content string) (Scenario, error) {
	match := jsonObject.FindString(content)
	if match == "" {
		return Scenario{}, fmt.Errorf("%w: no JSON object in reply", ErrInvalidScenario)
	}
	var s Scenario
	if err := json.Unmarshal([]byte(match), &s); err != nil {
		return Scenario{}, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return s, s.Validate()
}
