// Package scenario produces the shared memory each round is built around.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scythe504/dejavu-backend/internal"
)

type Scenario struct {
	Prompt          string   `json:"prompt"`
	Fragments       []string `json:"fragments"`
	Hints           []string `json:"hints"`
	DetailQuestions []string `json:"detailQuestions"`
}

type Generator interface {
	Generate(ctx context.Context) (Scenario, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context) (Scenario, error)

func (f GeneratorFunc) Generate(ctx context.Context) (Scenario, error) {
	return f(ctx)
}

var ErrInvalidScenario = errors.New("scenario: invalid shape")

// Validate checks the shape every round relies on.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Prompt) == "" {
		return fmt.Errorf("%w: empty prompt", ErrInvalidScenario)
	}
	if len(s.Fragments) != internal.FragmentCount {
		return fmt.Errorf("%w: %d fragments, want %d", ErrInvalidScenario, len(s.Fragments), internal.FragmentCount)
	}
	if len(s.Hints) != internal.HintCount {
		return fmt.Errorf("%w: %d hints, want %d", ErrInvalidScenario, len(s.Hints), internal.HintCount)
	}
	if len(s.DetailQuestions) != internal.DetailQuestions {
		return fmt.Errorf("%w: %d questions, want %d", ErrInvalidScenario, len(s.DetailQuestions), internal.DetailQuestions)
	}
	return nil
}

// QuestionAt selects the detail question for index, wrapping around.
func QuestionAt(questions []string, index int) string {
	if len(questions) == 0 {
		return ""
	}
	if index < 0 {
		index = -index
	}
	return questions[index%len(questions)]
}

// WithFallback calls gen once with a deadline and returns Default when it
// fails, times out or returns a malformed scenario. It never errors.
func WithFallback(ctx context.Context, gen Generator, timeout time.Duration) Scenario {
	if gen == nil {
		return Default()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s, err := gen.Generate(ctx)
	if err == nil {
		err = s.Validate()
	}
	if err != nil {
		log.Printf("[scenario] Generation failed, using fallback: %v", err)
		return Default()
	}
	return s
}
