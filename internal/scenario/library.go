package scenario

import (
	"context"
	"math/rand/v2"
	"slices"
)

var builtin = []Scenario{
	{
		Prompt: "A late night at a 24-hour diner. A stranger left something behind at the counter before hurrying out into the rain.",
		Fragments: []string{
			"The clock showed exactly 2:47 AM",
			"The stranger wore a bright yellow raincoat",
			"They left behind a worn leather journal with a red ribbon bookmark",
			`The jukebox was playing "Blue Moon" by Elvis`,
		},
		Hints: []string{
			"It was very late at night",
			"The weather was bad outside",
			"Someone forgot something",
			"There was music playing",
		},
		DetailQuestions: []string{
			"What time was it?",
			"What was the stranger wearing?",
			"What did they leave behind?",
			"What song was playing?",
			"What color was the item left behind?",
		},
	},
	{
		Prompt: "A crowded subway platform during rush hour. Someone dropped their bag and dozens of photographs scattered across the floor.",
		Fragments: []string{
			"It happened at the 14th Street station",
			"The bag was a green canvas messenger bag",
			"Most photos were black and white portraits",
			"A child in a red cap helped pick them up",
		},
		Hints: []string{
			"It was a busy transit location",
			"Something spilled everywhere",
			"Strangers helped out",
			"There were images involved",
		},
		DetailQuestions: []string{
			"Where did this happen?",
			"What kind of bag was it?",
			"What was in the photographs?",
			"Who helped clean up?",
			"What color was the bag?",
		},
	},
	{
		Prompt: "A quiet morning at the park. A street performer suddenly stopped mid-song and stared at someone in the crowd.",
		Fragments: []string{
			"The performer was playing a silver saxophone",
			`They stopped during "Autumn Leaves"`,
			"They stared at a woman in a blue sundress",
			"It was around 10:30 in the morning",
		},
		Hints: []string{
			"There was live music",
			"Something unexpected happened",
			"The performer reacted to someone",
			"It was during the day",
		},
		DetailQuestions: []string{
			"What instrument were they playing?",
			"What song were they performing?",
			"Who did they look at?",
			"What time of day was it?",
			"What color was the instrument?",
		},
	},
	{
		Prompt: "A hotel lobby at midnight. The power went out for exactly thirty seconds, and when the lights came back, something had changed.",
		Fragments: []string{
			"The grandfather clock in the corner had stopped at 12:03",
			"A painting of a ship was now hanging upside down",
			"The receptionist was a young man with round glasses",
			"There were exactly 7 people in the lobby",
		},
		Hints: []string{
			"It was late at night",
			"There was a brief darkness",
			"Something was different after",
			"There were witnesses around",
		},
		DetailQuestions: []string{
			"What time did the clock show?",
			"What changed after the blackout?",
			"What did the hotel staff look like?",
			"How many people were there?",
			"What was in the painting?",
		},
	},
	{
		Prompt: "A bookstore closing sale. An elderly man bought the very last book and whispered something to the cashier before leaving.",
		Fragments: []string{
			`The book was "The Great Gatsby" with a torn cover`,
			"He paid with exact change - $4.75",
			`He whispered "She would have loved this"`,
			"He wore a faded military pin on his lapel",
		},
		Hints: []string{
			"A store was closing down",
			"An older customer made a purchase",
			"There was something sentimental",
			"He said something quiet",
		},
		DetailQuestions: []string{
			"What book did he buy?",
			"How much did it cost?",
			"What did he say to the cashier?",
			"What was distinctive about his appearance?",
			"What was wrong with the book?",
		},
	},
}

// Default is the fixed scenario used whenever generation fails.
func Default() Scenario {
	return clone(builtin[0])
}

// Builtin returns a copy of the bundled scenario library.
func Builtin() []Scenario {
	out := make([]Scenario, 0, len(builtin))
	for _, s := range builtin {
		out = append(out, clone(s))
	}
	return out
}

// Static picks uniformly from a fixed library.
type Static struct {
	scenarios []Scenario
}

// NewStatic uses scenarios, or the bundled library when none are given.
func NewStatic(scenarios []Scenario) *Static {
	if len(scenarios) == 0 {
		scenarios = Builtin()
	}
	return &Static{scenarios: scenarios}
}

func (s *Static) Generate(ctx context.Context) (Scenario, error) {
	if err := ctx.Err(); err != nil {
		return Scenario{}, err
	}
	return clone(s.scenarios[rand.IntN(len(s.scenarios))]), nil
}

func clone(s Scenario) Scenario {
	return Scenario{
		Prompt:          s.Prompt,
		Fragments:       slices.Clone(s.Fragments),
		Hints:           slices.Clone(s.Hints),
		DetailQuestions: slices.Clone(s.DetailQuestions),
	}
}
