package llm

// Canned decisions keep agents moving when a provider is down, throttled
// or returns garbage. Each archetype cycles through lines that stay in
// character; the actions are all safe no-ops or cheap moves the validator
// accepts regardless of world state.

type fallbackLine struct {
	Action    string
	Reasoning string
	Narrative string
}

var fallbacks = map[string][]fallbackLine{
	"SHARK": {
		{"rest", "Watching the table before I commit.", "The shark circles, patient."},
		{"trade", "Working an angle with the neighbors.", "A quiet word here, a favor there."},
	},
	"ROCK": {
		{"rest", "No edge right now. Holding position.", "Steady as ever."},
		{"rest", "Patience costs nothing.", "The rock does not move."},
	},
	"CHAMELEON": {
		{"trade", "Reading the room first.", "Blending into the crowd."},
		{"rest", "Mirroring the street's mood.", "Hard to pin down today."},
	},
	"DEGEN": {
		{"trade", "Looking for action, any action.", "Bouncing between tables."},
		{"rest", "Even I need a breather.", "Counting what's left of the roll."},
	},
	"GRINDER": {
		{"do_work", "Back to the site. Work compounds.", "Another shift, another brick."},
		{"rest", "Recover, then grind again.", "Short break between shifts."},
	},
}

// FallbackDecision returns a canned decision JSON for the archetype.
// n selects the line deterministically (callers pass the tick).
func FallbackDecision(archetype string, n int64) string {
	lines, ok := fallbacks[archetype]
	if !ok {
		lines = fallbacks["ROCK"]
	}
	l := lines[int(n)%len(lines)]
	return `{"action":"` + l.Action + `","reasoning":"` + l.Reasoning + `","narrative":"` + l.Narrative + `"}`
}
