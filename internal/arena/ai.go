package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"town/internal/games"
	"town/internal/llm"
	"town/internal/store"
)

// PlayAITurn drives one model-selected move for an agent whose turn it
// is. The model proposal runs through archetype biases and then through
// normalization, so whatever comes back, something legal gets played.
func (s *Service) PlayAITurn(ctx context.Context, matchID, agentID string) (*store.Match, error) {
	m, err := store.GetMatch(s.store.DB(), matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != store.MatchActive {
		return nil, fmt.Errorf("%w: match is %s", ErrMatchState, m.Status)
	}
	if !m.HasPlayer(agentID) {
		return nil, ErrNotInMatch
	}

	agent, err := store.GetAgent(s.store.DB(), agentID)
	if err != nil {
		return nil, err
	}
	engine, err := games.Get(m.GameType)
	if err != nil {
		return nil, err
	}
	state := json.RawMessage(m.GameState)
	valid, err := engine.ValidActions(state, agentID)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		return nil, games.ErrNotYourTurn
	}

	action, reasoning, cost := s.proposeAction(ctx, m, agent, engine, valid)
	action = s.applyArchetypeBias(m, agent, action, valid)

	if cost > 0 {
		if err := store.RecordAgentCost(s.store.DB(), agentID, cost); err != nil {
			log.Printf("[Arena] cost record failed for %s: %v", agentID, err)
		}
	}
	return s.SubmitMove(matchID, agentID, action, reasoning, cost)
}

// proposeAction asks the model for a move; on any failure it falls back
// to the safest valid action.
func (s *Service) proposeAction(ctx context.Context, m *store.Match, agent *store.Agent, engine games.Engine, valid []string) (string, string, int64) {
	fallback := safeAction(valid)
	if s.llm == nil {
		return fallback, "instinct", 0
	}

	view, err := engine.View(json.RawMessage(m.GameState), agent.ID)
	if err != nil {
		return fallback, "instinct", 0
	}
	scout := s.scoutingReport(agent.ID, m.Opponent(agent.ID))

	prompt := fmt.Sprintf(
		"You are %s, a %s gambler playing %s for a %d-token pot.\n%s\nGame state: %s\nValid actions: %s\n"+
			`Reply with JSON: {"action": "...", "reasoning": "..."}`,
		agent.Name, strings.ToLower(agent.Archetype), m.GameType, m.TotalPot,
		scout, view, strings.Join(valid, ", "))

	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	resp, err := s.llm.Call(callCtx, llm.Request{
		Model:       s.model,
		Prompt:      prompt,
		MaxTokens:   300,
		Temperature: 0.7,
		JSONMode:    true,
	})
	if err != nil {
		if !errors.Is(err, llm.ErrThrottled) {
			log.Printf("[Arena] llm call failed for %s: %v", agent.Name, err)
		}
		return fallback, "instinct", 0
	}
	cost := llm.CalculateCost(s.model, resp.InputTokens, resp.OutputTokens)

	repaired, err := llm.RepairJSON(resp.Content)
	if err != nil {
		return fallback, "instinct", cost
	}
	var out struct {
		Action    string `json:"action"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil || out.Action == "" {
		return fallback, "instinct", cost
	}
	return out.Action, out.Reasoning, cost
}

// scoutingReport summarizes history against this opponent for the prompt.
func (s *Service) scoutingReport(agentID, opponentID string) string {
	if opponentID == "" {
		return ""
	}
	rec, err := store.GetOpponentRecord(s.store.DB(), agentID, opponentID)
	if err != nil || rec.MatchesPlayed == 0 {
		return "You have no history with this opponent."
	}
	return fmt.Sprintf("Against this opponent you are %d-%d-%d over %d matches.",
		rec.Wins, rec.Losses, rec.Draws, rec.MatchesPlayed)
}

// safeAction picks the least committal valid action.
func safeAction(valid []string) string {
	for _, pref := range []string{"check", "call", "rest"} {
		for _, v := range valid {
			if v == pref {
				return v
			}
		}
	}
	return valid[0]
}

func hasAction(valid []string, a string) bool {
	for _, v := range valid {
		if strings.HasPrefix(a, v) || v == a {
			return true
		}
	}
	return false
}

// applyArchetypeBias nudges poker lines toward each archetype's table
// image. Non-poker games pass through untouched.
func (s *Service) applyArchetypeBias(m *store.Match, agent *store.Agent, action string, valid []string) string {
	if m.GameType != games.TypePoker {
		return action
	}
	verb := strings.Fields(strings.ToLower(action))
	if len(verb) == 0 {
		return action
	}

	switch agent.Archetype {
	case store.ArchetypeShark:
		// Sharks turn passivity into pressure.
		if verb[0] == "check" && hasAction(valid, "raise") && rand.Float64() < 0.40 {
			return "raise"
		}
	case store.ArchetypeRock:
		// Rocks abandon thin raises.
		if verb[0] == "raise" && rand.Float64() < 0.30 {
			return safeAction(valid)
		}
	case store.ArchetypeDegen:
		if hasAction(valid, "all-in") && rand.Float64() < 0.15 {
			return "all-in"
		}
	case store.ArchetypeChameleon:
		// Mirror the opponent's last aggression.
		if last := s.lastOpponentAction(m, agent.ID); last != "" {
			aggro := strings.HasPrefix(last, "raise") || last == "all-in"
			if aggro && hasAction(valid, "raise") {
				return "raise"
			}
		}
	case store.ArchetypeGrinder:
		// Grinders size raises at 60-75% pot.
		if verb[0] == "raise" && len(verb) == 1 {
			var ps struct {
				Pot int `json:"pot"`
			}
			if json.Unmarshal([]byte(m.GameState), &ps) == nil && ps.Pot > 0 {
				frac := 0.60 + 0.15*rand.Float64()
				return fmt.Sprintf("raise %d", int(float64(ps.Pot)*frac))
			}
		}
	}
	return action
}

// lastOpponentAction returns the opponent's most recent move action.
func (s *Service) lastOpponentAction(m *store.Match, agentID string) string {
	moves, err := store.ListMoves(s.store.DB(), m.ID)
	if err != nil {
		return ""
	}
	for i := len(moves) - 1; i >= 0; i-- {
		if moves[i].AgentID != agentID {
			return strings.ToLower(moves[i].Action)
		}
	}
	return ""
}
