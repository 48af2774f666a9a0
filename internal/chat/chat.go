// Package chat generates short two-party dialogues between agents and
// turns each one into social and economic consequences: a relationship
// bump, a tip between friends, or a beef tax skimmed into the arena pool.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"town/internal/economy"
	"town/internal/llm"
	"town/internal/social"
	"town/internal/store"
)

const (
	pairCooldown = 45 * time.Second

	// beatWindow quantizes time so the same pair retried inside a
	// window reopens the same conversational beat.
	beatWindow = 300 * time.Second

	tipRateBps = 400  // 4% of the poorer bankroll
	tipMin     = 1
	tipMax     = 50
	taxRateBps = 150 // 1.5% of each bankroll
	taxMin     = 1
	taxMax     = 20
)

var ErrCooldown = errors.New("pair is on chat cooldown")

// Outcomes the evaluator may return.
const (
	OutcomeNeutral = "NEUTRAL"
	OutcomeBond    = "BOND"
	OutcomeBeef    = "BEEF"
)

// Economic intents the evaluator may return.
var validIntents = map[string]bool{
	"TIP": true, "COLLAB": true, "HUSTLE": true, "FLEX": true, "NONE": true,
}

// Line is one utterance of a conversation.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Conversation is the full result of one chat between two agents.
type Conversation struct {
	TownID         string `json:"townId"`
	AgentA         string `json:"agentA"`
	AgentB         string `json:"agentB"`
	Lines          []Line `json:"lines"`
	Outcome        string `json:"outcome"`
	Delta          int    `json:"delta"`
	EconomicIntent string `json:"economicIntent"`
	Summary        string `json:"summary"`
	TipAmount      int64  `json:"tipAmount,omitempty"`
	TaxAmount      int64  `json:"taxAmount,omitempty"`
	CostCents      int64  `json:"costCents"`
}

// Service runs conversations. llm may be nil; dialogue then comes
// entirely from the canned archetype lines.
type Service struct {
	store  *store.Store
	social *social.Service
	llm    llm.Client
	model  string
	now    func() time.Time
}

func NewService(st *store.Store, soc *social.Service, client llm.Client, model string) *Service {
	return &Service{store: st, social: soc, llm: client, model: model, now: time.Now}
}

// beats are conversation starters; the pair seed picks one so reruns in
// the same window replay the same topic.
var beats = []string{
	"last night's arena results",
	"who is bleeding chips at the poker table",
	"the half-built lot on the strip",
	"whether the reserve price is about to move",
	"which crew is pushing into whose turf",
	"a rumor about a backer pulling their stake",
}

// cannedLines keeps dialogue flowing when the provider is down. Indexed
// per archetype; the seed and turn pick a line.
var cannedLines = map[string][]string{
	store.ArchetypeShark:     {"Heard you had a rough night at the tables.", "I only sit down when the odds lean my way.", "Keep talking, I'm counting."},
	store.ArchetypeRock:      {"Same as yesterday. Steady.", "Not betting on rumors.", "I'll believe it when the ledger shows it."},
	store.ArchetypeChameleon: {"Funny, I was about to say the same thing.", "Depends who you ask, really.", "I go where the mood goes."},
	store.ArchetypeDegen:     {"One more run. I can feel it turning.", "Stake me and I'll double it by dawn.", "Who's got action tonight?"},
	store.ArchetypeGrinder:   {"Can't stop long, the site needs another shift.", "Slow money is still money.", "Every brick pays twice."},
}

func pairSeed(townID, a, b string, window int64) uint64 {
	lo, hi := store.OrderPair(a, b)
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%d", townID, lo, hi, window)
	return h.Sum64()
}

func clamp64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Converse runs one dialogue between two agents and applies its
// consequences atomically. The 45 second pair cooldown shares the
// relationship row with every other interaction source.
func (s *Service) Converse(ctx context.Context, townID, aID, bID string) (*Conversation, error) {
	if aID == bID {
		return nil, social.ErrSelfPair
	}
	a, err := store.GetAgent(s.store.DB(), aID)
	if err != nil {
		return nil, err
	}
	b, err := store.GetAgent(s.store.DB(), bID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rel, err := store.GetRelationship(s.store.DB(), aID, bID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if rel != nil && rel.LastInteractionAt.Valid && now.Sub(rel.LastInteractionAt.Time) < pairCooldown {
		return nil, ErrCooldown
	}

	// Non-neutral pairs and familiar pairs talk longer.
	n := 4
	if rel != nil && (rel.Status != store.RelNeutral || rel.Interactions >= 3) {
		n = 6
	}
	seed := pairSeed(townID, aID, bID, now.Unix()/int64(beatWindow.Seconds()))

	conv := &Conversation{TownID: townID, AgentA: aID, AgentB: bID}
	conv.Lines, conv.CostCents = s.generateLines(ctx, a, b, seed, n)
	s.evaluate(ctx, conv, a, b)

	err = s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		return s.applyEffects(tx, conv, now)
	})
	if err != nil {
		return nil, err
	}
	if conv.CostCents > 0 {
		if err := store.RecordAgentCost(s.store.DB(), aID, conv.CostCents); err != nil {
			log.Printf("[Chat] cost record failed for %s: %v", aID, err)
		}
	}
	log.Printf("[Chat] %s x %s: %s (%s, delta %d)", a.Name, b.Name, conv.Outcome, conv.EconomicIntent, conv.Delta)
	return conv, nil
}

// generateLines produces the transcript, alternating speakers. Each turn
// is its own strict-JSON model call; any failure swaps in a canned line
// so a flaky provider degrades the prose, never the simulation.
func (s *Service) generateLines(ctx context.Context, a, b *store.Agent, seed uint64, n int) ([]Line, int64) {
	beat := beats[seed%uint64(len(beats))]
	lines := make([]Line, 0, n)
	var cost int64

	for i := 0; i < n; i++ {
		speaker, listener := a, b
		if i%2 == 1 {
			speaker, listener = b, a
		}
		text, c := s.generateLine(ctx, speaker, listener, beat, lines, seed, i)
		cost += c
		lines = append(lines, Line{Speaker: speaker.ID, Text: text})
	}
	return lines, cost
}

func (s *Service) generateLine(ctx context.Context, speaker, listener *store.Agent, beat string, sofar []Line, seed uint64, turn int) (string, int64) {
	if s.llm == nil {
		return cannedLine(speaker.Archetype, seed, turn), 0
	}

	var transcript strings.Builder
	for _, l := range sofar {
		name := speaker.Name
		if l.Speaker == listener.ID {
			name = listener.Name
		}
		fmt.Fprintf(&transcript, "%s: %s\n", name, l.Text)
	}

	prompt := fmt.Sprintf(
		"You are %s, a %s hustling in a gambling town. You are talking with %s about %s.\n"+
			"Transcript so far:\n%s\n"+
			`Reply with JSON: {"line": "one short in-character sentence"}`,
		speaker.Name, strings.ToLower(speaker.Archetype), listener.Name, beat, transcript.String())

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := s.llm.Call(callCtx, llm.Request{
		Model:       s.model,
		Prompt:      prompt,
		MaxTokens:   100,
		Temperature: 0.9,
		JSONMode:    true,
	})
	if err != nil {
		return cannedLine(speaker.Archetype, seed, turn), 0
	}
	cost := llm.CalculateCost(s.model, resp.InputTokens, resp.OutputTokens)

	repaired, err := llm.RepairJSON(resp.Content)
	if err != nil {
		return cannedLine(speaker.Archetype, seed, turn), cost
	}
	var out struct {
		Line string `json:"line"`
	}
	if json.Unmarshal([]byte(repaired), &out) != nil || strings.TrimSpace(out.Line) == "" {
		return cannedLine(speaker.Archetype, seed, turn), cost
	}
	return strings.TrimSpace(out.Line), cost
}

func cannedLine(archetype string, seed uint64, turn int) string {
	pool, ok := cannedLines[archetype]
	if !ok {
		pool = cannedLines[store.ArchetypeRock]
	}
	return pool[(int(seed)+turn)%len(pool)]
}

// evaluate classifies the finished transcript in a single model call.
// Defaults are NEUTRAL with no economic intent when the model is
// unavailable or returns garbage.
func (s *Service) evaluate(ctx context.Context, conv *Conversation, a, b *store.Agent) {
	conv.Outcome = OutcomeNeutral
	conv.EconomicIntent = "NONE"
	conv.Summary = fmt.Sprintf("%s and %s traded words.", a.Name, b.Name)
	if s.llm == nil {
		return
	}

	var transcript strings.Builder
	for _, l := range conv.Lines {
		name := a.Name
		if l.Speaker == b.ID {
			name = b.Name
		}
		fmt.Fprintf(&transcript, "%s: %s\n", name, l.Text)
	}
	prompt := fmt.Sprintf(
		"Classify this conversation between %s and %s.\n%s\n"+
			`Reply with JSON: {"outcome": "NEUTRAL|BOND|BEEF", "delta": -7..7, `+
			`"economicIntent": "TIP|COLLAB|HUSTLE|FLEX|NONE", "summary": "one sentence"}`,
		a.Name, b.Name, transcript.String())

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := s.llm.Call(callCtx, llm.Request{
		Model:     s.model,
		Prompt:    prompt,
		MaxTokens: 150,
		JSONMode:  true,
	})
	if err != nil {
		return
	}
	conv.CostCents += llm.CalculateCost(s.model, resp.InputTokens, resp.OutputTokens)

	repaired, err := llm.RepairJSON(resp.Content)
	if err != nil {
		return
	}
	var out struct {
		Outcome        string `json:"outcome"`
		Delta          int    `json:"delta"`
		EconomicIntent string `json:"economicIntent"`
		Summary        string `json:"summary"`
	}
	if json.Unmarshal([]byte(repaired), &out) != nil {
		return
	}
	switch out.Outcome {
	case OutcomeBond, OutcomeBeef, OutcomeNeutral:
		conv.Outcome = out.Outcome
	}
	if out.Delta >= -7 && out.Delta <= 7 {
		conv.Delta = out.Delta
	}
	// Models sometimes report a magnitude regardless of outcome; make the
	// sign agree before the graph sees it.
	if conv.Outcome == OutcomeBeef && conv.Delta > 0 {
		conv.Delta = -conv.Delta
	}
	if conv.Outcome == OutcomeBond && conv.Delta < 0 {
		conv.Delta = -conv.Delta
	}
	if validIntents[out.EconomicIntent] {
		conv.EconomicIntent = out.EconomicIntent
	}
	if strings.TrimSpace(out.Summary) != "" {
		conv.Summary = strings.TrimSpace(out.Summary)
	}
}

// applyEffects commits the relationship change, the money movement and
// exactly one AGENT_CHAT event in the caller's transaction.
func (s *Service) applyEffects(tx *sqlx.Tx, conv *Conversation, now time.Time) error {
	switch conv.Outcome {
	case OutcomeBond, OutcomeBeef:
		res, err := s.social.ApplyInteraction(tx, conv.AgentA, conv.AgentB, conv.Outcome, conv.Delta)
		if err != nil {
			return err
		}
		if res.OnCooldown {
			// Raced another interaction since the pre-check.
			return ErrCooldown
		}
	default:
		// NEUTRAL still starts the cooldown clock.
		rel, err := store.EnsureRelationship(tx, conv.AgentA, conv.AgentB)
		if err != nil {
			return err
		}
		if rel.LastInteractionAt.Valid && now.Sub(rel.LastInteractionAt.Time) < pairCooldown {
			return ErrCooldown
		}
		store.TouchInteraction(tx, rel, now)
		if err := store.UpdateRelationship(tx, rel); err != nil {
			return err
		}
	}

	switch conv.Outcome {
	case OutcomeBond:
		if err := s.applyTip(tx, conv); err != nil {
			return err
		}
	case OutcomeBeef:
		if err := s.applyBeefTax(tx, conv); err != nil {
			return err
		}
	}

	meta, err := json.Marshal(map[string]any{
		"lines":          conv.Lines,
		"outcome":        conv.Outcome,
		"delta":          conv.Delta,
		"economicIntent": conv.EconomicIntent,
		"tip":            conv.TipAmount,
		"tax":            conv.TaxAmount,
	})
	if err != nil {
		return err
	}
	return store.AppendEvent(tx, &store.TownEvent{
		TownID:    conv.TownID,
		Kind:      store.EventAgentChat,
		AgentID:   conv.AgentA,
		Message:   conv.Summary,
		Metadata:  string(meta),
		CreatedMs: now.UnixMilli(),
	})
}

// applyTip moves a small goodwill payment from the richer agent to the
// poorer one, sized off the poorer bankroll. Skipped when the richer
// side cannot comfortably cover it.
func (s *Service) applyTip(tx *sqlx.Tx, conv *Conversation) error {
	a, err := store.GetAgent(tx, conv.AgentA)
	if err != nil {
		return err
	}
	b, err := store.GetAgent(tx, conv.AgentB)
	if err != nil {
		return err
	}
	richer, poorer := a, b
	if b.Bankroll > a.Bankroll {
		richer, poorer = b, a
	}
	tip := clamp64(poorer.Bankroll*tipRateBps/10000, tipMin, tipMax)
	if richer.Bankroll < 2*tip {
		return nil
	}
	if err := store.AdjustBankroll(tx, richer.ID, -tip); err != nil {
		return err
	}
	if err := store.AdjustBankroll(tx, poorer.ID, tip); err != nil {
		return err
	}
	conv.TipAmount = tip

	group := uuid.NewString()
	memo := "chat tip " + richer.ID + " -> " + poorer.ID
	if err := store.AppendLedger(tx, &store.LedgerEntry{
		EntryGroup: group, Account: "agent:" + richer.ID, Debit: tip, Memo: memo,
	}); err != nil {
		return err
	}
	return store.AppendLedger(tx, &store.LedgerEntry{
		EntryGroup: group, Account: "agent:" + poorer.ID, Credit: tip, Memo: memo,
	})
}

// applyBeefTax charges both sides of a feud and sweeps the total into
// the arena fee bucket. An agent near broke pays what they have.
func (s *Service) applyBeefTax(tx *sqlx.Tx, conv *Conversation) error {
	var total int64
	for _, id := range []string{conv.AgentA, conv.AgentB} {
		ag, err := store.GetAgent(tx, id)
		if err != nil {
			return err
		}
		tax := clamp64(ag.Bankroll*taxRateBps/10000, taxMin, taxMax)
		if tax > ag.Bankroll {
			tax = ag.Bankroll
		}
		if tax <= 0 {
			continue
		}
		if err := store.AdjustBankroll(tx, id, -tax); err != nil {
			return err
		}
		total += tax
	}
	if total == 0 {
		return nil
	}
	conv.TaxAmount = total
	return economy.CreditArenaFees(tx, total, "beef tax "+conv.AgentA+" x "+conv.AgentB)
}
