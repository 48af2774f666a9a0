// Package agent is the tick pipeline: observe the world, refresh goals,
// pick up operator commands, decide (model or fallback), validate,
// execute through the domain services, and remember what happened.
package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"town/internal/arena"
	"town/internal/chat"
	"town/internal/commands"
	"town/internal/crews"
	"town/internal/economy"
	"town/internal/games"
	"town/internal/goals"
	"town/internal/llm"
	"town/internal/store"
	"town/internal/towns"
)

const (
	scratchpadLines = 20
	restHealthGain  = 5
	defaultWager    = 50
	skillCost       = 25

	// inferenceCost is what external agents pay per non-rest action.
	inferenceCost = 1
)

// BlockedInferenceCost is the blocked reason when an external agent
// cannot pay the per-action token. The API layer maps it to 402.
const BlockedInferenceCost = "cannot cover inference cost"

// Action catalog the decision step may choose from.
var actionCatalog = []string{
	"claim_plot", "start_build", "do_work", "complete_build",
	"buy_arena", "sell_arena", "play_arena", "transfer_arena",
	"buy_skill", "trade", "rest",
}

// actionAlias folds older client spellings onto catalog names.
var actionAlias = map[string]string{
	"challenge": "play_arena",
	"chat":      "trade",
}

// crewIntentAction maps crew order intents onto concrete actions.
var crewIntentAction = map[string]string{
	"crew_raid":   "play_arena",
	"crew_defend": "rest",
	"crew_farm":   "do_work",
	"crew_trade":  "trade",
}

// canonicalAction rewrites aliased action names in place. "swap" splits
// into buy or sell by its side parameter.
func canonicalAction(d *Decision) {
	if a, ok := actionAlias[d.Action]; ok {
		d.Action = a
	}
	if d.Action == "swap" {
		if paramString(d.Params, "side", "") == store.SideSellArena {
			d.Action = "sell_arena"
		} else {
			d.Action = "buy_arena"
		}
	}
}

// Decision is what the model (or a fallback) proposes.
type Decision struct {
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params"`
	Reasoning string                 `json:"reasoning"`
	Narrative string                 `json:"narrative"`
}

// TickResult summarizes one completed tick.
type TickResult struct {
	Tick      int64  `json:"tick"`
	AgentID   string `json:"agentId"`
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Blocked   string `json:"blocked,omitempty"`
	Narrative string `json:"narrative,omitempty"`
	CommandID string `json:"commandId,omitempty"`
	CostCents int64  `json:"costCents"`
}

// Pipeline wires the tick steps to the domain services.
type Pipeline struct {
	store    *store.Store
	goals    *goals.Tracker
	commands *commands.Service
	crews    *crews.Service
	towns    *towns.Service
	economy  *economy.Service
	arena    *arena.Service
	chat     *chat.Service
	llm      llm.Client
	model    string
}

func NewPipeline(st *store.Store, g *goals.Tracker, cmds *commands.Service, cr *crews.Service,
	tw *towns.Service, ec *economy.Service, ar *arena.Service, ch *chat.Service,
	client llm.Client, model string) *Pipeline {
	return &Pipeline{
		store: st, goals: g, commands: cmds, crews: cr,
		towns: tw, economy: ec, arena: ar, chat: ch,
		llm: client, model: model,
	}
}

// Tick runs one full pipeline iteration for an agent. The caller (the
// sim driver) guarantees per-agent serialization.
func (p *Pipeline) Tick(ctx context.Context, agentID string, tick int64) (*TickResult, error) {
	res := &TickResult{Tick: tick, AgentID: agentID}

	// Observe + goal refresh + command pickup under one transaction.
	var obs *Observation
	var goalBlock string
	var cmd *store.AgentCommand
	err := p.store.WithTxRetry(func(tx *sqlx.Tx) error {
		var err error
		obs, err = observe(tx, agentID)
		if err != nil {
			return err
		}
		townID := ""
		if obs.Town != nil {
			townID = obs.Town.ID
		}
		gs, err := p.goals.Refresh(tx, obs.Agent, townID, tick)
		if err != nil {
			return err
		}
		goalBlock = goals.PromptBlock(gs)

		cmd, err = p.commands.AcceptNext(tx, agentID, tick)
		if errors.Is(err, store.ErrNotFound) {
			cmd, err = nil, nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !obs.Agent.IsActive {
		return nil, fmt.Errorf("agent %s is inactive", agentID)
	}

	decision := p.decide(ctx, obs, goalBlock, cmd, tick, res)
	res.Action = decision.Action
	res.Narrative = decision.Narrative
	if cmd != nil {
		res.CommandID = cmd.ID
	}

	p.validateAndExecute(ctx, obs, decision, res)

	if err := p.remember(obs, decision, cmd, res, tick); err != nil {
		log.Printf("[Agent] memory step failed for %s: %v", agentID, err)
	}
	return res, nil
}

// validateAndExecute is the shared validate/charge/execute tail of a
// tick, used by both the internal loop and the external-agent path so
// the rules cannot drift apart.
func (p *Pipeline) validateAndExecute(ctx context.Context, obs *Observation, d Decision, res *TickResult) {
	if reason := p.validate(obs, d); reason != "" {
		res.Blocked = reason
	} else if err := p.chargeInference(obs.Agent, d.Action); err != nil {
		res.Blocked = BlockedInferenceCost
	} else if err := p.execute(ctx, obs, d, res.Tick); err != nil {
		res.Blocked = err.Error()
		p.refundInference(obs.Agent, d.Action)
	} else {
		res.Success = true
	}
}

// ExecuteExternal runs the validate/execute/remember tail for a decision
// supplied by an externally controlled agent. No model call, no command
// pickup; everything else is identical to an internal tick.
func (p *Pipeline) ExecuteExternal(ctx context.Context, agentID string, d Decision, tick int64) (*TickResult, error) {
	res := &TickResult{Tick: tick, AgentID: agentID, Action: d.Action, Narrative: d.Narrative}

	var obs *Observation
	err := p.store.WithTxRetry(func(tx *sqlx.Tx) error {
		var err error
		obs, err = observe(tx, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !obs.Agent.IsActive {
		return nil, fmt.Errorf("agent %s is inactive", agentID)
	}
	if len(d.Reasoning) > 500 {
		d.Reasoning = d.Reasoning[:500]
	}
	canonicalAction(&d)
	res.Action = d.Action
	if !validAction(d.Action) {
		res.Blocked = "unknown action " + d.Action
	} else {
		p.validateAndExecute(ctx, obs, d, res)
	}

	if err := p.remember(obs, d, nil, res, tick); err != nil {
		log.Printf("[Agent] memory step failed for %s: %v", agentID, err)
	}
	return res, nil
}

// decide picks the tick's action: OVERRIDE commands short-circuit the
// model entirely, otherwise the model proposes and fallbacks cover every
// failure mode.
func (p *Pipeline) decide(ctx context.Context, obs *Observation, goalBlock string, cmd *store.AgentCommand, tick int64, res *TickResult) Decision {
	if cmd != nil && cmd.Mode == store.ModeOverride {
		return decisionFromCommand(cmd)
	}

	d, cost := p.modelDecision(ctx, obs, goalBlock, cmd)
	res.CostCents = cost
	if cost > 0 {
		if err := store.RecordAgentCost(p.store.DB(), obs.Agent.ID, cost); err != nil {
			log.Printf("[Agent] cost record failed for %s: %v", obs.Agent.ID, err)
		}
	}
	if d != nil {
		canonicalAction(d)
		if validAction(d.Action) {
			return *d
		}
	}
	var fb Decision
	if json.Unmarshal([]byte(llm.FallbackDecision(obs.Agent.Archetype, tick)), &fb) != nil || !validAction(fb.Action) {
		fb = Decision{Action: "rest", Reasoning: "fallback"}
	}
	return fb
}

// decisionFromCommand materializes a command intent as a decision.
func decisionFromCommand(cmd *store.AgentCommand) Decision {
	action := cmd.Intent
	if mapped, ok := crewIntentAction[action]; ok {
		action = mapped
	}
	var params map[string]interface{}
	json.Unmarshal([]byte(cmd.Params), &params)
	d := Decision{
		Action:    action,
		Params:    params,
		Reasoning: fmt.Sprintf("%s command from %s", cmd.Mode, cmd.IssuerType),
		Narrative: "Follows the order without argument.",
	}
	canonicalAction(&d)
	return d
}

func validAction(a string) bool {
	for _, c := range actionCatalog {
		if a == c {
			return true
		}
	}
	_, crew := crewIntentAction[a]
	return crew
}

func (p *Pipeline) modelDecision(ctx context.Context, obs *Observation, goalBlock string, cmd *store.AgentCommand) (*Decision, int64) {
	if p.llm == nil {
		return nil, 0
	}

	var b strings.Builder
	b.WriteString(obs.promptText())
	if goalBlock != "" {
		b.WriteString("Your goals:\n" + goalBlock)
	}
	if cmd != nil {
		fmt.Fprintf(&b, "An operator %s you: %s %s\n", strings.ToLower(cmd.Mode), cmd.Intent, cmd.Params)
	}
	if obs.Agent.Scratchpad != "" {
		b.WriteString("Your notes:\n" + obs.Agent.Scratchpad + "\n")
	}
	fmt.Fprintf(&b, "Pick one action from: %s.\n", strings.Join(actionCatalog, ", "))
	b.WriteString(`Reply with JSON: {"action": "...", "params": {}, "reasoning": "...", "narrative": "..."}`)

	callCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	resp, err := p.llm.Call(callCtx, llm.Request{
		Model:       p.model,
		Prompt:      b.String(),
		MaxTokens:   500,
		Temperature: 0.8,
		JSONMode:    true,
	})
	if err != nil {
		if !errors.Is(err, llm.ErrThrottled) {
			log.Printf("[Agent] llm call failed for %s: %v", obs.Agent.Name, err)
		}
		return nil, 0
	}
	cost := llm.CalculateCost(p.model, resp.InputTokens, resp.OutputTokens)

	repaired, err := llm.RepairJSON(resp.Content)
	if err != nil {
		return nil, cost
	}
	var d Decision
	if json.Unmarshal([]byte(repaired), &d) != nil {
		return nil, cost
	}
	if len(d.Reasoning) > 500 {
		d.Reasoning = d.Reasoning[:500]
	}
	return &d, cost
}

// validate checks static preconditions. An empty string means the action
// may proceed; anything else is the blocked reason.
func (p *Pipeline) validate(obs *Observation, d Decision) string {
	a := obs.Agent
	switch d.Action {
	case "claim_plot":
		if obs.Town == nil {
			return "no active town"
		}
		if len(obs.OpenPlots) == 0 {
			return "no open plots"
		}
		if a.Bankroll < towns.ClaimCost {
			return "cannot afford a plot claim"
		}
	case "start_build":
		if obs.Town == nil {
			return "no active town"
		}
		if !ownsPlotWithStatus(obs, store.PlotClaimed) {
			return "no claimed plot to build on"
		}
		if a.Bankroll < towns.BuildCost {
			return "cannot afford to start a build"
		}
	case "do_work", "complete_build":
		if obs.Town == nil {
			return "no active town"
		}
		if !ownsPlotWithStatus(obs, store.PlotUnderConstruction) {
			return "no build in progress"
		}
	case "play_arena":
		if a.IsInMatch {
			return "already in a match"
		}
		if a.Bankroll < arena.MinWager {
			return "bankroll below the minimum wager"
		}
		if len(obs.Peers) == 0 {
			return "nobody around to challenge"
		}
	case "trade":
		if obs.Town == nil {
			return "no active town"
		}
		if len(obs.Peers) == 0 {
			return "nobody around to trade with"
		}
	case "buy_arena":
		amount := paramInt(d.Params, "amount", 0)
		if amount <= 0 {
			return "swap needs a positive amount"
		}
		if a.ReserveBalance < amount {
			return "reserve below swap amount"
		}
	case "sell_arena":
		amount := paramInt(d.Params, "amount", 0)
		if amount <= 0 {
			return "swap needs a positive amount"
		}
		if a.Bankroll < amount {
			return "bankroll below swap amount"
		}
	case "transfer_arena":
		amount := paramInt(d.Params, "amount", 0)
		if amount <= 0 {
			return "transfer needs a positive amount"
		}
		if a.Bankroll < amount {
			return "bankroll below transfer amount"
		}
		if paramString(d.Params, "target", "") == "" {
			return "transfer needs a target"
		}
	case "buy_skill":
		if a.Bankroll < skillCost {
			return "cannot afford skill training"
		}
	case "rest":
	default:
		return "unknown action " + d.Action
	}
	return ""
}

// chargeInference debits the flat per-action token from external agents.
func (p *Pipeline) chargeInference(a *store.Agent, action string) error {
	if !a.IsExternal || action == "rest" {
		return nil
	}
	return store.AdjustBankroll(p.store.DB(), a.ID, -inferenceCost)
}

// refundInference returns the per-action token when execution fails
// after the charge, so failed actions bill nothing.
func (p *Pipeline) refundInference(a *store.Agent, action string) {
	if !a.IsExternal || action == "rest" {
		return
	}
	if err := store.AdjustBankroll(p.store.DB(), a.ID, inferenceCost); err != nil {
		log.Printf("[Agent] inference refund failed for %s: %v", a.ID, err)
	}
}

// execute routes the validated action to its domain service. Each service
// owns its own transactional boundary.
func (p *Pipeline) execute(ctx context.Context, obs *Observation, d Decision, tick int64) error {
	a := obs.Agent
	switch d.Action {
	case "claim_plot":
		idx := paramInt(d.Params, "plotIndex", -1)
		if idx < 0 && len(obs.OpenPlots) > 0 {
			idx = int64(obs.OpenPlots[0])
		}
		return p.store.WithTxRetry(func(tx *sqlx.Tx) error {
			_, err := p.towns.Claim(tx, a.ID, obs.Town.ID, int(idx))
			return err
		})
	case "start_build":
		idx := ownedPlotIndex(obs, store.PlotClaimed)
		bt := paramString(d.Params, "buildingType", "house")
		name := paramString(d.Params, "buildingName", a.Name+"'s place")
		return p.store.WithTxRetry(func(tx *sqlx.Tx) error {
			_, err := p.towns.StartBuild(tx, a.ID, obs.Town.ID, idx, bt, name)
			return err
		})
	case "do_work":
		idx := ownedPlotIndex(obs, store.PlotUnderConstruction)
		return p.store.WithTxRetry(func(tx *sqlx.Tx) error {
			_, err := p.towns.DoWork(tx, a.ID, obs.Town.ID, idx)
			return err
		})
	case "complete_build":
		idx := ownedPlotIndex(obs, store.PlotUnderConstruction)
		return p.store.WithTxRetry(func(tx *sqlx.Tx) error {
			_, err := p.towns.CompleteBuild(tx, a.ID, obs.Town.ID, idx)
			return err
		})
	case "play_arena":
		opp := paramString(d.Params, "opponent", "")
		if opp == "" {
			opp = pickOpponent(obs)
		}
		wager := paramInt(d.Params, "wager", defaultWager)
		if wager > a.Bankroll {
			wager = a.Bankroll
		}
		if wager < arena.MinWager {
			wager = arena.MinWager
		}
		game := paramString(d.Params, "game", games.TypeRPS)
		_, err := p.arena.CreateMatch(a.ID, opp, game, wager)
		return err
	case "trade":
		target := paramString(d.Params, "target", "")
		if target == "" {
			target = obs.Peers[rand.Intn(len(obs.Peers))].ID
		}
		_, err := p.chat.Converse(ctx, obs.Town.ID, a.ID, target)
		return err
	case "buy_arena":
		_, err := p.economy.Swap(a.ID, store.SideBuyArena, paramInt(d.Params, "amount", 0), economy.SwapOpts{})
		return err
	case "sell_arena":
		_, err := p.economy.Swap(a.ID, store.SideSellArena, paramInt(d.Params, "amount", 0), economy.SwapOpts{})
		return err
	case "transfer_arena":
		rcpt, err := p.resolveAgent(paramString(d.Params, "target", ""))
		if err != nil {
			return err
		}
		return p.economy.Transfer(a.ID, rcpt.ID, paramInt(d.Params, "amount", 0))
	case "buy_skill":
		skill := paramString(d.Params, "skill", "nerve")
		risk, wagerPct, err := trainedProfile(a, skill)
		if err != nil {
			return err
		}
		return p.store.WithTxRetry(func(tx *sqlx.Tx) error {
			if err := store.AdjustBankroll(tx, a.ID, -skillCost); err != nil {
				return err
			}
			if err := economy.CreditArenaFees(tx, skillCost, "skill training"); err != nil {
				return err
			}
			return store.SetRiskProfile(tx, a.ID, risk, wagerPct)
		})
	case "rest":
		return store.AdjustHealth(p.store.DB(), a.ID, restHealthGain)
	}
	return fmt.Errorf("unroutable action %s", d.Action)
}

// remember runs the memory step: scratchpad, last-action fields, the
// decision event, and command/crew-order bookkeeping.
func (p *Pipeline) remember(obs *Observation, d Decision, cmd *store.AgentCommand, res *TickResult, tick int64) error {
	line := fmt.Sprintf("T%d: %s", tick, d.Action)
	if res.Blocked != "" {
		line += " (blocked: " + res.Blocked + ")"
	}
	pad := appendScratchpad(obs.Agent.Scratchpad, line)

	var targetPlot sql.NullInt64
	if idx := paramInt(d.Params, "plotIndex", -1); idx >= 0 {
		targetPlot = sql.NullInt64{Int64: idx, Valid: true}
	}

	return p.store.WithTxRetry(func(tx *sqlx.Tx) error {
		if err := store.UpdateAgentMemory(tx, obs.Agent.ID, pad, d.Action, d.Reasoning,
			d.Narrative, targetPlot, tick); err != nil {
			return err
		}

		if obs.Town != nil {
			meta, _ := json.Marshal(map[string]interface{}{
				"decision": map[string]interface{}{
					"chosenAction":      d.Action,
					"executedAction":    res.Action,
					"executedReasoning": d.Reasoning,
					"success":           res.Success,
					"blocked":           res.Blocked,
				},
			})
			if err := store.AppendEvent(tx, &store.TownEvent{
				TownID:    obs.Town.ID,
				Kind:      store.EventCustom,
				AgentID:   obs.Agent.ID,
				Message:   fmt.Sprintf("%s: %s", obs.Agent.Name, d.Action),
				Metadata:  string(meta),
				CreatedMs: time.Now().UnixMilli(),
			}); err != nil {
				return err
			}
		}

		if cmd != nil {
			if res.Success {
				if err := p.commands.MarkExecuted(tx, cmd.ID, d.Action); err != nil {
					return err
				}
				if strings.HasPrefix(cmd.Intent, "crew_") {
					if err := p.crews.OrderDone(tx, cmd.ID); err != nil {
						return err
					}
				}
			} else {
				if err := p.commands.MarkRejected(tx, cmd.ID, res.Blocked); err != nil {
					return err
				}
				if strings.HasPrefix(cmd.Intent, "crew_") {
					if err := p.crews.OrderDropped(tx, cmd.ID); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

// appendScratchpad keeps the last scratchpadLines trimmed lines.
func appendScratchpad(pad, line string) string {
	lines := strings.Split(pad, "\n")
	lines = append(lines, line)
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimSpace(l))
		}
	}
	if len(kept) > scratchpadLines {
		kept = kept[len(kept)-scratchpadLines:]
	}
	return strings.Join(kept, "\n")
}

func ownsPlotWithStatus(obs *Observation, status string) bool {
	return ownedPlotIndex(obs, status) >= 0
}

// ownedPlotIndex returns the first owned plot in the given status, -1
// when none.
func ownedPlotIndex(obs *Observation, status string) int {
	for _, p := range obs.OwnPlots {
		if p.Status == status {
			return p.PlotIndex
		}
	}
	return -1
}

// resolveAgent accepts an agent id or a display name.
func (p *Pipeline) resolveAgent(ref string) (*store.Agent, error) {
	a, err := store.GetAgent(p.store.DB(), ref)
	if errors.Is(err, store.ErrNotFound) {
		return store.GetAgentByName(p.store.DB(), ref)
	}
	return a, err
}

// trainedProfile applies one skill lesson to the agent's play-style
// ratios. Results stay inside the documented bounds: risk tolerance in
// [0.05,0.95] and the wager cap in [0.05,0.6].
func trainedProfile(a *store.Agent, skill string) (risk, maxWager float64, err error) {
	risk, maxWager = a.RiskTolerance, a.MaxWagerPct
	switch skill {
	case "nerve":
		risk += 0.05
	case "discipline":
		risk -= 0.05
	case "staking":
		maxWager += 0.05
	default:
		return 0, 0, fmt.Errorf("unknown skill %q", skill)
	}
	risk = clampFloat(risk, 0.05, 0.95)
	maxWager = clampFloat(maxWager, 0.05, 0.6)
	return risk, maxWager, nil
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pickOpponent(obs *Observation) string {
	for _, p := range obs.Peers {
		if !p.IsInMatch && p.Bankroll >= arena.MinWager {
			return p.ID
		}
	}
	return ""
}

func paramInt(params map[string]interface{}, key string, def int64) int64 {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}
	return def
}

func paramString(params map[string]interface{}, key, def string) string {
	if params == nil {
		return def
	}
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}
