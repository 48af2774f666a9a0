// Package extagent maps bearer tokens to agents and routes externally
// controlled actions through the same validation and execution path the
// internal tick uses.
package extagent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"town/internal/agent"
	"town/internal/store"
)

var (
	ErrBadToken    = errors.New("invalid or unknown access token")
	ErrBadName     = errors.New("agent name must be 1..20 characters")
	ErrBadArchtype = errors.New("unknown archetype")
	ErrNameTaken   = errors.New("agent name is taken")
)

// Starting values. System agents are the house roster and fund their
// swaps from a deep reserve; user-spawned agents start small.
const (
	systemReserve = 10_000
	userBankroll  = 50
	userReserve   = 100

	startElo = 1500
)

// riskProfile returns the starting play-style ratios for an archetype.
// Risk tolerance stays inside [0.05,0.95] and the wager cap inside
// [0.05,0.6].
func riskProfile(archetype string) (risk, maxWager float64) {
	switch archetype {
	case store.ArchetypeShark:
		return 0.70, 0.40
	case store.ArchetypeRock:
		return 0.20, 0.15
	case store.ArchetypeDegen:
		return 0.90, 0.60
	case store.ArchetypeGrinder:
		return 0.35, 0.20
	default: // CHAMELEON
		return 0.50, 0.25
	}
}

// Adapter authenticates external agents and executes their actions.
type Adapter struct {
	store    *store.Store
	pipeline *agent.Pipeline

	// AllowLegacyAPIKeys accepts bare keys without the agent-id prefix.
	// Slower (scans external agents) and off by default.
	AllowLegacyAPIKeys bool
}

func NewAdapter(st *store.Store, p *agent.Pipeline) *Adapter {
	return &Adapter{store: st, pipeline: p}
}

// Registration is what a successful Register returns. AccessToken is
// shown exactly once; only its hash is stored.
type Registration struct {
	AgentID        string `json:"agentId"`
	AccessToken    string `json:"accessToken"`
	Bankroll       int64  `json:"bankroll"`
	ReserveBalance int64  `json:"reserveBalance"`
}

// RegisterOpts shapes a new agent.
type RegisterOpts struct {
	Name      string
	Archetype string // empty = derived from the name
	Model     string
	Wallet    string
	System    bool // house agent rather than user-spawned
}

// Register creates an external agent and issues its access token.
func (ad *Adapter) Register(opts RegisterOpts) (*Registration, error) {
	name := strings.TrimSpace(opts.Name)
	if len(name) < 1 || len(name) > 20 {
		return nil, ErrBadName
	}
	archetype := opts.Archetype
	if archetype == "" {
		archetype = deriveArchetype(name)
	}
	if !validArchetype(archetype) {
		return nil, fmt.Errorf("%w: %q", ErrBadArchtype, opts.Archetype)
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	risk, maxWager := riskProfile(archetype)
	a := &store.Agent{
		ID:            uuid.NewString(),
		Name:          name,
		OwnerWallet:   opts.Wallet,
		APIKeyHash:    string(hash),
		Archetype:     archetype,
		Model:         opts.Model,
		Health:        100,
		Elo:           startElo,
		RiskTolerance: risk,
		MaxWagerPct:   maxWager,
		IsActive:      true,
		IsExternal:    true,
	}
	if opts.System {
		a.ReserveBalance = systemReserve
	} else {
		a.Bankroll = userBankroll
		a.ReserveBalance = userReserve
	}

	if err := store.CreateAgent(ad.store.DB(), a); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrNameTaken
		}
		return nil, err
	}
	log.Printf("[ExtAgent] registered %s (%s, external)", a.Name, archetype)
	return &Registration{
		AgentID:        a.ID,
		AccessToken:    a.ID + "." + secret,
		Bankroll:       a.Bankroll,
		ReserveBalance: a.ReserveBalance,
	}, nil
}

// Authenticate resolves a bearer token to an agent id. Tokens are
// "<agentId>.<secret>"; legacy bare keys are accepted only when
// explicitly enabled.
func (ad *Adapter) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrBadToken
	}

	if id, secret, ok := strings.Cut(token, "."); ok {
		a, err := store.GetAgent(ad.store.DB(), id)
		if err != nil || a.APIKeyHash == "" {
			return "", ErrBadToken
		}
		if bcrypt.CompareHashAndPassword([]byte(a.APIKeyHash), []byte(secret)) != nil {
			return "", ErrBadToken
		}
		return a.ID, nil
	}

	if !ad.AllowLegacyAPIKeys {
		return "", ErrBadToken
	}
	// Legacy keys carry no agent id, so the lookup is a scan.
	agents, err := store.ListActiveAgents(ad.store.DB(), 0)
	if err != nil {
		return "", err
	}
	for i := range agents {
		a := &agents[i]
		if !a.IsExternal || a.APIKeyHash == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(a.APIKeyHash), []byte(token)) == nil {
			return a.ID, nil
		}
	}
	return "", ErrBadToken
}

// ActRequest is an externally supplied action.
type ActRequest struct {
	Type      string                 `json:"type"`
	Reasoning string                 `json:"reasoning"`
	Details   map[string]interface{} `json:"details"`
}

// Act executes one external action through the shared tick tail. The
// same validation, inference-cost debit and memory updates apply as for
// internal agents.
func (ad *Adapter) Act(ctx context.Context, agentID string, req ActRequest, tick int64) (*agent.TickResult, error) {
	d := agent.Decision{
		Action:    req.Type,
		Params:    req.Details,
		Reasoning: req.Reasoning,
	}
	return ad.pipeline.ExecuteExternal(ctx, agentID, d, tick)
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func validArchetype(a string) bool {
	for _, v := range store.Archetypes {
		if v == a {
			return true
		}
	}
	return false
}

// deriveArchetype assigns a stable archetype from the name so repeat
// registrations with the same name land in the same crew.
func deriveArchetype(name string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(name)))
	return store.Archetypes[int(h.Sum32())%len(store.Archetypes)]
}
