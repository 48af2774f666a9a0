// Package games holds the match engines. Every engine is a pure state
// machine over a JSON-serialized state blob; the arena owns persistence,
// wagers and settlement.
package games

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Game types.
const (
	TypeRPS          = "RPS"
	TypePoker        = "POKER"
	TypeBattleship   = "BATTLESHIP"
	TypeSplitOrSteal = "SPLIT_OR_STEAL"
)

// DrawWinner is the Winner sentinel for a drawn game.
const DrawWinner = "DRAW"

var (
	ErrUnknownGame   = errors.New("unknown game type")
	ErrInvalidAction = errors.New("invalid action")
	ErrNotYourTurn   = errors.New("not your turn")
	ErrGameComplete  = errors.New("game already complete")
)

// Engine is one game's rules. State blobs are opaque to callers and only
// meaningful to the engine that produced them.
type Engine interface {
	Name() string

	// Init creates the opening state. The seed drives every random
	// element so replays are deterministic.
	Init(p1, p2 string, seed int64) (json.RawMessage, error)

	// ProcessAction applies one player action and returns the new state.
	ProcessAction(state json.RawMessage, player, action string) (json.RawMessage, error)

	// ValidActions lists what the player may do right now. Empty when it
	// is not their turn or the game is over.
	ValidActions(state json.RawMessage, player string) ([]string, error)

	// CurrentTurn returns the player to act, or "" for simultaneous-move
	// phases and finished games.
	CurrentTurn(state json.RawMessage) (string, error)

	// IsComplete reports whether the game reached a terminal state.
	IsComplete(state json.RawMessage) (bool, error)

	// Winner returns the winning player id, DrawWinner, or "" while the
	// game is still running.
	Winner(state json.RawMessage) (string, error)

	// View redacts the state for one viewer: hidden hands, unhit ship
	// positions and pending simultaneous choices never leave the server.
	// viewer == "" produces the spectator view.
	View(state json.RawMessage, viewer string) (json.RawMessage, error)
}

var engines = map[string]Engine{}

func register(e Engine) {
	engines[e.Name()] = e
}

// Get returns the engine for a game type.
func Get(gameType string) (Engine, error) {
	e, ok := engines[gameType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, gameType)
	}
	return e, nil
}

// Types lists every registered game type.
func Types() []string {
	out := make([]string, 0, len(engines))
	for k := range engines {
		out = append(out, k)
	}
	return out
}
