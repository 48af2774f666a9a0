package games

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRegistryHasAllGames(t *testing.T) {
	for _, typ := range []string{TypeRPS, TypePoker, TypeBattleship, TypeSplitOrSteal} {
		if _, err := Get(typ); err != nil {
			t.Errorf("Get(%s): %v", typ, err)
		}
	}
	if _, err := Get("CHESS"); !errors.Is(err, ErrUnknownGame) {
		t.Errorf("Get(CHESS): got %v, want ErrUnknownGame", err)
	}
}

func TestRPSBestOfThree(t *testing.T) {
	e, _ := Get(TypeRPS)
	state, err := e.Init("a", "b", 42)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	play := func(p1, p2 string) {
		t.Helper()
		state, err = e.ProcessAction(state, "a", p1)
		if err != nil {
			t.Fatalf("a plays %s: %v", p1, err)
		}
		state, err = e.ProcessAction(state, "b", p2)
		if err != nil {
			t.Fatalf("b plays %s: %v", p2, err)
		}
	}

	play("rock", "scissors") // a
	if done, _ := e.IsComplete(state); done {
		t.Fatal("complete after one round")
	}
	play("paper", "rock") // a again, 2-0

	done, _ := e.IsComplete(state)
	if !done {
		t.Fatal("not complete at 2-0")
	}
	if w, _ := e.Winner(state); w != "a" {
		t.Errorf("winner = %s, want a", w)
	}
}

func TestRPSInvalidChoiceRandomized(t *testing.T) {
	e, _ := Get(TypeRPS)
	state, _ := e.Init("a", "b", 7)

	state, err := e.ProcessAction(state, "a", "dynamite")
	if err != nil {
		t.Fatalf("invalid choice should be randomized, got %v", err)
	}
	var s rpsState
	json.Unmarshal(state, &s)
	ok := false
	for _, c := range rpsChoices {
		if s.Pending[0] == c {
			ok = true
		}
	}
	if !ok {
		t.Errorf("pending = %q, want a real choice", s.Pending[0])
	}
}

func TestRPSDrawAtRoundCap(t *testing.T) {
	e, _ := Get(TypeRPS)
	state, _ := e.Init("a", "b", 1)

	for i := 0; i < rpsMaxRounds; i++ {
		state, _ = e.ProcessAction(state, "a", "rock")
		var err error
		state, err = e.ProcessAction(state, "b", "rock")
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}
	done, _ := e.IsComplete(state)
	if !done {
		t.Fatal("not complete at round cap")
	}
	if w, _ := e.Winner(state); w != DrawWinner {
		t.Errorf("winner = %s, want DRAW", w)
	}
}

func TestRPSViewHidesPending(t *testing.T) {
	e, _ := Get(TypeRPS)
	state, _ := e.Init("a", "b", 9)
	state, _ = e.ProcessAction(state, "a", "rock")

	view, err := e.View(state, "b")
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if strings.Contains(string(view), `"rock"`) {
		t.Error("opponent's pending choice leaked into the view")
	}
	if !strings.Contains(string(view), "submitted") {
		t.Error("view should show the choice landed")
	}
}

func TestSplitOrSteal(t *testing.T) {
	e, _ := Get(TypeSplitOrSteal)

	cases := []struct {
		a, b, want string
	}{
		{"split", "split", DrawWinner},
		{"steal", "split", "a"},
		{"split", "steal", "b"},
		{"steal", "steal", DrawWinner},
		{"banana", "steal", "b"}, // junk defaults to split
	}
	for _, tc := range cases {
		state, _ := e.Init("a", "b", 0)
		state, _ = e.ProcessAction(state, "a", tc.a)
		state, err := e.ProcessAction(state, "b", tc.b)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.a, tc.b, err)
		}
		if w, _ := e.Winner(state); w != tc.want {
			t.Errorf("%s vs %s: winner = %s, want %s", tc.a, tc.b, w, tc.want)
		}
	}
}

func TestBattleshipForfeitsBadShots(t *testing.T) {
	e, _ := Get(TypeBattleship)
	state, _ := e.Init("a", "b", 99)

	turn, _ := e.CurrentTurn(state)
	if turn != "a" {
		t.Fatalf("opening turn = %s, want a", turn)
	}

	// Out-of-range shot forfeits the turn but is not an error.
	state, err := e.ProcessAction(state, "a", "fire 42,42")
	if err != nil {
		t.Fatalf("out-of-range shot: %v", err)
	}
	turn, _ = e.CurrentTurn(state)
	if turn != "b" {
		t.Errorf("turn after forfeit = %s, want b", turn)
	}

	// Playing out of turn is an error.
	if _, err := e.ProcessAction(state, "a", "fire 0,0"); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("out of turn: got %v, want ErrNotYourTurn", err)
	}

	state, _ = e.ProcessAction(state, "b", "fire 0,0")
	// Repeating the same cell forfeits.
	state, _ = e.ProcessAction(state, "a", "fire 3,3")
	state, err = e.ProcessAction(state, "b", "fire 0,0")
	if err != nil {
		t.Fatalf("repeat shot: %v", err)
	}
	turn, _ = e.CurrentTurn(state)
	if turn != "a" {
		t.Errorf("turn after repeat forfeit = %s, want a", turn)
	}
}

func TestBattleshipSinkEverything(t *testing.T) {
	e, _ := Get(TypeBattleship)
	state, _ := e.Init("a", "b", 5)

	// Player a rakes the whole grid; b wastes every turn on 0,0. 17 ship
	// cells across 100 shots ends it well inside the sweep.
	coords := make([]string, 0, 100)
	for r := 0; r < bsGrid; r++ {
		for c := 0; c < bsGrid; c++ {
			coords = append(coords, fmt.Sprintf("fire %d,%d", r, c))
		}
	}
	var err error
	for _, shot := range coords {
		if done, _ := e.IsComplete(state); done {
			break
		}
		state, err = e.ProcessAction(state, "a", shot)
		if err != nil {
			t.Fatalf("a %s: %v", shot, err)
		}
		if done, _ := e.IsComplete(state); done {
			break
		}
		state, err = e.ProcessAction(state, "b", "fire 0,0")
		if err != nil {
			t.Fatalf("b: %v", err)
		}
	}
	done, _ := e.IsComplete(state)
	if !done {
		t.Fatal("sweep did not finish the game")
	}
	if w, _ := e.Winner(state); w != "a" {
		t.Errorf("winner = %s, want a", w)
	}
}

func TestBattleshipViewHidesShips(t *testing.T) {
	e, _ := Get(TypeBattleship)
	state, _ := e.Init("a", "b", 5)

	view, err := e.View(state, "a")
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if strings.Contains(string(view), `"ships"`) || strings.Contains(string(view), `"cells"`) {
		t.Error("ship placement leaked into the view")
	}
}

func TestEvaluator(t *testing.T) {
	// Card encoding: rank = c%13 (0 is deuce), suit = c/13.
	card := func(rank, suit int) int { return suit*13 + rank }

	flush := []int{card(0, 0), card(3, 0), card(5, 0), card(7, 0), card(9, 0)}
	straight := []int{card(0, 0), card(1, 1), card(2, 2), card(3, 3), card(4, 0)}
	pairAces := []int{card(12, 0), card(12, 1), card(2, 2), card(5, 3), card(9, 0)}
	pairKings := []int{card(11, 0), card(11, 1), card(2, 2), card(5, 3), card(9, 0)}
	wheel := []int{card(12, 0), card(0, 1), card(1, 2), card(2, 3), card(3, 0)}
	sixHigh := []int{card(0, 0), card(1, 1), card(2, 2), card(3, 3), card(4, 0)} // also a straight

	if evaluate5(flush) <= evaluate5(straight) {
		t.Error("flush should beat straight")
	}
	if evaluate5(pairAces) <= evaluate5(pairKings) {
		t.Error("aces should beat kings")
	}
	if evaluate5(wheel)>>20 != handStraight {
		t.Error("wheel not scored as a straight")
	}
	if evaluate5(wheel) >= evaluate5(sixHigh) {
		t.Error("wheel should lose to a six-high straight")
	}
}

func TestPokerHandFlow(t *testing.T) {
	e, _ := Get(TypePoker)
	state, err := e.Init("a", "b", 42)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	var s pokerState
	json.Unmarshal(state, &s)
	if s.Chips[0]+s.Chips[1]+s.Pot != 2*pokerStartChips {
		t.Fatalf("chips do not sum: %d + %d + %d", s.Chips[0], s.Chips[1], s.Pot)
	}
	if s.Street != streetPreflop {
		t.Fatalf("street = %s", s.Street)
	}

	// Button (player 0 on hand 1) opens; fold hands back and forth until
	// the cap. Chips must always conserve.
	for {
		done, _ := e.IsComplete(state)
		if done {
			break
		}
		turn, _ := e.CurrentTurn(state)
		state, err = e.ProcessAction(state, turn, "fold")
		if err != nil {
			t.Fatalf("fold: %v", err)
		}
		json.Unmarshal(state, &s)
		if s.Chips[0]+s.Chips[1]+s.Pot != 2*pokerStartChips {
			t.Fatalf("chips leaked: %d + %d + %d", s.Chips[0], s.Chips[1], s.Pot)
		}
	}

	json.Unmarshal(state, &s)
	if s.HandNum > s.MaxHands {
		t.Errorf("played %d hands with cap %d", s.HandNum, s.MaxHands)
	}
	w, _ := e.Winner(state)
	if w == "" {
		t.Error("no winner set on completion")
	}
}

func TestPokerAllInRunout(t *testing.T) {
	e, _ := Get(TypePoker)
	state, _ := e.Init("a", "b", 7)

	turn, _ := e.CurrentTurn(state)
	state, err := e.ProcessAction(state, turn, "all-in")
	if err != nil {
		t.Fatalf("all-in: %v", err)
	}
	var s pokerState
	json.Unmarshal(state, &s)
	other := s.Players[s.ToAct]
	state, err = e.ProcessAction(state, other, "call")
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	json.Unmarshal(state, &s)
	// The all-in hand ran out to a showdown; either the match ended on a
	// bust or a new hand started with all chips accounted for.
	if s.Chips[0]+s.Chips[1]+s.Pot != 2*pokerStartChips {
		t.Fatalf("chips leaked: %+v", s.Chips)
	}
	if !s.Complete && len(s.Board) > 0 && s.Street == streetPreflop {
		t.Errorf("inconsistent state after runout: street=%s board=%v", s.Street, s.Board)
	}
}

func TestPokerNormalization(t *testing.T) {
	e, _ := Get(TypePoker)
	state, _ := e.Init("a", "b", 42)

	var s pokerState
	json.Unmarshal(state, &s)
	opener := s.Players[s.ToAct]

	if got := NormalizePokerAction(state, opener, "allin"); got != "all-in" {
		t.Errorf("allin -> %q", got)
	}
	if got := NormalizePokerAction(state, opener, "bet 100"); got != "raise 100" {
		t.Errorf("bet 100 -> %q", got)
	}
	// Preflop the small blind faces a live bet, so check becomes call.
	if got := NormalizePokerAction(state, opener, "check"); got != "call" {
		t.Errorf("check facing bet -> %q", got)
	}

	// Open-limp, then the big blind has nothing to call.
	state, err := e.ProcessAction(state, opener, "call")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	json.Unmarshal(state, &s)
	bb := s.Players[s.ToAct]
	if got := NormalizePokerAction(state, bb, "call"); got != "check" {
		t.Errorf("call with nothing owed -> %q", got)
	}
}

func TestPokerViewHidesOpponentCards(t *testing.T) {
	e, _ := Get(TypePoker)
	state, _ := e.Init("a", "b", 42)

	var s pokerState
	json.Unmarshal(state, &s)
	oppCards := cardStrings(s.Hole[1])

	view, _ := e.View(state, "a")
	for _, c := range oppCards {
		if strings.Contains(string(view), `"`+c+`"`) {
			// A board card could coincide preflop there is no board, so
			// any match is a leak.
			t.Errorf("opponent card %s leaked", c)
		}
	}
	if strings.Contains(string(view), `"deck"`) {
		t.Error("deck leaked into view")
	}
}
