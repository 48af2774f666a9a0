package arena

import (
	"database/sql"
	"log"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"town/internal/economy"
	"town/internal/games"
	"town/internal/social"
	"town/internal/store"
)

const (
	eloK     = 32
	eloFloor = 100
)

// newElos returns updated ratings. outcome is the score for a: 1 win,
// 0 loss, 0.5 draw.
func newElos(a, b int, outcome float64) (int, int) {
	expA := 1.0 / (1.0 + math.Pow(10, float64(b-a)/400.0))
	na := a + int(math.Round(eloK*(outcome-expA)))
	nb := b + int(math.Round(eloK*((1.0-outcome)-(1.0-expA))))
	if na < eloFloor {
		na = eloFloor
	}
	if nb < eloFloor {
		nb = eloFloor
	}
	return na, nb
}

// resolve settles a finished match inside the caller's transaction:
// rake to the pool, full payout to the winner followed by the backer
// yield transfer, refunds on a draw, Elo and the pairwise records for
// both players.
func (s *Service) resolve(tx *sqlx.Tx, m *store.Match, winner string) error {
	p1, p2 := m.Player1ID, m.Player2ID.String
	now := time.Now()

	rake := 2 * m.WagerAmount * rakeBps / 10000
	m.RakeAmount = rake

	a1, err := store.GetAgent(tx, p1)
	if err != nil {
		return err
	}
	a2, err := store.GetAgent(tx, p2)
	if err != nil {
		return err
	}

	switch winner {
	case games.DrawWinner, "":
		// Each side gets its wager back minus half the rake; the floored
		// halves mean a draw can rake one token less than a win.
		refund := m.WagerAmount - rake/2
		m.RakeAmount = 2 * (rake / 2)
		if err := store.AdjustBankroll(tx, p1, refund); err != nil {
			return err
		}
		if err := store.AdjustBankroll(tx, p2, refund); err != nil {
			return err
		}
		m.IsDraw = true
		e1, e2 := newElos(a1.Elo, a2.Elo, 0.5)
		if err := store.SetElo(tx, p1, e1); err != nil {
			return err
		}
		if err := store.SetElo(tx, p2, e2); err != nil {
			return err
		}
		for _, rec := range []struct{ a, b string }{{p1, p2}, {p2, p1}} {
			if err := store.RecordMatchOutcome(tx, rec.a, "draw", m.WagerAmount, refund); err != nil {
				return err
			}
			if err := store.BumpOpponentRecord(tx, rec.a, rec.b, "draw", now); err != nil {
				return err
			}
		}

	default:
		loser := p2
		winElo, loseElo := a1.Elo, a2.Elo
		if winner == p2 {
			loser = p1
			winElo, loseElo = a2.Elo, a1.Elo
		}
		payout := m.TotalPot - rake

		// Full payout lands in the winner's bankroll; backer yield moves
		// out afterwards as its own ledgered transfer.
		if err := store.AdjustBankroll(tx, winner, payout); err != nil {
			return err
		}
		if _, err := economy.DistributeBackerYield(tx, winner, payout); err != nil {
			return err
		}

		m.WinnerID = sql.NullString{String: winner, Valid: true}
		we, le := newElos(winElo, loseElo, 1)
		if err := store.SetElo(tx, winner, we); err != nil {
			return err
		}
		if err := store.SetElo(tx, loser, le); err != nil {
			return err
		}
		if err := store.RecordMatchOutcome(tx, winner, "win", m.WagerAmount, payout); err != nil {
			return err
		}
		if err := store.RecordMatchOutcome(tx, loser, "loss", m.WagerAmount, 0); err != nil {
			return err
		}
		if err := store.BumpOpponentRecord(tx, winner, loser, "win", now); err != nil {
			return err
		}
		if err := store.BumpOpponentRecord(tx, loser, winner, "loss", now); err != nil {
			return err
		}

		// Losing stings the relationship a little.
		if s.social != nil {
			if _, err := s.social.ApplyInteraction(tx, winner, loser, social.KindBeef, -2); err != nil {
				return err
			}
		}
	}

	if m.RakeAmount > 0 {
		if err := economy.CreditArenaFees(tx, m.RakeAmount, "match rake "+m.ID); err != nil {
			return err
		}
	}

	if err := store.SetAgentMatch(tx, p1, ""); err != nil {
		return err
	}
	if err := store.SetAgentMatch(tx, p2, ""); err != nil {
		return err
	}

	m.Status = store.MatchCompleted
	m.CompletedAt = sql.NullTime{Time: now, Valid: true}
	m.CurrentTurnID = sql.NullString{}
	if err := store.UpdateMatch(tx, m); err != nil {
		return err
	}
	log.Printf("[Arena] match %s resolved: winner=%s pot=%d rake=%d", m.ID, winner, m.TotalPot, m.RakeAmount)
	return nil
}

// afterResolve fires the registered hooks once per match id, each on its
// own goroutine so settlement latency never blocks gameplay.
func (s *Service) afterResolve(matchID string) {
	s.hookMu.Lock()
	if s.hookSeen[matchID] {
		s.hookMu.Unlock()
		return
	}
	s.hookSeen[matchID] = true
	if len(s.hookSeen) > 1000 {
		s.hookSeen = map[string]bool{matchID: true}
	}
	hooks := append([]ResolveHook(nil), s.hooks...)
	s.hookMu.Unlock()

	for _, h := range hooks {
		go func(h ResolveHook) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[Arena] resolve hook panicked for %s: %v", matchID, r)
				}
			}()
			h(matchID)
		}(h)
	}
}
