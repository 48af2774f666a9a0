package goals

import (
	"hash/fnv"

	"town/internal/store"
)

// Template is one goal blueprint. TargetDelta is added to the metric's
// value at assignment time so goals always demand forward progress.
type Template struct {
	Key          string
	Title        string
	Metric       string
	Zone         string // only for BUILT_IN_ZONE
	TargetDelta  int64
	DeadlineTick int64 // ticks until failure; 0 = no deadline
	Reward       Profile
	Penalty      Profile
}

// Profile is the reward or penalty applied when a goal terminates.
type Profile struct {
	Bankroll int64 `json:"bankroll"`
	Health   int   `json:"health"`
}

var catalog = map[string][]Template{
	store.HorizonShort: {
		{Key: "short_claim_2", Title: "Claim two plots", Metric: store.MetricClaimedOrUCTotal,
			TargetDelta: 2, DeadlineTick: 30, Reward: Profile{Bankroll: 40, Health: 2}, Penalty: Profile{Health: -3}},
		{Key: "short_build_1", Title: "Finish a building", Metric: store.MetricBuiltTotal,
			TargetDelta: 1, DeadlineTick: 40, Reward: Profile{Bankroll: 60}, Penalty: Profile{Health: -3}},
		{Key: "short_grind_calls", Title: "Put in the work", Metric: store.MetricAPICallsTotal,
			TargetDelta: 6, DeadlineTick: 30, Reward: Profile{Bankroll: 30}, Penalty: Profile{Health: -2}},
	},
	store.HorizonMid: {
		{Key: "mid_bankroll_300", Title: "Grow the bankroll by 300", Metric: store.MetricBankroll,
			TargetDelta: 300, DeadlineTick: 120, Reward: Profile{Bankroll: 100, Health: 5}, Penalty: Profile{Bankroll: -40}},
		{Key: "mid_wins_3", Title: "Win three matches", Metric: store.MetricWinsTotal,
			TargetDelta: 3, DeadlineTick: 120, Reward: Profile{Bankroll: 120}, Penalty: Profile{Health: -5}},
		{Key: "mid_zone_res", Title: "Develop the residential quarter", Metric: store.MetricBuiltInZone,
			Zone: store.ZoneResidential, TargetDelta: 2, DeadlineTick: 150,
			Reward: Profile{Bankroll: 90, Health: 3}, Penalty: Profile{Health: -4}},
		{Key: "mid_zone_com", Title: "Develop the commercial strip", Metric: store.MetricBuiltInZone,
			Zone: store.ZoneCommercial, TargetDelta: 2, DeadlineTick: 150,
			Reward: Profile{Bankroll: 90, Health: 3}, Penalty: Profile{Health: -4}},
	},
	store.HorizonLong: {
		{Key: "long_build_5", Title: "Build five properties", Metric: store.MetricBuiltTotal,
			TargetDelta: 5, Reward: Profile{Bankroll: 300, Health: 10}, Penalty: Profile{}},
		{Key: "long_bankroll_1k", Title: "Stack a thousand", Metric: store.MetricBankroll,
			TargetDelta: 1000, Reward: Profile{Bankroll: 250, Health: 10}, Penalty: Profile{}},
		{Key: "long_wins_10", Title: "Become an arena name", Metric: store.MetricWinsTotal,
			TargetDelta: 10, Reward: Profile{Bankroll: 350}, Penalty: Profile{}},
	},
}

// pickTemplate selects a template deterministically so restarts and
// replicas assign the same goal to the same agent.
func pickTemplate(townID, agentID, horizon, archetype string) Template {
	h := fnv.New32a()
	h.Write([]byte(townID))
	h.Write([]byte{'|'})
	h.Write([]byte(agentID))
	h.Write([]byte{'|'})
	h.Write([]byte(horizon))
	h.Write([]byte{'|'})
	h.Write([]byte(archetype))
	list := catalog[horizon]
	return list[h.Sum32()%uint32(len(list))]
}
