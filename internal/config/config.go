// Package config loads the simulation configuration from the process
// environment, with an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// SplitBps is a four-way basis-point split of a contribution into the
// town budget and the pool's ops/pvp/insurance buckets.
type SplitBps struct {
	Town      int64
	Ops       int64
	PvP       int64
	Insurance int64
}

// Renormalize scales the split so the parts sum to exactly 10000. A zero
// split falls back to the 50/25/15/10 default. Rounding remainder goes to
// the town share.
func (s SplitBps) Renormalize() SplitBps {
	total := s.Town + s.Ops + s.PvP + s.Insurance
	if total <= 0 {
		return SplitBps{Town: 5000, Ops: 2500, PvP: 1500, Insurance: 1000}
	}
	out := SplitBps{
		Town:      s.Town * 10000 / total,
		Ops:       s.Ops * 10000 / total,
		PvP:       s.PvP * 10000 / total,
		Insurance: s.Insurance * 10000 / total,
	}
	out.Town += 10000 - (out.Town + out.Ops + out.PvP + out.Insurance)
	return out
}

// Config holds every environment knob the core recognizes.
type Config struct {
	Port   string
	DBPath string

	TickInterval    time.Duration // agent decision cadence
	PairingInterval time.Duration // autonomous match pairing cadence

	EconomyInitReserve int64
	EconomyInitArena   int64
	EconomyFeeBps      int64 // 0..1000
	ClaimSplit         SplitBps
	BuildSplit         SplitBps
	FeeInsuranceBps    int64 // share of each swap fee routed to insurance; rest to ops

	PokerMaxHands int

	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	LLMCallsPerSec float64

	TownName  string
	TownPlots int

	DisableWheel    bool
	EnableTestUtils bool
	TestUtilsKey    string

	MonadRPCURL       string
	ArenaTokenAddress string

	AllowLegacyAPIKeys bool
}

// Load reads configuration from the environment. A missing .env is not an
// error.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:   envStr("PORT", "8090"),
		DBPath: envStr("DB_PATH", "town.db"),

		TickInterval:    envDuration("TICK_INTERVAL", 20*time.Second),
		PairingInterval: envDuration("PAIRING_INTERVAL", 75*time.Second),

		EconomyInitReserve: envInt64("ECONOMY_INIT_RESERVE", 1_000_000),
		EconomyInitArena:   envInt64("ECONOMY_INIT_ARENA", 1_000_000),
		EconomyFeeBps:      envInt64("ECONOMY_FEE_BPS", 100),
		FeeInsuranceBps:    envInt64("ECONOMY_FEE_INSURANCE_BPS", 4000),

		PokerMaxHands: int(envInt64("POKER_MAX_HANDS", 5)),

		LLMAPIKey:      envStr("LLM_API_KEY", ""),
		LLMBaseURL:     envStr("LLM_BASE_URL", ""),
		LLMModel:       envStr("LLM_MODEL", "gpt-4o-mini"),
		LLMCallsPerSec: envFloat("LLM_CALLS_PER_SEC", 5),

		TownName:  envStr("TOWN_NAME", "Moneymaker Flats"),
		TownPlots: int(envInt64("TOWN_PLOTS", 25)),

		DisableWheel:    envBool("DISABLE_WHEEL", false),
		EnableTestUtils: envBool("ENABLE_TEST_UTILS", false),
		TestUtilsKey:    envStr("TEST_UTILS_KEY", ""),

		MonadRPCURL:       envStr("MONAD_RPC_URL", ""),
		ArenaTokenAddress: envStr("ARENA_TOKEN_ADDRESS", ""),

		AllowLegacyAPIKeys: envBool("ALLOW_LEGACY_API_KEYS", false),
	}

	cfg.ClaimSplit = SplitBps{
		Town:      envInt64("ECONOMY_CLAIM_TOWN_BPS", 5000),
		Ops:       envInt64("ECONOMY_CLAIM_OPS_BPS", 2500),
		PvP:       envInt64("ECONOMY_CLAIM_PVP_BPS", 1500),
		Insurance: envInt64("ECONOMY_CLAIM_INSURANCE_BPS", 1000),
	}.Renormalize()

	cfg.BuildSplit = SplitBps{
		Town:      envInt64("ECONOMY_BUILD_TOWN_BPS", 5000),
		Ops:       envInt64("ECONOMY_BUILD_OPS_BPS", 2500),
		PvP:       envInt64("ECONOMY_BUILD_PVP_BPS", 1500),
		Insurance: envInt64("ECONOMY_BUILD_INSURANCE_BPS", 1000),
	}.Renormalize()

	if cfg.EconomyFeeBps < 0 {
		cfg.EconomyFeeBps = 0
	}
	if cfg.EconomyFeeBps > 1000 {
		cfg.EconomyFeeBps = 1000
	}

	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
