package store

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id                TEXT PRIMARY KEY,
		name              TEXT UNIQUE NOT NULL,
		owner_wallet      TEXT NOT NULL DEFAULT '',
		api_key_hash      TEXT NOT NULL DEFAULT '',
		archetype         TEXT NOT NULL DEFAULT 'GRINDER',
		model             TEXT NOT NULL DEFAULT '',
		bankroll          INTEGER NOT NULL DEFAULT 0,
		reserve_balance   INTEGER NOT NULL DEFAULT 0,
		health            INTEGER NOT NULL DEFAULT 100,
		elo               INTEGER NOT NULL DEFAULT 1500,
		wins              INTEGER NOT NULL DEFAULT 0,
		losses            INTEGER NOT NULL DEFAULT 0,
		draws             INTEGER NOT NULL DEFAULT 0,
		total_wagered     INTEGER NOT NULL DEFAULT 0,
		total_won         INTEGER NOT NULL DEFAULT 0,
		api_cost_cents    INTEGER NOT NULL DEFAULT 0,
		risk_tolerance    REAL NOT NULL DEFAULT 0.5,
		max_wager_percent REAL NOT NULL DEFAULT 0.25,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		is_external       BOOLEAN NOT NULL DEFAULT FALSE,
		is_in_match       BOOLEAN NOT NULL DEFAULT FALSE,
		current_match_id  TEXT,
		crew_id           TEXT,
		scratchpad        TEXT NOT NULL DEFAULT '',
		last_action_type  TEXT NOT NULL DEFAULT '',
		last_reasoning    TEXT NOT NULL DEFAULT '',
		last_narrative    TEXT NOT NULL DEFAULT '',
		last_target_plot  INTEGER,
		last_tick_at      INTEGER NOT NULL DEFAULT 0,
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP,
		CHECK (bankroll >= 0),
		CHECK (reserve_balance >= 0),
		CHECK (health BETWEEN 0 AND 100)
	);

	CREATE TABLE IF NOT EXISTS towns (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'ACTIVE',
		plot_count INTEGER NOT NULL,
		treasury   INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		CHECK (treasury >= 0)
	);

	CREATE TABLE IF NOT EXISTS plots (
		town_id        TEXT NOT NULL REFERENCES towns(id),
		plot_index     INTEGER NOT NULL,
		zone           TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'EMPTY',
		owner_id       TEXT,
		builder_id     TEXT,
		building_type  TEXT NOT NULL DEFAULT '',
		building_name  TEXT NOT NULL DEFAULT '',
		api_calls_used INTEGER NOT NULL DEFAULT 0,
		total_invested INTEGER NOT NULL DEFAULT 0,
		quality_score  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (town_id, plot_index)
	);

	CREATE TABLE IF NOT EXISTS matches (
		id              TEXT PRIMARY KEY,
		game_type       TEXT NOT NULL,
		player1_id      TEXT NOT NULL,
		player2_id      TEXT,
		wager_amount    INTEGER NOT NULL,
		total_pot       INTEGER NOT NULL,
		rake_amount     INTEGER NOT NULL,
		status          TEXT NOT NULL DEFAULT 'WAITING',
		current_turn_id TEXT,
		turn_number     INTEGER NOT NULL DEFAULT 0,
		game_state      TEXT NOT NULL DEFAULT '{}',
		winner_id       TEXT,
		is_draw         BOOLEAN NOT NULL DEFAULT FALSE,
		skip_prediction BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
		started_at      DATETIME,
		completed_at    DATETIME
	);

	CREATE TABLE IF NOT EXISTS moves (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		match_id          TEXT NOT NULL REFERENCES matches(id),
		turn_number       INTEGER NOT NULL,
		agent_id          TEXT NOT NULL,
		action            TEXT NOT NULL,
		reasoning         TEXT NOT NULL DEFAULT '',
		cost_cents        INTEGER NOT NULL DEFAULT 0,
		latency_ms        INTEGER NOT NULL DEFAULT 0,
		game_state_before TEXT NOT NULL DEFAULT '{}',
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS relationships (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_a             TEXT NOT NULL,
		agent_b             TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'NEUTRAL',
		score               INTEGER NOT NULL DEFAULT 0,
		interactions        INTEGER NOT NULL DEFAULT 0,
		last_interaction_at DATETIME,
		friend_since        DATETIME,
		rival_since         DATETIME,
		UNIQUE (agent_a, agent_b),
		CHECK (agent_a < agent_b)
	);

	CREATE TABLE IF NOT EXISTS goals (
		id              TEXT PRIMARY KEY,
		agent_id        TEXT NOT NULL,
		horizon         TEXT NOT NULL,
		template_key    TEXT NOT NULL,
		title           TEXT NOT NULL,
		metric          TEXT NOT NULL,
		zone            TEXT NOT NULL DEFAULT '',
		town_id         TEXT NOT NULL DEFAULT '',
		target_value    INTEGER NOT NULL,
		progress_value  INTEGER NOT NULL DEFAULT 0,
		started_tick    INTEGER NOT NULL,
		deadline_tick   INTEGER,
		status          TEXT NOT NULL DEFAULT 'ACTIVE',
		reward_profile  TEXT NOT NULL DEFAULT '{}',
		penalty_profile TEXT NOT NULL DEFAULT '{}',
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_goals_active
		ON goals(agent_id, horizon) WHERE status = 'ACTIVE';

	CREATE TABLE IF NOT EXISTS economy_pool (
		id                      INTEGER PRIMARY KEY CHECK (id = 1),
		reserve_balance         INTEGER NOT NULL,
		arena_balance           INTEGER NOT NULL,
		fee_bps                 INTEGER NOT NULL DEFAULT 100,
		ops_budget              INTEGER NOT NULL DEFAULT 0,
		pvp_budget              INTEGER NOT NULL DEFAULT 0,
		rescue_budget           INTEGER NOT NULL DEFAULT 0,
		insurance_budget        INTEGER NOT NULL DEFAULT 0,
		cumulative_fees_reserve INTEGER NOT NULL DEFAULT 0,
		cumulative_fees_arena   INTEGER NOT NULL DEFAULT 0,
		updated_at              DATETIME DEFAULT CURRENT_TIMESTAMP,
		CHECK (reserve_balance > 0),
		CHECK (arena_balance > 0),
		CHECK (fee_bps BETWEEN 0 AND 1000),
		CHECK (ops_budget >= 0),
		CHECK (pvp_budget >= 0),
		CHECK (rescue_budget >= 0),
		CHECK (insurance_budget >= 0)
	);

	CREATE TABLE IF NOT EXISTS economy_swaps (
		id           TEXT PRIMARY KEY,
		agent_id     TEXT NOT NULL,
		side         TEXT NOT NULL,
		amount_in    INTEGER NOT NULL,
		fee          INTEGER NOT NULL,
		amount_out   INTEGER NOT NULL,
		price_before TEXT NOT NULL,
		price_after  TEXT NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		created_ms   INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS economy_ledger (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_group TEXT NOT NULL,
		account     TEXT NOT NULL,
		debit       INTEGER NOT NULL DEFAULT 0,
		credit      INTEGER NOT NULL DEFAULT 0,
		memo        TEXT NOT NULL DEFAULT '',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS agent_stakes (
		id                 TEXT PRIMARY KEY,
		backer_id          TEXT NOT NULL,
		agent_id           TEXT NOT NULL,
		amount             INTEGER NOT NULL,
		total_yield_earned INTEGER NOT NULL DEFAULT 0,
		is_active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at         DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS opponent_records (
		agent_id       TEXT NOT NULL,
		opponent_id    TEXT NOT NULL,
		matches_played INTEGER NOT NULL DEFAULT 0,
		wins           INTEGER NOT NULL DEFAULT 0,
		losses         INTEGER NOT NULL DEFAULT 0,
		draws          INTEGER NOT NULL DEFAULT 0,
		last_played_at DATETIME,
		PRIMARY KEY (agent_id, opponent_id)
	);

	CREATE TABLE IF NOT EXISTS agent_commands (
		id                      TEXT PRIMARY KEY,
		agent_id                TEXT NOT NULL,
		issuer_type             TEXT NOT NULL,
		issuer_telegram_user_id TEXT NOT NULL DEFAULT '',
		mode                    TEXT NOT NULL,
		intent                  TEXT NOT NULL,
		params                  TEXT NOT NULL DEFAULT '{}',
		constraints             TEXT NOT NULL DEFAULT '{}',
		audit_meta              TEXT NOT NULL DEFAULT '{}',
		priority                INTEGER NOT NULL,
		created_tick            INTEGER NOT NULL,
		expires_at_tick         INTEGER,
		status                  TEXT NOT NULL DEFAULT 'QUEUED',
		result                  TEXT NOT NULL DEFAULT '',
		created_at              DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS crews (
		id         TEXT PRIMARY KEY,
		name       TEXT UNIQUE NOT NULL,
		territory  INTEGER NOT NULL DEFAULT 33,
		treasury   INTEGER NOT NULL DEFAULT 0,
		momentum   REAL NOT NULL DEFAULT 0,
		war_score  REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS crew_orders (
		id           TEXT PRIMARY KEY,
		crew_id      TEXT NOT NULL,
		agent_id     TEXT NOT NULL,
		strategy     TEXT NOT NULL,
		intensity    INTEGER NOT NULL DEFAULT 1,
		status       TEXT NOT NULL DEFAULT 'QUEUED',
		command_id   TEXT NOT NULL DEFAULT '',
		created_tick INTEGER NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS crew_battles (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		epoch_tick      INTEGER NOT NULL,
		winner_crew_id  TEXT NOT NULL,
		loser_crew_id   TEXT NOT NULL,
		territory_swing INTEGER NOT NULL,
		treasury_swing  INTEGER NOT NULL,
		summary         TEXT NOT NULL DEFAULT '',
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS town_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		town_id    TEXT NOT NULL,
		kind       TEXT NOT NULL,
		agent_id   TEXT NOT NULL DEFAULT '',
		plot_index INTEGER,
		message    TEXT NOT NULL DEFAULT '',
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_ms INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sim_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plots_owner ON plots(owner_id);
	CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status);
	CREATE INDEX IF NOT EXISTS idx_moves_match ON moves(match_id, turn_number);
	CREATE INDEX IF NOT EXISTS idx_goals_agent ON goals(agent_id, status);
	CREATE INDEX IF NOT EXISTS idx_commands_agent ON agent_commands(agent_id, status);
	CREATE INDEX IF NOT EXISTS idx_stakes_agent ON agent_stakes(agent_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_events_town ON town_events(town_id, created_ms);
	CREATE INDEX IF NOT EXISTS idx_swaps_created ON economy_swaps(created_ms);
	`
	_, err := s.db.Exec(schema)
	return err
}
