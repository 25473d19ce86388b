package store

// migration is a single schema version. Each SQL block must end by
// inserting its own version number into schema_version.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS users (
	id                 TEXT PRIMARY KEY,
	display_name       TEXT NOT NULL DEFAULT '',
	timezone           TEXT NOT NULL DEFAULT 'UTC',
	work_start_hour    INTEGER NOT NULL DEFAULT 8,
	work_end_hour      INTEGER NOT NULL DEFAULT 20,
	weekend_start_hour INTEGER NOT NULL DEFAULT 9,
	weekend_end_hour   INTEGER NOT NULL DEFAULT 18,
	active             INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1)),
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	priority         TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('low', 'medium', 'high', 'urgent')),
	status           TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'in_progress', 'completed', 'cancelled')),
	due_at           DATETIME,
	scheduled_start  DATETIME,
	scheduled_end    DATETIME,
	duration_minutes INTEGER NOT NULL DEFAULT 30,
	completed_at     DATETIME,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_items_user ON items(user_id);
CREATE INDEX IF NOT EXISTS idx_items_user_status ON items(user_id, status);
CREATE INDEX IF NOT EXISTS idx_items_scheduled ON items(scheduled_start);

CREATE TABLE IF NOT EXISTS preferences (
	user_id      TEXT NOT NULL,
	dimension    TEXT NOT NULL,
	key          TEXT NOT NULL,
	weight       REAL NOT NULL DEFAULT 0.5,
	confidence   REAL NOT NULL DEFAULT 0.5,
	alpha        REAL NOT NULL DEFAULT 1,
	beta         REAL NOT NULL DEFAULT 1,
	sample_count INTEGER NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (user_id, dimension, key)
);

CREATE TABLE IF NOT EXISTS corrections (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	item_id     TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	dimension   TEXT NOT NULL DEFAULT '',
	key         TEXT NOT NULL DEFAULT '',
	from_value  TEXT NOT NULL DEFAULT '',
	to_value    TEXT NOT NULL DEFAULT '',
	observed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_corrections_user_observed ON corrections(user_id, observed_at);

CREATE TABLE IF NOT EXISTS calibrations (
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	threshold  REAL NOT NULL DEFAULT 0.7,
	accuracy   REAL NOT NULL DEFAULT 0,
	samples    INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, kind)
);

CREATE TABLE IF NOT EXISTS pattern_rejections (
	user_id     TEXT NOT NULL,
	title_key   TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	weekday     INTEGER NOT NULL CHECK(weekday BETWEEN 0 AND 6),
	hour_bucket INTEGER NOT NULL CHECK(hour_bucket BETWEEN 0 AND 23),
	count       INTEGER NOT NULL DEFAULT 0,
	permanent   INTEGER NOT NULL DEFAULT 0 CHECK(permanent IN (0, 1)),
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (user_id, title_key, category, weekday, hour_bucket)
);

CREATE TABLE IF NOT EXISTS flows (
	id                     TEXT PRIMARY KEY,
	user_id                TEXT NOT NULL,
	title_key              TEXT NOT NULL,
	category               TEXT NOT NULL DEFAULT '',
	weekday                INTEGER NOT NULL CHECK(weekday BETWEEN 0 AND 6),
	hour_bucket            INTEGER NOT NULL CHECK(hour_bucket BETWEEN 0 AND 23),
	state                  TEXT NOT NULL DEFAULT 'DETECTED' CHECK(state IN ('DETECTED', 'SUGGESTED', 'ACTIVE', 'MODIFIED', 'DISABLED')),
	confidence             REAL NOT NULL DEFAULT 0,
	config                 TEXT NOT NULL DEFAULT '{}',
	consecutive_rejections INTEGER NOT NULL DEFAULT 0,
	suggested_at           DATETIME,
	decided_at             DATETIME,
	last_triggered         DATETIME,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL,
	UNIQUE (user_id, title_key, category, weekday, hour_bucket)
);

CREATE INDEX IF NOT EXISTS idx_flows_user_state ON flows(user_id, state);
CREATE INDEX IF NOT EXISTS idx_flows_state ON flows(state);

CREATE TABLE IF NOT EXISTS flow_runs (
	flow_id          TEXT NOT NULL,
	run_at           DATETIME NOT NULL,
	edited           INTEGER NOT NULL DEFAULT 0 CHECK(edited IN (0, 1)),
	title            TEXT NOT NULL DEFAULT '',
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (flow_id, run_at),
	FOREIGN KEY (flow_id) REFERENCES flows(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS links (
	item_id        TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	event_id       TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT 'UNLINKED' CHECK(state IN ('UNLINKED', 'PENDING_CONFIRMATION', 'LINKED', 'DRIFTED', 'ORPHANED')),
	event_start    DATETIME,
	event_end      DATETIME,
	last_synced_at DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_links_user ON links(user_id);

CREATE TABLE IF NOT EXISTS sync_log (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	item_id    TEXT NOT NULL DEFAULT '',
	event_id   TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_log_user_created ON sync_log(user_id, created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
