package postgres

import "context"

// Schema is applied idempotently at startup. Amounts are NUMERIC(78,0)
// so uint256 flows survive round-trips without precision loss.
const Schema = `
CREATE TABLE IF NOT EXISTS raw_events (
    chain        TEXT        NOT NULL,
    token        TEXT        NOT NULL,
    block        BIGINT      NOT NULL,
    log_index    INTEGER     NOT NULL,
    tx_hash      TEXT        NOT NULL,
    from_addr    TEXT        NOT NULL,
    to_addr      TEXT        NOT NULL,
    amount       NUMERIC(78,0) NOT NULL,
    ts           TIMESTAMPTZ NOT NULL,
    usd_value    DOUBLE PRECISION NOT NULL DEFAULT 0,
    tags         TEXT[]      NOT NULL DEFAULT '{}',
    PRIMARY KEY (chain, token, block, log_index)
);
CREATE INDEX IF NOT EXISTS raw_events_token_ts ON raw_events (chain, token, ts);
CREATE INDEX IF NOT EXISTS raw_events_tx ON raw_events (tx_hash);

CREATE TABLE IF NOT EXISTS window_aggregates (
    chain            TEXT        NOT NULL,
    token            TEXT        NOT NULL,
    window           TEXT        NOT NULL,
    window_start     TIMESTAMPTZ NOT NULL,
    window_end       TIMESTAMPTZ NOT NULL,
    inflow_count     BIGINT      NOT NULL,
    outflow_count    BIGINT      NOT NULL,
    inflow_amount    NUMERIC(78,0) NOT NULL,
    outflow_amount   NUMERIC(78,0) NOT NULL,
    net_flow_amount  NUMERIC(78,0) NOT NULL,
    unique_senders   INTEGER     NOT NULL,
    unique_receivers INTEGER     NOT NULL,
    event_count      BIGINT      NOT NULL,
    first_block      BIGINT      NOT NULL,
    last_block       BIGINT      NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (chain, token, window, window_start)
);

CREATE TABLE IF NOT EXISTS aggregation_cursors (
    chain                TEXT        NOT NULL,
    token                TEXT        NOT NULL,
    window               TEXT        NOT NULL,
    last_window_end      TIMESTAMPTZ NOT NULL,
    last_processed_block BIGINT      NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (chain, token, window)
);

CREATE TABLE IF NOT EXISTS scan_ranges (
    chain              TEXT        NOT NULL,
    token              TEXT        NOT NULL,
    last_scanned_block BIGINT      NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (chain, token)
);

CREATE TABLE IF NOT EXISTS approval_verdicts (
    window_key      TEXT        PRIMARY KEY,
    chain           TEXT        NOT NULL,
    token           TEXT        NOT NULL,
    window          TEXT        NOT NULL,
    window_start    TIMESTAMPTZ NOT NULL,
    verdict         TEXT        NOT NULL,
    triggered_rules JSONB       NOT NULL DEFAULT '[]',
    total_penalty   DOUBLE PRECISION NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS approval_verdicts_class ON approval_verdicts (verdict, created_at);

CREATE TABLE IF NOT EXISTS snapshots (
    id           TEXT        PRIMARY KEY,
    chain        TEXT        NOT NULL,
    token        TEXT        NOT NULL,
    window       TEXT        NOT NULL,
    window_start TIMESTAMPTZ NOT NULL,
    snapshot_at  TIMESTAMPTZ NOT NULL,
    content_hash TEXT        NOT NULL,
    is_viable    BOOLEAN     NOT NULL,
    doc          JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_stream ON snapshots (chain, token, window, snapshot_at DESC);

CREATE TABLE IF NOT EXISTS signals (
    id          TEXT   PRIMARY KEY,
    type        TEXT   NOT NULL,
    subject_key TEXT   NOT NULL,
    window      TEXT   NOT NULL,
    state       TEXT   NOT NULL,
    version     BIGINT NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    doc         JSONB  NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_window_state ON signals (window, state);
CREATE INDEX IF NOT EXISTS signals_subject ON signals (subject_key, window);

CREATE TABLE IF NOT EXISTS confidence_traces (
    signal_id  TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    doc        JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS confidence_traces_signal ON confidence_traces (signal_id, created_at DESC);

CREATE TABLE IF NOT EXISTS signal_transitions (
    signal_id  TEXT        NOT NULL,
    from_state TEXT        NOT NULL,
    to_state   TEXT        NOT NULL,
    reason     TEXT        NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL,
    at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS signal_transitions_signal ON signal_transitions (signal_id, at);

CREATE TABLE IF NOT EXISTS rankings (
    subject_kind TEXT        NOT NULL,
    subject_id   TEXT        NOT NULL,
    window       TEXT        NOT NULL,
    rank_score   DOUBLE PRECISION NOT NULL,
    computed_at  TIMESTAMPTZ NOT NULL,
    doc          JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS rankings_subject ON rankings (subject_kind, subject_id, window, computed_at DESC);
CREATE INDEX IF NOT EXISTS rankings_window ON rankings (window, computed_at DESC);

CREATE TABLE IF NOT EXISTS decisions (
    id           TEXT        PRIMARY KEY,
    subject_kind TEXT        NOT NULL,
    subject_id   TEXT        NOT NULL,
    window       TEXT        NOT NULL,
    action       TEXT        NOT NULL,
    expires_at   TIMESTAMPTZ NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    doc          JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS decisions_subject ON decisions (subject_kind, subject_id, window, created_at DESC);
CREATE INDEX IF NOT EXISTS decisions_expiry ON decisions (expires_at);

CREATE TABLE IF NOT EXISTS decision_outcomes (
    decision_id   TEXT        PRIMARY KEY,
    subject_kind  TEXT        NOT NULL,
    subject_id    TEXT        NOT NULL,
    window        TEXT        NOT NULL,
    action        TEXT        NOT NULL,
    agreement     TEXT        NOT NULL,
    net_flow_sign INTEGER     NOT NULL,
    evaluated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS decision_outcomes_eval ON decision_outcomes (evaluated_at);

CREATE TABLE IF NOT EXISTS job_locks (
    key       TEXT        PRIMARY KEY,
    locked_by TEXT        NOT NULL,
    locked_at TIMESTAMPTZ NOT NULL,
    ttl_sec   INTEGER     NOT NULL
);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
    worker    TEXT        PRIMARY KEY,
    host      TEXT        NOT NULL,
    pid       INTEGER     NOT NULL,
    jobs      TEXT[]      NOT NULL DEFAULT '{}',
    last_seen TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS system_events (
    id             TEXT        PRIMARY KEY,
    level          TEXT        NOT NULL,
    component      TEXT        NOT NULL,
    message        TEXT        NOT NULL,
    correlation_id TEXT        NOT NULL DEFAULT '',
    details        JSONB       NOT NULL DEFAULT '{}',
    acked          BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS system_events_level ON system_events (level, created_at DESC);

CREATE TABLE IF NOT EXISTS actors (
    actor_id     TEXT        PRIMARY KEY,
    name         TEXT        NOT NULL DEFAULT '',
    actor_type   TEXT        NOT NULL,
    source_level TEXT        NOT NULL,
    coverage     DOUBLE PRECISION NOT NULL,
    addresses    TEXT[]      NOT NULL DEFAULT '{}',
    cluster_id   TEXT        NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS actor_addresses (
    address  TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL REFERENCES actors (actor_id) ON DELETE CASCADE
);
`

// EnsureSchema applies the schema. Every statement is idempotent.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, Schema)
	return err
}
