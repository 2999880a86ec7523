package domain

import (
	"fmt"
	"time"
)

// WindowAggregate is the deterministic fold of raw events over one
// [windowStart, windowEnd) bucket. Inflow and outflow are counted against
// the tracked-actor directory: a transfer into a tracked actor is inflow,
// a transfer out of one is outflow, and one event may be both.
type WindowAggregate struct {
	Chain           string     `json:"chain" db:"chain"`
	Token           string     `json:"token" db:"token"`
	Window          Window     `json:"window" db:"window"`
	WindowStart     time.Time  `json:"window_start" db:"window_start"`
	WindowEnd       time.Time  `json:"window_end" db:"window_end"`
	InflowCount     int64      `json:"inflow_count" db:"inflow_count"`
	OutflowCount    int64      `json:"outflow_count" db:"outflow_count"`
	InflowAmount    FlowAmount `json:"inflow_amount" db:"inflow_amount"`
	OutflowAmount   FlowAmount `json:"outflow_amount" db:"outflow_amount"`
	NetFlowAmount   FlowAmount `json:"net_flow_amount" db:"net_flow_amount"`
	UniqueSenders   int        `json:"unique_senders" db:"unique_senders"`
	UniqueReceivers int        `json:"unique_receivers" db:"unique_receivers"`
	EventCount      int64      `json:"event_count" db:"event_count"`
	FirstBlock      int64      `json:"first_block" db:"first_block"`
	LastBlock       int64      `json:"last_block" db:"last_block"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// AggregateKey identifies one aggregate row.
type AggregateKey struct {
	Chain       string
	Token       string
	Window      Window
	WindowStart time.Time
}

func (a WindowAggregate) Key() AggregateKey {
	return AggregateKey{Chain: a.Chain, Token: a.Token, Window: a.Window, WindowStart: a.WindowStart}
}

func (k AggregateKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%d", k.Chain, k.Token, k.Window, k.WindowStart.UTC().Unix())
}

// AggregationCursor is the high-water mark for one (chain, token, window)
// stream. LastWindowEnd never moves backwards.
type AggregationCursor struct {
	Chain              string    `json:"chain" db:"chain"`
	Token              string    `json:"token" db:"token"`
	Window             Window    `json:"window" db:"window"`
	LastWindowEnd      time.Time `json:"last_window_end" db:"last_window_end"`
	LastProcessedBlock int64     `json:"last_processed_block" db:"last_processed_block"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}
