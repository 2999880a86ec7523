package domain

import (
	"fmt"
	"time"
)

// TransferEvent is one observed ERC-20 transfer. Rows are append-only:
// (chain, token, block, logIndex) is the identity and inserts are idempotent.
type TransferEvent struct {
	Chain     string     `json:"chain" db:"chain"`
	Token     string     `json:"token" db:"token"`
	Block     int64      `json:"block" db:"block"`
	LogIndex  int        `json:"log_index" db:"log_index"`
	TxHash    string     `json:"tx_hash" db:"tx_hash"`
	From      string     `json:"from" db:"from_addr"`
	To        string     `json:"to" db:"to_addr"`
	Amount    FlowAmount `json:"amount" db:"amount"`
	Timestamp time.Time  `json:"ts" db:"ts"`
	USDValue  float64    `json:"usd_value,omitempty" db:"usd_value"`
	Tags      []string   `json:"tags,omitempty" db:"tags"`
}

// EventKey is the dedup identity of a transfer.
type EventKey struct {
	Chain    string
	Token    string
	Block    int64
	LogIndex int
}

func (e TransferEvent) Key() EventKey {
	return EventKey{Chain: e.Chain, Token: e.Token, Block: e.Block, LogIndex: e.LogIndex}
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.Chain, k.Token, k.Block, k.LogIndex)
}
