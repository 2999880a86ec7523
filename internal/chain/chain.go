// Package chain adapts EVM JSON-RPC providers behind a small interface.
// Chain differences are data, not code: every supported chain is one
// Config record over the same generic adapter.
package chain

import (
	"context"
	"time"
)

// Config is a static chain record.
type Config struct {
	ChainID      int64
	Name         string
	RPCURLs      []string
	NativeSymbol string
	Decimals     int
	Explorer     string
	// MaxLogSpan is the provider's getLogs block-range ceiling; wider
	// requests are split.
	MaxLogSpan int64
}

// Block is the header subset ingestion needs.
type Block struct {
	Number     int64
	Hash       string
	ParentHash string
	Timestamp  time.Time
}

// Log is one raw EVM log entry.
type Log struct {
	Address     string
	Topics      []string
	Data        string
	BlockNumber int64
	TxHash      string
	LogIndex    int
	Removed     bool
}

// Receipt is the transaction receipt subset used for spot checks.
type Receipt struct {
	TxHash      string
	Status      int64
	BlockNumber int64
	Logs        []Log
}

// Adapter reads a chain. Implementations must be safe for concurrent use.
type Adapter interface {
	HeadHeight(ctx context.Context) (int64, error)
	BlockByNumber(ctx context.Context, number int64) (*Block, error)
	LogsByRange(ctx context.Context, from, to int64, addresses []string, topics [][]string) ([]Log, error)
	ReceiptByTx(ctx context.Context, txHash string) (*Receipt, error)
}
