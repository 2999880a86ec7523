package chain

import (
	"context"
	"fmt"
	"strings"
)

// EVMAdapter implements Adapter over a JSON-RPC client. It is generic:
// every EVM chain uses the same methods.
type EVMAdapter struct {
	cfg    Config
	client *Client
}

func NewEVMAdapter(cfg Config, client *Client) *EVMAdapter {
	if cfg.MaxLogSpan <= 0 {
		cfg.MaxLogSpan = 2000
	}
	return &EVMAdapter{cfg: cfg, client: client}
}

func (a *EVMAdapter) Config() Config { return a.cfg }

func (a *EVMAdapter) HeadHeight(ctx context.Context) (int64, error) {
	var raw string
	if err := a.client.Call(ctx, "eth_blockNumber", nil, &raw); err != nil {
		return 0, err
	}
	return ParseQuantity(raw)
}

type rawBlock struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  string `json:"timestamp"`
}

func (a *EVMAdapter) BlockByNumber(ctx context.Context, number int64) (*Block, error) {
	var raw *rawBlock
	err := a.client.Call(ctx, "eth_getBlockByNumber",
		[]interface{}{FormatQuantity(number), false}, &raw)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("chain %s: block %d not found", a.cfg.Name, number)
	}
	n, err := ParseQuantity(raw.Number)
	if err != nil {
		return nil, err
	}
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, err
	}
	return &Block{Number: n, Hash: raw.Hash, ParentHash: raw.ParentHash, Timestamp: ts}, nil
}

type rawLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

func (l rawLog) decode() (Log, error) {
	block, err := ParseQuantity(l.BlockNumber)
	if err != nil {
		return Log{}, err
	}
	idx, err := ParseQuantity(l.LogIndex)
	if err != nil {
		return Log{}, err
	}
	return Log{
		Address:     strings.ToLower(l.Address),
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: block,
		TxHash:      strings.ToLower(l.TxHash),
		LogIndex:    int(idx),
		Removed:     l.Removed,
	}, nil
}

// LogsByRange fetches logs, splitting requests wider than MaxLogSpan.
func (a *EVMAdapter) LogsByRange(ctx context.Context, from, to int64, addresses []string, topics [][]string) ([]Log, error) {
	if from > to {
		return nil, fmt.Errorf("chain %s: inverted range %d..%d", a.cfg.Name, from, to)
	}

	var out []Log
	for start := from; start <= to; start += a.cfg.MaxLogSpan {
		end := start + a.cfg.MaxLogSpan - 1
		if end > to {
			end = to
		}

		filter := map[string]interface{}{
			"fromBlock": FormatQuantity(start),
			"toBlock":   FormatQuantity(end),
		}
		if len(addresses) > 0 {
			filter["address"] = addresses
		}
		if len(topics) > 0 {
			filter["topics"] = topics
		}

		var raws []rawLog
		if err := a.client.Call(ctx, "eth_getLogs", []interface{}{filter}, &raws); err != nil {
			return nil, err
		}
		for _, r := range raws {
			l, err := r.decode()
			if err != nil {
				return nil, err
			}
			out = append(out, l)
		}
	}
	return out, nil
}

type rawReceipt struct {
	TxHash      string   `json:"transactionHash"`
	Status      string   `json:"status"`
	BlockNumber string   `json:"blockNumber"`
	Logs        []rawLog `json:"logs"`
}

func (a *EVMAdapter) ReceiptByTx(ctx context.Context, txHash string) (*Receipt, error) {
	var raw *rawReceipt
	if err := a.client.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("chain %s: receipt %s not found", a.cfg.Name, txHash)
	}

	status, err := ParseQuantity(raw.Status)
	if err != nil {
		return nil, err
	}
	block, err := ParseQuantity(raw.BlockNumber)
	if err != nil {
		return nil, err
	}

	logs := make([]Log, 0, len(raw.Logs))
	for _, r := range raw.Logs {
		l, err := r.decode()
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return &Receipt{TxHash: strings.ToLower(raw.TxHash), Status: status, BlockNumber: block, Logs: logs}, nil
}
