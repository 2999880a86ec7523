package chain

import (
	"fmt"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
)

// TransferTopic is the keccak of Transfer(address,address,uint256).
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// DecodeTransfer turns one ERC-20 Transfer log into a TransferEvent.
// Addresses are normalized to lowercase hex; the amount stays an exact
// integer. blockTime comes from the containing block header.
func DecodeTransfer(chainName string, l Log, blockTime time.Time) (domain.TransferEvent, error) {
	if len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
		return domain.TransferEvent{}, fmt.Errorf("log %s/%d is not an erc20 transfer", l.TxHash, l.LogIndex)
	}

	from, err := TopicAddress(l.Topics[1])
	if err != nil {
		return domain.TransferEvent{}, err
	}
	to, err := TopicAddress(l.Topics[2])
	if err != nil {
		return domain.TransferEvent{}, err
	}
	amount, err := ParseBig(l.Data)
	if err != nil {
		return domain.TransferEvent{}, err
	}

	return domain.TransferEvent{
		Chain:     chainName,
		Token:     l.Address,
		Block:     l.BlockNumber,
		LogIndex:  l.LogIndex,
		TxHash:    l.TxHash,
		From:      from,
		To:        to,
		Amount:    domain.FlowFromBig(amount),
		Timestamp: blockTime,
	}, nil
}

// IsTransferLog reports whether a log is a well-formed ERC-20 transfer.
func IsTransferLog(l Log) bool {
	return !l.Removed && len(l.Topics) == 3 && l.Topics[0] == TransferTopic
}
