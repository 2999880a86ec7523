package chain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// ParseQuantity decodes a 0x-prefixed hex quantity into an int64.
func ParseQuantity(s string) (int64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty hex quantity %q", s)
	}
	v, err := strconv.ParseInt(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("hex quantity %q: %w", s, err)
	}
	return v, nil
}

// FormatQuantity encodes an int64 as a 0x-prefixed hex quantity.
func FormatQuantity(v int64) string {
	return "0x" + strconv.FormatInt(v, 16)
}

// ParseBig decodes a 0x-prefixed hex blob into a big integer. Empty data
// and "0x" both decode to zero.
func ParseBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("hex data %q", s)
	}
	return v, nil
}

// ParseTimestamp decodes a hex unix-seconds quantity into UTC time.
func ParseTimestamp(s string) (time.Time, error) {
	sec, err := ParseQuantity(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

// TopicAddress extracts the 20-byte address packed into a 32-byte topic,
// lowercased.
func TopicAddress(topic string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(topic), "0x")
	if len(trimmed) != 64 {
		return "", fmt.Errorf("topic %q is not 32 bytes", topic)
	}
	return "0x" + strings.ToLower(trimmed[24:]), nil
}
