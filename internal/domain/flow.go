package domain

import (
	"fmt"
	"math/big"
)

// FlowAmount is an arbitrary-precision token amount encoded as a decimal
// string. Flow sums are never approximated; floats are reserved for
// USD-denominated rollups.
type FlowAmount string

const ZeroFlow FlowAmount = "0"

// ParseFlowAmount validates s as a base-10 integer, optionally negative.
func ParseFlowAmount(s string) (FlowAmount, error) {
	if s == "" {
		return "", fmt.Errorf("empty flow amount")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", fmt.Errorf("malformed flow amount %q", s)
	}
	return FlowAmount(n.String()), nil
}

// FlowFromBig converts a big integer into its canonical decimal form.
func FlowFromBig(n *big.Int) FlowAmount {
	if n == nil {
		return ZeroFlow
	}
	return FlowAmount(n.String())
}

// BigInt decodes the amount. Malformed values surface as errors so callers
// never fold garbage into sums.
func (f FlowAmount) BigInt() (*big.Int, error) {
	if f == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(string(f), 10)
	if !ok {
		return nil, fmt.Errorf("malformed flow amount %q", string(f))
	}
	return n, nil
}

func (f FlowAmount) Add(other FlowAmount) (FlowAmount, error) {
	a, err := f.BigInt()
	if err != nil {
		return "", err
	}
	b, err := other.BigInt()
	if err != nil {
		return "", err
	}
	return FlowFromBig(a.Add(a, b)), nil
}

func (f FlowAmount) Sub(other FlowAmount) (FlowAmount, error) {
	a, err := f.BigInt()
	if err != nil {
		return "", err
	}
	b, err := other.BigInt()
	if err != nil {
		return "", err
	}
	return FlowFromBig(a.Sub(a, b)), nil
}

func (f FlowAmount) Neg() (FlowAmount, error) {
	a, err := f.BigInt()
	if err != nil {
		return "", err
	}
	return FlowFromBig(a.Neg(a)), nil
}

// Cmp returns -1, 0 or +1 like big.Int.Cmp.
func (f FlowAmount) Cmp(other FlowAmount) (int, error) {
	a, err := f.BigInt()
	if err != nil {
		return 0, err
	}
	b, err := other.BigInt()
	if err != nil {
		return 0, err
	}
	return a.Cmp(b), nil
}

// Sign returns -1 for negative, 0 for zero, +1 for positive.
func (f FlowAmount) Sign() (int, error) {
	a, err := f.BigInt()
	if err != nil {
		return 0, err
	}
	return a.Sign(), nil
}

func (f FlowAmount) IsZero() bool {
	a, err := f.BigInt()
	return err == nil && a.Sign() == 0
}

// SumFlows folds amounts left to right, failing on the first malformed value.
func SumFlows(flows ...FlowAmount) (FlowAmount, error) {
	total := big.NewInt(0)
	for _, f := range flows {
		n, err := f.BigInt()
		if err != nil {
			return "", err
		}
		total.Add(total, n)
	}
	return FlowFromBig(total), nil
}
