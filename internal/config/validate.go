package config

import (
	"fmt"
	"math"
)

// CanonicalResolveBelow is the lifecycle confidence-drop threshold. A
// deprecated value of 50 circulated in older deployments; overriding the
// canonical value requires explicit operator confirmation.
const CanonicalResolveBelow = 40

// Validate checks the tree for hard errors and returns operator-facing
// warnings for suspicious but tolerable settings.
func (c *Config) Validate() ([]string, error) {
	var warnings []string

	if c.Ingest.Enabled {
		enabled := 0
		for _, ch := range c.Chains {
			if !ch.Enabled {
				continue
			}
			enabled++
			if len(ch.RPCURLs) == 0 {
				return nil, fmt.Errorf("chain %s: ingestion enabled but no rpc_urls configured", ch.Name)
			}
			if ch.ChainID <= 0 {
				return nil, fmt.Errorf("chain %s: chain_id must be positive", ch.Name)
			}
		}
		if enabled == 0 {
			return nil, fmt.Errorf("ingestion enabled but no chain is")
		}
	}

	if c.Ingest.Confirmations <= 0 {
		return nil, fmt.Errorf("ingest.confirmations must be positive, got %d", c.Ingest.Confirmations)
	}
	if c.Ingest.RangeMin > c.Ingest.RangeStart || c.Ingest.RangeStart > c.Ingest.RangeMax {
		return nil, fmt.Errorf("ingest range sizing must satisfy min <= start <= max, got %d/%d/%d",
			c.Ingest.RangeMin, c.Ingest.RangeStart, c.Ingest.RangeMax)
	}

	if sum := c.Confidence.Weights.Sum(); math.Abs(sum-1.0) > 0.001 {
		return nil, fmt.Errorf("confidence.weights must sum to 1.0, got %.3f", sum)
	}
	if c.Confidence.DecayMinFactor <= 0 || c.Confidence.DecayMinFactor > 1 {
		return nil, fmt.Errorf("confidence.decay_min_factor must be in (0,1], got %v", c.Confidence.DecayMinFactor)
	}
	if c.Confidence.ClusterBoostMax < 1 {
		return nil, fmt.Errorf("confidence.cluster_boost_max must be >= 1, got %v", c.Confidence.ClusterBoostMax)
	}

	switch rb := c.Lifecycle.ResolveBelowConfidence; {
	case rb == CanonicalResolveBelow:
		// canonical, nothing to confirm
	case rb == 50:
		if !c.Lifecycle.ConfirmResolveThreshold {
			return nil, fmt.Errorf("lifecycle.resolve_below_confidence=50 is the deprecated threshold; the canonical value is %d. Set lifecycle.confirm_resolve_threshold: true to keep 50", CanonicalResolveBelow)
		}
		warnings = append(warnings, "lifecycle.resolve_below_confidence=50 is deprecated (canonical 40), kept by operator confirmation")
	default:
		if !c.Lifecycle.ConfirmResolveThreshold {
			return nil, fmt.Errorf("lifecycle.resolve_below_confidence=%v overrides the canonical %d; set lifecycle.confirm_resolve_threshold: true to confirm", rb, CanonicalResolveBelow)
		}
		warnings = append(warnings, fmt.Sprintf("lifecycle.resolve_below_confidence=%v differs from canonical %d, kept by operator confirmation", rb, CanonicalResolveBelow))
	}

	if c.Lifecycle.ActivateConfidence <= c.Lifecycle.ResolveBelowConfidence {
		return nil, fmt.Errorf("lifecycle.activate_confidence (%v) must exceed resolve_below_confidence (%v)",
			c.Lifecycle.ActivateConfidence, c.Lifecycle.ResolveBelowConfidence)
	}

	if c.Policy.MinDirectionStrength <= 0 || c.Policy.MinDirectionStrength > 100 {
		return nil, fmt.Errorf("policy.min_direction_strength must be in (0,100], got %v", c.Policy.MinDirectionStrength)
	}

	if c.Ranking.BucketWatchMin >= c.Ranking.BucketBuyMin {
		return nil, fmt.Errorf("ranking.bucket_watch_min (%v) must be below bucket_buy_min (%v)",
			c.Ranking.BucketWatchMin, c.Ranking.BucketBuyMin)
	}

	for label := range c.Signals.Thresholds {
		switch label {
		case "1h", "24h", "7d", "30d":
		default:
			return nil, fmt.Errorf("signals.thresholds: unknown window tier %q", label)
		}
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		return nil, fmt.Errorf("database enabled but dsn is empty")
	}

	return warnings, nil
}
