// Package signals evaluates the detector catalog against snapshot pairs.
// Detectors are total functions: they return candidates plus accumulated
// errors and never panic on data.
package signals

import (
	"fmt"
	"math"
	"math/big"

	"github.com/flowhawk/flowhawk/internal/domain"
)

// Thresholds tunes one window tier of the catalog.
type Thresholds struct {
	MinCorridorDensity    float64
	MinCorridorConfidence float64
	HighDensity           float64
	SpikeRatio            float64
	HighSpikeRatio        float64
	MinEventCount         int64
	ImbalanceRatio        float64
	HighImbalanceRatio    float64
	MinTotalFlowUSD       float64
	HighNetFlowUSD        float64
	MinTxDeltaPct         float64
	MinActiveDays         int
	MinSyncScore          float64
	ClusterChangePct      float64
}

// Candidate is a detector hit before confidence scoring.
type Candidate struct {
	Type             domain.SignalType
	Subject          domain.SubjectKey
	Severity         domain.Severity
	Direction        domain.FlowDirection
	PrimaryActorID   string
	SecondaryActorID string
	EntityIDs        []string
	Evidence         map[string]interface{}
	Metrics          map[string]float64
	// FlowScore and PatternInBothWindows feed the confidence pass.
	FlowScore            float64
	PatternInBothWindows bool
	Actors               []domain.SnapshotActor
}

// Detector inspects a snapshot pair. prev may be nil on the first build.
type Detector func(cur, prev *domain.Snapshot, th Thresholds) ([]Candidate, []error)

// Catalog is the fixed detector set, evaluated in order.
var Catalog = map[domain.SignalType]Detector{
	domain.SignalNewCorridor:            DetectNewCorridor,
	domain.SignalDensitySpike:           DetectDensitySpike,
	domain.SignalDirectionImbalance:     DetectDirectionImbalance,
	domain.SignalActorRegimeChange:      DetectActorRegimeChange,
	domain.SignalNewBridge:              DetectNewBridge,
	domain.SignalClusterReconfiguration: DetectClusterReconfiguration,
}

// catalogOrder fixes evaluation order for determinism.
var catalogOrder = []domain.SignalType{
	domain.SignalNewCorridor,
	domain.SignalDensitySpike,
	domain.SignalDirectionImbalance,
	domain.SignalActorRegimeChange,
	domain.SignalNewBridge,
	domain.SignalClusterReconfiguration,
}

func edgeKey(e domain.SnapshotEdge) string { return e.From + ">" + e.To }

func actorByID(snap *domain.Snapshot, id string) *domain.SnapshotActor {
	for i := range snap.Actors {
		if snap.Actors[i].ActorID == id {
			return &snap.Actors[i]
		}
	}
	return nil
}

// flowScoreUSD grades a USD magnitude against the high-band threshold.
func flowScoreUSD(usd, high float64) float64 {
	if high <= 0 {
		return 0
	}
	return domain.Clamp(math.Abs(usd)/high*100, 0, 100)
}

// DetectNewCorridor fires on the first appearance of a (from, to) corridor
// above minimum density.
func DetectNewCorridor(cur, prev *domain.Snapshot, th Thresholds) ([]Candidate, []error) {
	if cur == nil {
		return nil, []error{fmt.Errorf("new_corridor: nil snapshot")}
	}
	known := make(map[string]struct{})
	if prev != nil {
		for _, e := range prev.Edges {
			known[edgeKey(e)] = struct{}{}
		}
	}

	var out []Candidate
	for _, e := range cur.Edges {
		if _, seen := known[edgeKey(e)]; seen {
			continue
		}
		if float64(e.Transfers) < th.MinCorridorDensity {
			continue
		}

		severity := domain.SeverityLow
		switch {
		case float64(e.Transfers) >= th.HighDensity:
			severity = domain.SeverityHigh
		case float64(e.Transfers) >= th.MinCorridorDensity*2:
			severity = domain.SeverityMed
		}

		var participants []domain.SnapshotActor
		if a := actorByID(cur, e.From); a != nil {
			participants = append(participants, *a)
		}
		if a := actorByID(cur, e.To); a != nil {
			participants = append(participants, *a)
		}

		out = append(out, Candidate{
			Type:             domain.SignalNewCorridor,
			Subject:          cur.SubjectKey(),
			Severity:         severity,
			Direction:        domain.DirectionBidirectional,
			PrimaryActorID:   e.From,
			SecondaryActorID: e.To,
			EntityIDs:        []string{e.From, e.To},
			Evidence: map[string]interface{}{
				"corridor":  edgeKey(e),
				"transfers": e.Transfers,
				"amount":    string(e.Amount),
				"direction": string(domain.DirectionBidirectional),
			},
			Metrics: map[string]float64{
				"density":    float64(e.Transfers),
				"usd_volume": e.USDVolume,
			},
			FlowScore:            flowScoreUSD(e.USDVolume, th.HighNetFlowUSD),
			PatternInBothWindows: false,
			Actors:               participants,
		})
	}
	return out, nil
}

// DetectDensitySpike fires when window activity jumps by the spike ratio
// with both windows above minimums.
func DetectDensitySpike(cur, prev *domain.Snapshot, th Thresholds) ([]Candidate, []error) {
	if cur == nil {
		return nil, []error{fmt.Errorf("density_spike: nil snapshot")}
	}
	if prev == nil || prev.Stats.EventCount == 0 {
		return nil, nil
	}
	if cur.Stats.EventCount < th.MinEventCount || prev.Stats.EventCount < th.MinEventCount/2 {
		return nil, nil
	}

	ratio := float64(cur.Stats.EventCount-prev.Stats.EventCount) / float64(prev.Stats.EventCount)
	if ratio < th.SpikeRatio {
		return nil, nil
	}

	severity := domain.SeverityMed
	if ratio >= th.HighSpikeRatio {
		severity = domain.SeverityHigh
	}

	return []Candidate{{
		Type:      domain.SignalDensitySpike,
		Subject:   cur.SubjectKey(),
		Severity:  severity,
		Direction: directionFromNet(cur.Stats.NetFlowUSD),
		EntityIDs: topActorIDs(cur, 5),
		Evidence: map[string]interface{}{
			"current_events":  cur.Stats.EventCount,
			"previous_events": prev.Stats.EventCount,
			"spike_ratio":     ratio,
			"direction":       string(directionFromNet(cur.Stats.NetFlowUSD)),
		},
		Metrics: map[string]float64{
			"spike_ratio":  ratio,
			"event_count":  float64(cur.Stats.EventCount),
			"net_flow_usd": cur.Stats.NetFlowUSD,
		},
		FlowScore:            flowScoreUSD(cur.Stats.TotalFlowUSD, th.HighNetFlowUSD),
		PatternInBothWindows: true,
		Actors:               cur.Actors,
	}}, nil
}

// DetectDirectionImbalance fires when net flow dominates total flow.
func DetectDirectionImbalance(cur, _ *domain.Snapshot, th Thresholds) ([]Candidate, []error) {
	if cur == nil {
		return nil, []error{fmt.Errorf("direction_imbalance: nil snapshot")}
	}
	if cur.Stats.TotalFlowUSD < th.MinTotalFlowUSD || cur.Stats.TotalFlowUSD == 0 {
		return nil, nil
	}

	imbalance := math.Abs(cur.Stats.NetFlowUSD) / cur.Stats.TotalFlowUSD
	if imbalance < th.ImbalanceRatio {
		return nil, nil
	}

	severity := domain.SeverityMed
	if imbalance >= th.HighImbalanceRatio || math.Abs(cur.Stats.NetFlowUSD) >= th.HighNetFlowUSD {
		severity = domain.SeverityHigh
	}

	return []Candidate{{
		Type:      domain.SignalDirectionImbalance,
		Subject:   cur.SubjectKey(),
		Severity:  severity,
		Direction: directionFromNet(cur.Stats.NetFlowUSD),
		EntityIDs: topActorIDs(cur, 5),
		Evidence: map[string]interface{}{
			"imbalance_ratio": imbalance,
			"net_flow_usd":    cur.Stats.NetFlowUSD,
			"total_flow_usd":  cur.Stats.TotalFlowUSD,
			"direction":       string(directionFromNet(cur.Stats.NetFlowUSD)),
		},
		Metrics: map[string]float64{
			"imbalance_ratio": imbalance,
			"net_flow_usd":    cur.Stats.NetFlowUSD,
			"total_flow_usd":  cur.Stats.TotalFlowUSD,
		},
		FlowScore:            flowScoreUSD(cur.Stats.NetFlowUSD, th.HighNetFlowUSD),
		PatternInBothWindows: false,
		Actors:               cur.Actors,
	}}, nil
}

// DetectActorRegimeChange fires when an established actor's activity
// deviates hard from its previous-window baseline.
func DetectActorRegimeChange(cur, prev *domain.Snapshot, th Thresholds) ([]Candidate, []error) {
	if cur == nil {
		return nil, []error{fmt.Errorf("actor_regime_change: nil snapshot")}
	}
	if prev == nil {
		return nil, nil
	}

	var out []Candidate
	for _, a := range cur.Actors {
		if a.ActiveDays < th.MinActiveDays {
			continue
		}
		base := actorByID(prev, a.ActorID)
		if base == nil || base.TxCount == 0 {
			continue
		}

		deltaPct := math.Abs(float64(a.TxCount-base.TxCount)) / float64(base.TxCount) * 100
		if deltaPct < th.MinTxDeltaPct {
			continue
		}

		severity := domain.SeverityMed
		if deltaPct >= th.MinTxDeltaPct*2 {
			severity = domain.SeverityHigh
		}

		direction := domain.DirectionInflow
		if a.TxCount < base.TxCount {
			direction = domain.DirectionOutflow
		}

		out = append(out, Candidate{
			Type:           domain.SignalActorRegimeChange,
			Subject:        domain.NewSubjectKey(domain.SubjectActor, a.ActorID),
			Severity:       severity,
			Direction:      direction,
			PrimaryActorID: a.ActorID,
			EntityIDs:      []string{a.ActorID},
			Evidence: map[string]interface{}{
				"actor":          a.ActorID,
				"tx_count":       a.TxCount,
				"baseline_count": base.TxCount,
				"delta_pct":      deltaPct,
				"direction":      string(direction),
			},
			Metrics: map[string]float64{
				"tx_delta_pct": deltaPct,
				"tx_count":     float64(a.TxCount),
				"active_days":  float64(a.ActiveDays),
			},
			FlowScore:            domain.Clamp(deltaPct/th.MinTxDeltaPct*50, 0, 100),
			PatternInBothWindows: true,
			Actors:               []domain.SnapshotActor{a},
		})
	}
	return out, nil
}

// DetectNewBridge fires on first usage of a bridge-like hub: a previously
// unseen actor that both sends and receives in the same window with
// temporally synchronous legs.
func DetectNewBridge(cur, prev *domain.Snapshot, th Thresholds) ([]Candidate, []error) {
	if cur == nil {
		return nil, []error{fmt.Errorf("new_bridge: nil snapshot")}
	}
	known := make(map[string]struct{})
	if prev != nil {
		for _, a := range prev.Actors {
			known[a.ActorID] = struct{}{}
		}
	}

	var out []Candidate
	for _, a := range cur.Actors {
		if _, seen := known[a.ActorID]; seen {
			continue
		}
		if a.InflowAmount.IsZero() || a.OutflowAmount.IsZero() {
			continue
		}

		// Synchrony: how closely the pass-through legs mirror each other.
		in, errIn := a.InflowAmount.BigInt()
		outAmt, errOut := a.OutflowAmount.BigInt()
		if errIn != nil || errOut != nil {
			continue
		}
		inF, _ := new(big.Float).SetInt(in).Float64()
		outF, _ := new(big.Float).SetInt(outAmt).Float64()
		sync := 1 - math.Abs(inF-outF)/math.Max(inF, outF)
		if sync < th.MinSyncScore {
			continue
		}

		severity := domain.SeverityMed
		if a.Connectivity >= 4 {
			severity = domain.SeverityHigh
		}

		out = append(out, Candidate{
			Type:           domain.SignalNewBridge,
			Subject:        domain.NewSubjectKey(domain.SubjectActor, a.ActorID),
			Severity:       severity,
			Direction:      domain.DirectionBidirectional,
			PrimaryActorID: a.ActorID,
			EntityIDs:      []string{a.ActorID},
			Evidence: map[string]interface{}{
				"actor":      a.ActorID,
				"inflow":     string(a.InflowAmount),
				"outflow":    string(a.OutflowAmount),
				"sync_score": sync,
				"direction":  string(domain.DirectionBidirectional),
			},
			Metrics: map[string]float64{
				"sync_score":   sync,
				"connectivity": float64(a.Connectivity),
			},
			FlowScore:            domain.Clamp(sync*100, 0, 100),
			PatternInBothWindows: false,
			Actors:               []domain.SnapshotActor{a},
		})
	}
	return out, nil
}

// DetectClusterReconfiguration fires when cluster membership churns above
// the coverage threshold.
func DetectClusterReconfiguration(cur, prev *domain.Snapshot, th Thresholds) ([]Candidate, []error) {
	if cur == nil {
		return nil, []error{fmt.Errorf("cluster_reconfiguration: nil snapshot")}
	}
	if prev == nil {
		return nil, nil
	}

	curClusters := clusterMembers(cur)
	prevClusters := clusterMembers(prev)

	var out []Candidate
	for clusterID, members := range curClusters {
		before, ok := prevClusters[clusterID]
		if !ok || len(before) == 0 {
			continue
		}
		changePct := domain.JaccardDelta(members, before) * 100
		if changePct < th.ClusterChangePct {
			continue
		}

		severity := domain.SeverityMed
		if changePct >= th.ClusterChangePct*2 {
			severity = domain.SeverityHigh
		}

		out = append(out, Candidate{
			Type:      domain.SignalClusterReconfiguration,
			Subject:   domain.NewSubjectKey(domain.SubjectActor, clusterID),
			Severity:  severity,
			Direction: domain.DirectionNeutral,
			EntityIDs: members,
			Evidence: map[string]interface{}{
				"cluster":        clusterID,
				"change_pct":     changePct,
				"member_count":   len(members),
				"previous_count": len(before),
				"direction":      string(domain.DirectionNeutral),
			},
			Metrics: map[string]float64{
				"change_pct":   changePct,
				"member_count": float64(len(members)),
			},
			FlowScore:            domain.Clamp(changePct, 0, 100),
			PatternInBothWindows: true,
			Actors:               clusterActors(cur, clusterID),
		})
	}
	return out, nil
}

func clusterMembers(snap *domain.Snapshot) map[string][]string {
	clusters := make(map[string][]string)
	for _, a := range snap.Actors {
		if a.ClusterID == "" {
			continue
		}
		clusters[a.ClusterID] = append(clusters[a.ClusterID], a.ActorID)
	}
	return clusters
}

func clusterActors(snap *domain.Snapshot, clusterID string) []domain.SnapshotActor {
	var out []domain.SnapshotActor
	for _, a := range snap.Actors {
		if a.ClusterID == clusterID {
			out = append(out, a)
		}
	}
	return out
}

func directionFromNet(netUSD float64) domain.FlowDirection {
	switch {
	case netUSD > 0:
		return domain.DirectionInflow
	case netUSD < 0:
		return domain.DirectionOutflow
	default:
		return domain.DirectionNeutral
	}
}

func topActorIDs(snap *domain.Snapshot, limit int) []string {
	ids := make([]string, 0, limit)
	for _, a := range snap.Actors {
		ids = append(ids, a.ActorID)
		if len(ids) == limit {
			break
		}
	}
	return ids
}
