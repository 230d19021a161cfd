package strategy

import (
	"encoding/json"
	"time"
)

// Reason explains why a strategy was chosen. It is a closed set; the zero value
// stands for "no strategy recorded yet".
type Reason string

const (
	ReasonDefault            Reason = "DEFAULT"
	ReasonHighLatencyHighRag Reason = "HIGH_LATENCY_HIGH_RAG"
	ReasonNoMetricData       Reason = "NO_METRIC_DATA"

	reasonNone      Reason = ""
	reasonNoneLabel        = "NONE"
)

func (r Reason) String() string {
	if r == reasonNone {
		return reasonNoneLabel
	}
	return string(r)
}

// IsDegraded reports whether the reason marks a degraded routing decision
// (latency or error driven) that operators should be warned about.
func (r Reason) IsDegraded() bool {
	return r == ReasonHighLatencyHighRag
}

// Decision thresholds.
const (
	LatencyThresholdSeconds = 5.0
	RagRatioThreshold       = 0.5
	QualityGateModel        = "quality-gate"
)

// Strategy is the routing decision for one domain. Values are compared with ==.
type Strategy struct {
	UseRag        bool
	ModelOverride string // empty means no override
	Reason        Reason
}

var (
	// DefaultStrategy is returned when the metric backend has no data.
	DefaultStrategy = Strategy{UseRag: true, Reason: ReasonNoMetricData}
	// BaselineStrategy is the healthy steady state.
	BaselineStrategy = Strategy{UseRag: true, Reason: ReasonDefault}
	// QualityGateStrategy disables retrieval and forces the quality-gate model.
	QualityGateStrategy = Strategy{UseRag: false, ModelOverride: QualityGateModel, Reason: ReasonHighLatencyHighRag}
)

type strategyJSON struct {
	UseRag        bool    `json:"useRag"`
	ModelOverride *string `json:"modelOverride"`
	Reason        string  `json:"reason"`
}

// MarshalJSON renders an empty override as null.
func (s Strategy) MarshalJSON() ([]byte, error) {
	out := strategyJSON{UseRag: s.UseRag, Reason: s.Reason.String()}
	if s.ModelOverride != "" {
		override := s.ModelOverride
		out.ModelOverride = &override
	}
	return json.Marshal(out)
}

// TransitionEvent records a change of strategy for a domain.
type TransitionEvent struct {
	Seq        uint64    `json:"seq"`
	Domain     string    `json:"domain"`
	From       Strategy  `json:"from"`
	To         Strategy  `json:"to"`
	Reason     Reason    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}
