package contracts

import "time"

// Detection method values for Anomaly.DetectionMethod.
const (
	DetectionZScore    = "z_score"
	DetectionIQR       = "iqr"
	DetectionZScoreIQR = "z_score+iqr"
)

// Anomaly is one flagged observation. ZScore is zero when the z-score
// branch did not run (it needs a baseline with std > 0); the IQR fence
// branch always runs, and with a degenerate zero-width fence IQRScore
// falls back to the raw distance from the fence so it stays finite.
// Acknowledgement is append-only: the original record keeps its detected
// state and an Acknowledgement record marks the review.
type Anomaly struct {
	AnomalyID       string    `json:"anomaly_id"`
	AgentID         string    `json:"agent_id"`
	MetricName      string    `json:"metric_name"`
	Severity        Severity  `json:"severity"`
	BaselineValue   float64   `json:"baseline_value"`
	ObservedValue   float64   `json:"observed_value"`
	ZScore          float64   `json:"z_score"`
	IQRScore        float64   `json:"iqr_score"`
	DetectionMethod string    `json:"detection_method"`
	Confidence      float64   `json:"confidence"`
	Description     string    `json:"description"`
	DetectedAt      time.Time `json:"detected_at"`
	Acknowledged    bool      `json:"acknowledged"`
	AcknowledgedBy  string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  time.Time `json:"acknowledged_at,omitempty"`
}

// AnomalyAcknowledgement is the append-only review record for one anomaly.
// The anomaly row itself is never mutated; readers merge the latest
// acknowledgement into the returned view.
type AnomalyAcknowledgement struct {
	AnomalyID      string    `json:"anomaly_id"`
	AcknowledgedBy string    `json:"acknowledged_by"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

// BaselineStats is the rolling statistical summary for one
// (agent, metric) pair. Values is a bounded FIFO whose capacity is the
// configured baseline sample size; stats are recomputed once SampleCount
// reaches the minimum sample threshold.
type BaselineStats struct {
	AgentID     string    `json:"agent_id"`
	MetricName  string    `json:"metric_name"`
	Values      []float64 `json:"values,omitempty"`
	SampleCount int       `json:"sample_count"`
	Mean        float64   `json:"mean"`
	Std         float64   `json:"std"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Q1          float64   `json:"q1"`
	Q3          float64   `json:"q3"`
	LastUpdated time.Time `json:"last_updated"`
}
