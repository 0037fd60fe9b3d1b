// Package anomaly maintains per-(agent, metric) rolling baselines and flags
// observations whose deviation exceeds the configured thresholds. Detection
// combines a z-score branch (suppressed while the baseline has zero
// variance) and an IQR fence branch.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/arguslabs/argus/core/pkg/audit"
	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// Options parameterize the detector.
type Options struct {
	BaselineSampleSize int     // ring capacity, default 1000
	MinBaselineSamples int     // detection threshold, default 30
	ZScoreThreshold    float64 // default 3
	IQRMultiplier      float64 // default 1.5
	Clock              func() time.Time
}

func (o *Options) defaults() {
	if o.BaselineSampleSize <= 0 {
		o.BaselineSampleSize = 1000
	}
	if o.MinBaselineSamples <= 0 {
		o.MinBaselineSamples = 30
	}
	if o.ZScoreThreshold <= 0 {
		o.ZScoreThreshold = 3.0
	}
	if o.IQRMultiplier <= 0 {
		o.IQRMultiplier = 1.5
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// baseline is the in-memory rolling window for one (agent, metric) pair.
type baseline struct {
	values []float64 // FIFO, oldest first
	stats  contracts.BaselineStats
}

// Detector records observations and flags outliers. Safe for concurrent use.
type Detector struct {
	store    datastore.Store
	auditLog *audit.Log
	opts     Options
	logger   *slog.Logger

	mu        sync.Mutex
	baselines map[string]*baseline
}

// NewDetector builds a detector. auditLog may be nil in tests.
func NewDetector(store datastore.Store, auditLog *audit.Log, opts Options) *Detector {
	opts.defaults()
	return &Detector{
		store:     store,
		auditLog:  auditLog,
		opts:      opts,
		logger:    slog.Default().With("component", "anomaly_detector"),
		baselines: make(map[string]*baseline),
	}
}

func baselineKey(agentID, metric string) string { return agentID + "\x00" + metric }

// Record appends an observation to the rolling baseline without running
// detection.
func (d *Detector) Record(agentID, metric string, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(agentID, metric, value)
}

func (d *Detector) record(agentID, metric string, value float64) *baseline {
	key := baselineKey(agentID, metric)
	b, ok := d.baselines[key]
	if !ok {
		b = &baseline{stats: contracts.BaselineStats{AgentID: agentID, MetricName: metric}}
		d.baselines[key] = b
	}
	b.values = append(b.values, value)
	if len(b.values) > d.opts.BaselineSampleSize {
		b.values = b.values[len(b.values)-d.opts.BaselineSampleSize:]
	}
	b.stats.SampleCount = len(b.values)
	if len(b.values) >= d.opts.MinBaselineSamples {
		recompute(&b.stats, b.values)
	}
	b.stats.LastUpdated = d.opts.Clock().UTC()
	return b
}

// SetBaseline seeds the rolling window from historical values, replacing any
// accumulated state. Fewer than the minimum sample count is E8302.
func (d *Detector) SetBaseline(agentID, metric string, values []float64) error {
	if len(values) < d.opts.MinBaselineSamples {
		return errcode.Newf(errcode.CodeInsufficientBaselineData,
			"baseline needs at least %d values, got %d", d.opts.MinBaselineSamples, len(values))
	}
	if len(values) > d.opts.BaselineSampleSize {
		values = values[len(values)-d.opts.BaselineSampleSize:]
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	b := &baseline{
		values: append([]float64(nil), values...),
		stats:  contracts.BaselineStats{AgentID: agentID, MetricName: metric},
	}
	b.stats.SampleCount = len(b.values)
	recompute(&b.stats, b.values)
	b.stats.LastUpdated = d.opts.Clock().UTC()
	d.baselines[baselineKey(agentID, metric)] = b
	return nil
}

// Baseline returns a copy of the current stats for one (agent, metric) pair,
// or E8305 if the metric was never recorded.
func (d *Detector) Baseline(agentID, metric string) (*contracts.BaselineStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.baselines[baselineKey(agentID, metric)]
	if !ok {
		return nil, errcode.Newf(errcode.CodeMetricNotTracked, "no baseline for %s/%s", agentID, metric)
	}
	stats := b.stats
	return &stats, nil
}

// Detect tests the observation against the baseline as it stood before
// this value, then folds the value into the window. With fewer than the
// minimum samples it records the value and returns ([], E8302). Emitted
// anomalies are stored and audited.
func (d *Detector) Detect(ctx context.Context, agentID, metric string, value float64) ([]*contracts.Anomaly, error) {
	d.mu.Lock()
	prior, ok := d.baselines[baselineKey(agentID, metric)]
	if !ok || prior.stats.SampleCount < d.opts.MinBaselineSamples {
		b := d.record(agentID, metric, value)
		count := b.stats.SampleCount
		d.mu.Unlock()
		return []*contracts.Anomaly{}, errcode.Newf(errcode.CodeInsufficientBaselineData,
			"%d of %d baseline samples collected for %s/%s", count, d.opts.MinBaselineSamples, agentID, metric)
	}
	stats := prior.stats
	d.record(agentID, metric, value)
	d.mu.Unlock()

	a := evaluate(&stats, value, d.opts)
	if a == nil {
		return []*contracts.Anomaly{}, nil
	}
	a.AnomalyID = contracts.NewID("anm")
	a.AgentID = agentID
	a.MetricName = metric
	a.DetectedAt = d.opts.Clock().UTC()

	if err := d.store.AppendAnomaly(ctx, a); err != nil {
		return nil, errcode.Wrap(errcode.CodeAnomalyDetectionFailed, "store anomaly", err)
	}
	if d.auditLog != nil {
		_, err := d.auditLog.Log(ctx, "anomaly_detected", agentID, contracts.ActorAgent,
			"anomaly", a.AnomalyID, map[string]any{
				"metric_name":      metric,
				"observed_value":   value,
				"severity":         a.Severity,
				"detection_method": a.DetectionMethod,
				"confidence":       a.Confidence,
			}, "")
		if err != nil {
			d.logger.Error("audit anomaly failed", "anomaly_id", a.AnomalyID, "error", err)
		}
	}
	return []*contracts.Anomaly{a}, nil
}

// evaluate runs both detection branches against frozen stats. Returns nil
// when neither triggers.
func evaluate(stats *contracts.BaselineStats, value float64, opts Options) *contracts.Anomaly {
	var (
		zTriggered, iqrTriggered bool
		zScore, iqrScore         float64
	)

	if stats.Std > 0 {
		zScore = math.Abs(value-stats.Mean) / stats.Std
		zTriggered = zScore > opts.ZScoreThreshold
	}

	iqr := stats.Q3 - stats.Q1
	lower := stats.Q1 - opts.IQRMultiplier*iqr
	upper := stats.Q3 + opts.IQRMultiplier*iqr
	switch {
	case value < lower:
		iqrScore = iqrDeviation(lower-value, iqr)
		iqrTriggered = true
	case value > upper:
		iqrScore = iqrDeviation(value-upper, iqr)
		iqrTriggered = true
	}

	if !zTriggered && !iqrTriggered {
		return nil
	}

	method := contracts.DetectionZScore
	branches := 1
	switch {
	case zTriggered && iqrTriggered:
		method = contracts.DetectionZScoreIQR
		branches = 2
	case iqrTriggered:
		method = contracts.DetectionIQR
	}

	return &contracts.Anomaly{
		Severity:        classify(zTriggered, iqrTriggered, zScore, iqrScore, stats.Std),
		BaselineValue:   stats.Mean,
		ObservedValue:   value,
		ZScore:          zScore,
		IQRScore:        iqrScore,
		DetectionMethod: method,
		Confidence:      0.5 + 0.25*float64(branches),
		Description:     describe(stats, value),
	}
}

// iqrDeviation scores how far past the fence an observation fell. With a
// degenerate zero-width IQR the raw distance stands in for the ratio.
func iqrDeviation(delta, iqr float64) float64 {
	if iqr > 0 {
		return delta / iqr
	}
	return delta
}

// classify maps branch outcomes to a severity. With the z-branch suppressed
// (std = 0) the IQR score alone decides.
func classify(zTriggered, iqrTriggered bool, z, iqrScore, std float64) contracts.Severity {
	if std == 0 {
		if iqrScore > 2 {
			return contracts.SeverityCritical
		}
		return contracts.SeverityHigh
	}
	switch {
	case (zTriggered && iqrTriggered && (z > 4 || iqrScore > 2)) || z > 5:
		return contracts.SeverityCritical
	case z > 3:
		return contracts.SeverityHigh
	case z > 1:
		return contracts.SeverityMedium
	default:
		return contracts.SeverityLow
	}
}

func describe(stats *contracts.BaselineStats, value float64) string {
	if stats.Mean == 0 {
		return fmt.Sprintf("observed %.2f against a zero-mean baseline", value)
	}
	pct := (value - stats.Mean) / math.Abs(stats.Mean) * 100
	return fmt.Sprintf("observed %.2f deviates %+.1f%% from baseline mean %.2f", value, pct, stats.Mean)
}

// Acknowledge records a review of an anomaly. The stored anomaly row is
// never modified; reads merge the acknowledgement.
func (d *Detector) Acknowledge(ctx context.Context, anomalyID, actor string) error {
	if _, err := d.store.GetAnomaly(ctx, anomalyID); err != nil {
		if datastore.IsNotFound(err) {
			return errcode.Newf(errcode.CodeAnomalyNotFound, "anomaly %s not found", anomalyID)
		}
		return errcode.Wrap(errcode.CodeDataStoreUnreachable, "load anomaly", err)
	}
	ack := &contracts.AnomalyAcknowledgement{
		AnomalyID:      anomalyID,
		AcknowledgedBy: actor,
		AcknowledgedAt: d.opts.Clock().UTC(),
	}
	if err := d.store.AppendAcknowledgement(ctx, ack); err != nil {
		return errcode.Wrap(errcode.CodeDataStoreUnreachable, "store acknowledgement", err)
	}
	if d.auditLog != nil {
		_, err := d.auditLog.Log(ctx, "anomaly_acknowledged", actor, contracts.ActorUser,
			"anomaly", anomalyID, nil, "")
		if err != nil {
			d.logger.Error("audit acknowledgement failed", "anomaly_id", anomalyID, "error", err)
		}
	}
	return nil
}

// Get returns the anomaly with any acknowledgement merged into the view.
func (d *Detector) Get(ctx context.Context, anomalyID string) (*contracts.Anomaly, error) {
	a, err := d.store.GetAnomaly(ctx, anomalyID)
	if err != nil {
		if datastore.IsNotFound(err) {
			return nil, errcode.Newf(errcode.CodeAnomalyNotFound, "anomaly %s not found", anomalyID)
		}
		return nil, errcode.Wrap(errcode.CodeDataStoreUnreachable, "load anomaly", err)
	}
	if ack, err := d.store.GetAcknowledgement(ctx, anomalyID); err == nil {
		a.Acknowledged = true
		a.AcknowledgedBy = ack.AcknowledgedBy
		a.AcknowledgedAt = ack.AcknowledgedAt
	}
	return a, nil
}

// List returns recent anomalies for an agent, acknowledgements merged.
func (d *Detector) List(ctx context.Context, agentID string, limit int) ([]*contracts.Anomaly, error) {
	as, err := d.store.ListAnomalies(ctx, agentID, limit)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeDataStoreUnreachable, "list anomalies", err)
	}
	for _, a := range as {
		if ack, err := d.store.GetAcknowledgement(ctx, a.AnomalyID); err == nil {
			a.Acknowledged = true
			a.AcknowledgedBy = ack.AcknowledgedBy
			a.AcknowledgedAt = ack.AcknowledgedAt
		}
	}
	return as, nil
}

// recompute refreshes mean, sample std, min, max, and the interpolating
// quartiles from the window.
func recompute(stats *contracts.BaselineStats, values []float64) {
	n := len(values)
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	varSum := 0.0
	for _, v := range values {
		d := v - mean
		varSum += d * d
	}
	std := 0.0
	if n > 1 {
		std = math.Sqrt(varSum / float64(n-1))
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	stats.Mean = mean
	stats.Std = std
	stats.Min = sorted[0]
	stats.Max = sorted[n-1]
	stats.Q1 = quantile(sorted, 0.25)
	stats.Q3 = quantile(sorted, 0.75)
}

// quantile computes the linearly interpolated q-quantile of sorted values.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
