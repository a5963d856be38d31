package manager

import (
	"time"

	"github.com/whamworks/resourced/pkg/storage"
	"github.com/whamworks/resourced/pkg/types"
)

// StatSample is one reported data point for a named statistic, as forwarded
// to the configured StatSink by sessionGetStats.
type StatSample struct {
	RecordID string
	Name     string
	At       time.Time
	Value    float64
}

// StatUpdate is the per-statistic payload a plugin session hands to
// session_get_stats: the declared sample period (used to detect a drifted
// redeclaration) and zero or more freshly observed samples to forward to
// the sink.
type StatUpdate struct {
	Name         string
	SamplePeriod time.Duration
	Samples      []float64
}

// StatSink is the opaque time-series destination for reported samples;
// the core only owns the declaration row (StorageResourceStatistic);
// sample storage and retrieval is entirely this collaborator's concern.
type StatSink interface {
	Observe(recordID, name string, at time.Time, value float64)
	Clear(recordID, name string)
}

// noopStatSink is the default for the dev harness and tests that never
// exercise sample forwarding.
type noopStatSink struct{}

func (noopStatSink) Observe(string, string, time.Time, float64) {}
func (noopStatSink) Clear(string, string)                       {}

// sessionGetStats implements session_get_stats: for each named update,
// fetch or create the statistic's declaration row; a redeclared
// sample_period discards the existing row (ErrStatisticPeriodChanged,
// logged as a warning, not returned; the condition is informational) and
// recreates it; every sample is forwarded to the sink. Returns one
// declaration row per update, as current after the call.
func (m *Manager) sessionGetStats(b *storage.Batch, recordID string, updates []StatUpdate) ([]*types.StorageResourceStatistic, error) {
	out := make([]*types.StorageResourceStatistic, 0, len(updates))
	now := time.Now()

	for _, u := range updates {
		stat, found, err := b.GetStatistic(recordID, u.Name)
		if err != nil {
			return nil, err
		}
		if found && stat.SamplePeriod != u.SamplePeriod {
			m.logger.Warn().
				Str("record_id", recordID).
				Str("name", u.Name).
				Dur("previous_period", stat.SamplePeriod).
				Dur("declared_period", u.SamplePeriod).
				AnErr("reason", ErrStatisticPeriodChanged).
				Msg("statistic sample period changed, discarding existing samples")
			if err := b.DeleteStatistic(recordID, u.Name); err != nil {
				return nil, err
			}
			m.stats.Clear(recordID, u.Name)
			found = false
		}
		if !found {
			stat = &types.StorageResourceStatistic{
				RecordID:     recordID,
				Name:         u.Name,
				SamplePeriod: u.SamplePeriod,
			}
			if err := b.UpsertStatistic(stat); err != nil {
				return nil, err
			}
		}

		for _, v := range u.Samples {
			m.stats.Observe(recordID, u.Name, now, v)
		}
		out = append(out, stat)
	}
	return out, nil
}
