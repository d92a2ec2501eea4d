package idb

import (
	"errors"
	"io"

	vmetrics "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// Stats collects counters of the disk tier.
//
// The counters live in a go-metrics registry, which backs the info command. The
// same values are exported in Prometheus text format through a VictoriaMetrics
// set (WritePrometheus). Every tier has its own registry and set, so several
// tiers can live in one process (tests).
type Stats struct {
	registry gometrics.Registry

	hits         gometrics.Counter // records loaded from disk
	bufferHits   gometrics.Counter // lookups answered by a dirty buffer
	misses       gometrics.Counter // keys neither buffered nor on disk
	expired      gometrics.Counter // expired records found by lookups
	corrupt      gometrics.Counter // records that failed to decode
	reaped       gometrics.Counter // expired records deleted by the reaper
	reapFailures gometrics.Counter
	flushedKeys  gometrics.Counter
	flushes      gometrics.Counter
	flushErrors  gometrics.Counter
	flushTimer   gometrics.Timer

	set           *vmetrics.Set
	flushDuration *vmetrics.Histogram
}

// StatsSnapshot is a point in time copy of the counters
type StatsSnapshot struct {
	Hits              int64   `json:"hits"`
	BufferHits        int64   `json:"buffer_hits"`
	Misses            int64   `json:"misses"`
	Expired           int64   `json:"expired"`
	Corrupt           int64   `json:"corrupt"`
	Reaped            int64   `json:"reaped"`
	ReapFailures      int64   `json:"reap_failures"`
	FlushedKeys       int64   `json:"flushed_keys"`
	Flushes           int64   `json:"flushes"`
	FlushErrors       int64   `json:"flush_errors"`
	FlushMeanDuration float64 `json:"flush_mean_duration_ms"`
}

func newStats(t *Tier) *Stats {
	s := &Stats{
		registry:     gometrics.NewRegistry(),
		hits:         gometrics.NewCounter(),
		bufferHits:   gometrics.NewCounter(),
		misses:       gometrics.NewCounter(),
		expired:      gometrics.NewCounter(),
		corrupt:      gometrics.NewCounter(),
		reaped:       gometrics.NewCounter(),
		reapFailures: gometrics.NewCounter(),
		flushedKeys:  gometrics.NewCounter(),
		flushes:      gometrics.NewCounter(),
		flushErrors:  gometrics.NewCounter(),
		flushTimer:   gometrics.NewTimer(),
		set:          vmetrics.NewSet(),
	}

	for name, metric := range map[string]interface{}{
		"lookup.hits":        s.hits,
		"lookup.buffer_hits": s.bufferHits,
		"lookup.misses":      s.misses,
		"lookup.expired":     s.expired,
		"lookup.corrupt":     s.corrupt,
		"reaper.deleted":     s.reaped,
		"reaper.failures":    s.reapFailures,
		"flush.keys":         s.flushedKeys,
		"flush.count":        s.flushes,
		"flush.errors":       s.flushErrors,
		"flush.duration":     s.flushTimer,
	} {
		if err := s.registry.Register(name, metric); err != nil {
			log.Panicf("failed to register metric %s: %v", name, err)
		}
	}

	counter := func(c gometrics.Counter) func() float64 {
		return func() float64 { return float64(c.Count()) }
	}
	s.set.NewGauge(`idb_lookups_total{result="hit"}`, counter(s.hits))
	s.set.NewGauge(`idb_lookups_total{result="buffer"}`, counter(s.bufferHits))
	s.set.NewGauge(`idb_lookups_total{result="miss"}`, counter(s.misses))
	s.set.NewGauge(`idb_lookups_total{result="expired"}`, counter(s.expired))
	s.set.NewGauge(`idb_lookups_total{result="corrupt"}`, counter(s.corrupt))
	s.set.NewGauge(`idb_reaped_total`, counter(s.reaped))
	s.set.NewGauge(`idb_flushed_keys_total`, counter(s.flushedKeys))
	s.set.NewGauge(`idb_flushes_total`, counter(s.flushes))
	s.set.NewGauge(`idb_flush_errors_total`, counter(s.flushErrors))
	s.flushDuration = s.set.NewHistogram(`idb_flush_duration_seconds`)

	// tier bookkeeping, read under the tier lock on every scrape
	s.set.NewGauge(`idb_dirty_keys`, func() float64 {
		return float64(t.Dirty())
	})
	s.set.NewGauge(`idb_flush_in_progress`, func() float64 {
		if t.CurrentJob() != nil {
			return 1
		}
		return 0
	})
	s.set.NewGauge(`idb_last_flush_ok`, func() float64 {
		if t.LastStatus() != nil {
			return 0
		}
		return 1
	})
	s.set.NewGauge(`idb_enabled`, func() float64 {
		if t.Enabled() {
			return 1
		}
		return 0
	})

	return s
}

// recordFlush updates the counters with the outcome of a background flush
func (s *Stats) recordFlush(o FlushOutcome) {
	s.flushes.Inc(1)
	s.flushedKeys.Inc(int64(o.Written))
	if o.State == FlushFailed || (o.State == FlushInterrupted && !errors.Is(o.Err, ErrFlushCanceled)) {
		s.flushErrors.Inc(1)
	}
	s.flushTimer.Update(o.Duration)
	s.flushDuration.Update(o.Duration.Seconds())
}

// Snapshot returns the current counter values
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:              s.hits.Count(),
		BufferHits:        s.bufferHits.Count(),
		Misses:            s.misses.Count(),
		Expired:           s.expired.Count(),
		Corrupt:           s.corrupt.Count(),
		Reaped:            s.reaped.Count(),
		ReapFailures:      s.reapFailures.Count(),
		FlushedKeys:       s.flushedKeys.Count(),
		Flushes:           s.flushes.Count(),
		FlushErrors:       s.flushErrors.Count(),
		FlushMeanDuration: s.flushTimer.Mean() / 1e6,
	}
}

// Registry returns the go-metrics registry holding the counters
func (s *Stats) Registry() gometrics.Registry {
	return s.registry
}

// WritePrometheus writes all tier metrics in Prometheus text format
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}
