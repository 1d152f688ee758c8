// Package metrics keeps vault-wide gauges and renders them for pull-based
// collection.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/starford/vaultlog/internal/models"
)

// Snapshot is the vault state computed by the last Update.
type Snapshot struct {
	Notes      int
	Words      int
	UniqueTags int
	Links      int
	Skipped    int
	UpdatedAt  time.Time
}

// Aggregator recomputes gauges from a full scan. Update is expected to be
// called by one run at a time; readers only see the last completed Update.
type Aggregator struct {
	registry *prometheus.Registry
	snapshot Snapshot

	notes      prometheus.Gauge
	words      prometheus.Gauge
	uniqueTags prometheus.Gauge
	links      prometheus.Gauge
	skipped    prometheus.Gauge
	lastRun    prometheus.Gauge
}

// New creates an Aggregator whose gauges carry the vault name as a constant label.
func New(vault string) *Aggregator {
	labels := prometheus.Labels{"vault": vault}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	a := &Aggregator{
		registry:   prometheus.NewRegistry(),
		notes:      gauge("vault_notes_total", "Number of notes in the vault"),
		words:      gauge("vault_words_total", "Combined word count of all notes"),
		uniqueTags: gauge("vault_unique_tags", "Number of distinct declared and inline tags"),
		links:      gauge("vault_links_total", "Combined number of cross-references across notes"),
		skipped:    gauge("vault_skipped_notes", "Notes skipped by the last run because they could not be parsed"),
		lastRun:    gauge("vault_last_run_timestamp_seconds", "Start time of the last completed aggregation"),
	}
	a.registry.MustRegister(a.notes, a.words, a.uniqueTags, a.links, a.skipped, a.lastRun)
	return a
}

// Compute derives a snapshot from the records of a full scan.
func Compute(records []*models.Record, skipped int, at time.Time) Snapshot {
	s := Snapshot{Notes: len(records), Skipped: skipped, UpdatedAt: at}
	tags := make(map[string]struct{})
	for _, r := range records {
		s.Words += r.WordCount
		s.Links += len(r.Links)
		for _, t := range r.Tags {
			tags[t] = struct{}{}
		}
		for _, t := range r.InlineTags {
			tags[t] = struct{}{}
		}
	}
	s.UniqueTags = len(tags)
	return s
}

// Update replaces every gauge with values computed from records.
func (a *Aggregator) Update(records []*models.Record, skipped int, at time.Time) Snapshot {
	s := Compute(records, skipped, at)
	a.notes.Set(float64(s.Notes))
	a.words.Set(float64(s.Words))
	a.uniqueTags.Set(float64(s.UniqueTags))
	a.links.Set(float64(s.Links))
	a.skipped.Set(float64(s.Skipped))
	a.lastRun.Set(float64(at.Unix()))
	a.snapshot = s
	return s
}

// Snapshot returns the result of the last Update.
func (a *Aggregator) Snapshot() Snapshot {
	return a.snapshot
}

// Expose writes the current gauges in the Prometheus text format.
func (a *Aggregator) Expose(w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the current gauges over HTTP.
func (a *Aggregator) Handler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

// WriteFile atomically writes the exposition to path, for textfile collectors.
func (a *Aggregator) WriteFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("metrics: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".metrics-tmp-*")
	if err != nil {
		return fmt.Errorf("metrics: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := a.Expose(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metrics: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("metrics: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("metrics: rename: %w", err)
	}
	success = true
	return nil
}
