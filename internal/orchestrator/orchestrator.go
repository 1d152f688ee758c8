// Package orchestrator wires scanning, extraction, logging, aggregation and
// watermark persistence into a single run.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/vaultlog/internal/apperr"
	"github.com/starford/vaultlog/internal/checksum"
	"github.com/starford/vaultlog/internal/index"
	"github.com/starford/vaultlog/internal/metrics"
	"github.com/starford/vaultlog/internal/models"
	"github.com/starford/vaultlog/internal/parser"
	"github.com/starford/vaultlog/internal/state"
	"github.com/starford/vaultlog/internal/vault"
)

// DefaultWatermarkSlack is subtracted from the run start before it is
// committed. File systems with coarse mtimes (jiffies, FAT, network mounts)
// can stamp an edit made just after the start with an earlier time.
const DefaultWatermarkSlack = 2 * time.Second

// maxLabelValue bounds label values; longer header values stay in the payload only.
const maxLabelValue = 100

// State is a stage of a run.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateExtracting
	StateLogging
	StateAggregating
	StateCommitting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateExtracting:
		return "extracting"
	case StateLogging:
		return "logging"
	case StateAggregating:
		return "aggregating"
	case StateCommitting:
		return "committing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sink receives one entry per changed note.
type Sink interface {
	Append(entry models.LogEntry) error
}

// Report summarises one run. State is StateIdle after a successful run and
// StateFailed otherwise, with the failing stage in FailedIn.
type Report struct {
	RunID     string
	StartedAt time.Time
	State     State
	FailedIn  State
	Watermark time.Time
	Committed time.Time
	Scanned   int
	Processed int
	Unchanged int
	Skipped   int
	Emitted   int
	Snapshot  metrics.Snapshot
	Duration  time.Duration
}

// Orchestrator runs the pipeline. Runs must not overlap.
type Orchestrator struct {
	vaultPath   string
	ext         string
	tracker     *state.Tracker
	sink        Sink
	metrics     *metrics.Aggregator
	index       index.NoteIndex
	labelFields []string
	slack       time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExtension sets the note file extension.
func WithExtension(ext string) Option {
	return func(o *Orchestrator) { o.ext = ext }
}

// WithIndex enables syncing the note catalog during aggregation.
func WithIndex(idx index.NoteIndex) Option {
	return func(o *Orchestrator) { o.index = idx }
}

// WithLabelFields sets the header fields promoted to log labels.
func WithLabelFields(fields []string) Option {
	return func(o *Orchestrator) { o.labelFields = fields }
}

// WithWatermarkSlack sets how far before the run start the committed
// watermark lies.
func WithWatermarkSlack(d time.Duration) Option {
	return func(o *Orchestrator) { o.slack = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator for the vault at vaultPath.
func New(vaultPath string, tracker *state.Tracker, sink Sink, agg *metrics.Aggregator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		vaultPath: vaultPath,
		ext:       vault.DefaultExtension,
		tracker:   tracker,
		sink:      sink,
		metrics:   agg,
		slack:     DefaultWatermarkSlack,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one scan → extract → log → aggregate → commit cycle. The
// watermark is committed only when logging and aggregation both succeed, and
// it is the time the run started less the slack, so notes edited during the
// run are picked up again next time.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	start := o.now()
	rep := &Report{RunID: uuid.NewString(), StartedAt: start, State: StateIdle}
	logger := o.logger.With(slog.String("run_id", rep.RunID))

	fail := func(err error) (*Report, error) {
		rep.FailedIn = rep.State
		rep.State = StateFailed
		rep.Duration = o.now().Sub(start)
		logger.ErrorContext(ctx, "run failed",
			slog.String("state", rep.FailedIn.String()),
			slog.String("error", err.Error()))
		return rep, err
	}
	enter := func(s State) {
		rep.State = s
		logger.DebugContext(ctx, "run: state", slog.String("state", s.String()))
	}

	enter(StateScanning)
	v, err := vault.NewFS(o.vaultPath, o.ext)
	if err != nil {
		return fail(err)
	}
	files, err := v.Scan()
	if err != nil {
		return fail(apperr.IO("scan", err))
	}
	rs := o.tracker.Load()
	toProcess, unchanged := state.Partition(files, rs)
	rep.Watermark = rs.Watermark
	rep.Scanned = len(files)
	rep.Processed = len(toProcess)
	rep.Unchanged = len(unchanged)

	pending := make(map[string]struct{}, len(toProcess))
	for _, f := range toProcess {
		pending[f.Path] = struct{}{}
	}

	enter(StateExtracting)
	records := make([]*models.Record, 0, len(files))
	var changed []*models.Record
	for _, f := range files {
		rec, err := o.extract(v, f, logger)
		if err != nil {
			rep.Skipped++
			logger.WarnContext(ctx, "skipping note",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
			continue
		}
		records = append(records, rec)
		if _, ok := pending[f.Path]; ok {
			changed = append(changed, rec)
		}
	}

	enter(StateLogging)
	for _, rec := range changed {
		entry, err := o.entry(rec)
		if err != nil {
			return fail(err)
		}
		if err := o.sink.Append(entry); err != nil {
			return fail(err)
		}
		rep.Emitted++
	}

	enter(StateAggregating)
	rep.Snapshot = o.metrics.Update(records, rep.Skipped, start)
	if o.index != nil {
		present := make(map[string]struct{}, len(files))
		for _, f := range files {
			present[f.Path] = struct{}{}
		}
		stats, err := index.Sync(o.index, records, present, logger)
		if err != nil {
			return fail(apperr.IO("index sync", err))
		}
		logger.DebugContext(ctx, "index synced",
			slog.Int("upserted", stats.Upserted),
			slog.Int("removed", stats.Removed))
	}

	enter(StateCommitting)
	committed := start.Add(-o.slack)
	if err := o.tracker.Commit(committed); err != nil {
		return fail(err)
	}
	rep.Committed = committed

	rep.State = StateIdle
	rep.Duration = o.now().Sub(start)
	logger.InfoContext(ctx, "run completed",
		slog.String("vault", v.Name()),
		slog.Int("scanned", rep.Scanned),
		slog.Int("processed", rep.Processed),
		slog.Int("unchanged", rep.Unchanged),
		slog.Int("skipped", rep.Skipped),
		slog.Int("emitted", rep.Emitted),
		slog.Duration("duration", rep.Duration))
	return rep, nil
}

// extract reads and parses one note. Every failure is a parse error.
func (o *Orchestrator) extract(v vault.Provider, f models.NoteFile, logger *slog.Logger) (*models.Record, error) {
	text, err := v.Read(f.Path)
	if err != nil {
		return nil, apperr.Parse(f.Path, err)
	}
	res, err := parser.Extract(text)
	if err != nil {
		return nil, apperr.Parse(f.Path, err)
	}
	if len(res.Dropped) > 0 {
		logger.Debug("dropped unsupported header fields",
			slog.String("path", f.Path),
			slog.Any("fields", res.Dropped))
	}
	return &models.Record{
		File:        f,
		Checksum:    checksum.Sum(text),
		WordCount:   res.WordCount,
		LineCount:   res.LineCount,
		CharCount:   res.CharCount,
		Frontmatter: res.Frontmatter,
		Tags:        res.Tags,
		InlineTags:  res.InlineTags,
		Links:       res.Links,
	}, nil
}

// entry builds the log entry for a record.
func (o *Orchestrator) entry(rec *models.Record) (models.LogEntry, error) {
	line, err := json.Marshal(rec)
	if err != nil {
		return models.LogEntry{}, apperr.IO("encode record "+rec.File.Path, err)
	}
	return models.LogEntry{
		Timestamp: o.now(),
		Labels:    o.labels(rec),
		Line:      string(line),
	}, nil
}

// labels returns the low-cardinality labels of a record.
func (o *Orchestrator) labels(rec *models.Record) map[string]string {
	l := map[string]string{"vault": rec.File.Vault}
	if len(rec.Tags) > 0 {
		l["tags"] = models.JoinList(rec.Tags)
	}
	for _, field := range o.labelFields {
		v, ok := rec.Frontmatter[field]
		if !ok {
			continue
		}
		s := v.Flatten()
		if s == "" || len(s) >= maxLabelValue {
			continue
		}
		l[models.FrontmatterKey(field)] = s
	}
	return l
}
