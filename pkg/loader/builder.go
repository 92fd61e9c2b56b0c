// Package loader builds an identifier mapping store from a file of
// identifier pairs.
package loader

import (
	"bufio"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
	"git.canoozie.net/riddling/xrefdb/pkg/qc"
	"git.canoozie.net/riddling/xrefdb/pkg/registry"
	"git.canoozie.net/riddling/xrefdb/pkg/store"
)

// Metadata keys written before any data
const (
	InfoBuildDate         = "BUILDDATE"
	InfoDataSourceName    = "DATASOURCENAME"
	InfoDataSourceVersion = "DATASOURCEVERSION"
	InfoSchemaVersion     = "SCHEMAVERSION"
	InfoSeries            = "SERIES"
	InfoDataType          = "DATATYPE"
	InfoBuildID           = "BUILDID"
	InfoPrimarySource     = "PRIMARYSOURCE"
	InfoSecondarySource   = "SECONDARYSOURCE"
)

// maxLineSize bounds one input line
const maxLineSize = 1024 * 1024

// Result describes a finished build
type Result struct {
	BuildID      string
	Rows         int   // Data rows read, header excluded
	Primaries    int   // Primary entries written, once per batch they appear in
	Nodes        int   // Distinct nodes inserted
	Links        int   // Link inserts, reflexive included
	Commits      int   // Per-primary store commits
	FlushSizes   []int // Rows in each flushed batch
	StorePath    string
	BaselinePath string
	SnapshotPath string // Release copy, empty unless released
	QC           *qc.Report
	Duration     time.Duration
}

// Builder runs one build
type Builder struct {
	config   Config
	registry *registry.Registry
	logger   model.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewBuilder creates a builder. Zero config fields take their defaults.
func NewBuilder(config Config, reg *registry.Registry) *Builder {
	config = config.withDefaults()
	return &Builder{
		config:   config,
		registry: reg,
		logger:   config.Logger,
		metrics:  NewMetrics(config.Series),
		now:      time.Now,
	}
}

// Metrics returns the metrics of the build
func (b *Builder) Metrics() *Metrics {
	return b.metrics
}

// Run builds the store. Any error leaves no store behind; QC findings never
// fail the build.
func (b *Builder) Run() (*Result, error) {
	start := b.now()
	result, err := b.run(start)

	b.metrics.Duration.Set(b.now().Sub(start).Seconds())
	if err == nil {
		b.metrics.LastSuccess.Set(float64(b.now().Unix()))
	}
	if b.config.MetricsFile != "" {
		if werr := b.metrics.WriteFile(b.config.MetricsFile); werr != nil {
			b.logger.Warn("Failed to write metrics: %v", werr)
		}
	}

	if err != nil {
		return nil, err
	}
	result.Duration = b.now().Sub(start)
	return result, nil
}

func (b *Builder) run(start time.Time) (*Result, error) {
	cfg := b.config

	buildDate := cfg.BuildDate
	if buildDate.IsZero() {
		buildDate = start
	}

	if b.registry == nil {
		return nil, &BuildError{Stage: StageConfig, Err: errors.New("no datasource registry")}
	}
	primary, err := b.registry.ResolveBySystemCode(cfg.PrimaryCode)
	if err != nil {
		return nil, &BuildError{Stage: StageConfig, Err: errors.Wrap(err, "resolving primary datasource")}
	}
	secondary, err := b.registry.ResolveBySystemCode(cfg.SecondaryCode)
	if err != nil {
		return nil, &BuildError{Stage: StageConfig, Err: errors.Wrap(err, "resolving secondary datasource")}
	}

	input, err := os.Open(cfg.InputPath)
	if err != nil {
		return nil, &BuildError{Stage: StageConfig, Err: errors.Wrap(err, "opening input")}
	}
	defer input.Close()

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, &BuildError{Stage: StageConfig, Err: errors.Wrapf(err, "creating output directory %s", cfg.OutputDir)}
	}

	result := &Result{
		BuildID:      uuid.New().String(),
		StorePath:    cfg.StorePath(),
		BaselinePath: cfg.BaselinePath,
	}
	if result.BaselinePath == "" {
		result.BaselinePath = cfg.ReleasePath(buildDate)
	}

	b.logger.Info("Building %s from %s (%s -> %s)", result.StorePath, cfg.InputPath, primary, secondary)

	sb, err := store.Create(result.StorePath, store.Options{
		Backend:      cfg.Backend,
		Logger:       b.logger,
		MemTableSize: cfg.MemTableSize,
	})
	if err != nil {
		return nil, &BuildError{Stage: StageStore, Err: err}
	}

	if err := b.load(sb, input, primary, secondary, buildDate, result); err != nil {
		b.discard(sb, result.StorePath)
		return nil, err
	}

	if err := sb.Finalize(); err != nil {
		b.discard(sb, result.StorePath)
		return nil, &BuildError{Stage: StageFinalize, Err: err}
	}
	b.logger.Info("Database finished: %d rows, %d nodes, %d links", result.Rows, result.Nodes, result.Links)

	if !cfg.SkipQC {
		comparator := qc.New(qc.Config{Logger: b.logger, MaxDecrease: cfg.MaxQCDecrease})
		report, err := comparator.Compare(result.BaselinePath, result.StorePath)
		if err != nil {
			// QC is advisory
			b.logger.Warn("QC did not run: %v", err)
		} else {
			result.QC = report
			if report.Passed() {
				b.logger.Info("QC passed against %s", result.BaselinePath)
			} else {
				b.logger.Warn("QC raised %d warning(s) against %s", len(report.Warnings), result.BaselinePath)
			}
		}
	}

	if cfg.Release {
		releasePath := cfg.ReleasePath(buildDate)
		if err := copyStore(result.StorePath, releasePath); err != nil {
			return nil, &BuildError{Stage: StageFinalize, Err: errors.Wrap(err, "releasing store")}
		}
		result.SnapshotPath = releasePath
		b.logger.Info("Released store as %s", releasePath)
	}

	return result, nil
}

// load writes metadata, then streams the input through parser, batch and writer
func (b *Builder) load(sb store.Builder, input io.Reader, primary, secondary model.DataSource, buildDate time.Time, result *Result) error {
	cfg := b.config

	if err := sb.CreateSchema(); err != nil {
		return &BuildError{Stage: StageStore, Err: errors.Wrap(err, "creating schema")}
	}
	if err := sb.BeginLoad(); err != nil {
		return &BuildError{Stage: StageStore, Err: errors.Wrap(err, "beginning load")}
	}

	info := [][2]string{
		{InfoBuildDate, buildDate.Format(DateFormat)},
		{InfoDataSourceName, cfg.DataSourceName},
		{InfoDataSourceVersion, cfg.DataSourceVersion},
		{InfoSchemaVersion, cfg.SchemaVersion},
		{InfoSeries, cfg.Series},
		{InfoDataType, cfg.DataType},
		{InfoBuildID, result.BuildID},
		{InfoPrimarySource, primary.SystemCode},
		{InfoSecondarySource, secondary.SystemCode},
	}
	for _, kv := range info {
		if err := sb.SetInfo(kv[0], kv[1]); err != nil {
			return &BuildError{Stage: StageStore, Err: errors.Wrapf(err, "setting %s", kv[0])}
		}
	}
	if err := sb.Commit(); err != nil {
		return &BuildError{Stage: StageStore, Err: errors.Wrap(err, "committing metadata")}
	}

	parser := NewParser(primary, secondary, cfg.Delimiter)
	batch := NewBatch(cfg.FlushThreshold)
	writer := NewWriter(sb, b.logger)

	flush := func(lineNo int, last model.Xref) error {
		rows := batch.Rows()
		if err := writer.Flush(batch); err != nil {
			return &BuildError{Stage: StageWrite, Line: lineNo, Err: err}
		}
		result.FlushSizes = append(result.FlushSizes, rows)
		batch.Reset()

		b.metrics.Flushes.Inc()
		b.logger.Info("Batch %d: %d rows processed, last primary %s", len(result.FlushSizes), result.Rows, last)
		return nil
	}

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNo := 0
	var last model.Xref
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue // header
		}

		row, err := parser.Parse(scanner.Text(), lineNo)
		if err != nil {
			return &BuildError{Stage: StageParse, Line: lineNo, Err: err}
		}

		result.Rows++
		b.metrics.Rows.Inc()
		last = row.Primary

		if batch.Record(row.Primary, row.Secondary) {
			if err := flush(lineNo, last); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &BuildError{Stage: StageParse, Line: lineNo + 1, Err: errors.Wrap(err, "reading input")}
	}

	if batch.Rows() > 0 {
		if err := flush(lineNo, last); err != nil {
			return err
		}
	}

	result.Primaries = writer.Primaries()
	result.Nodes = writer.Nodes()
	result.Links = writer.Links()
	result.Commits = writer.Commits()

	b.metrics.Primaries.Add(float64(result.Primaries))
	b.metrics.Nodes.Add(float64(result.Nodes))
	b.metrics.Links.Add(float64(result.Links))
	b.metrics.Commits.Add(float64(result.Commits))
	return nil
}

// discard closes a failed store and removes it
func (b *Builder) discard(sb store.Builder, path string) {
	if c, ok := sb.(io.Closer); ok {
		if err := c.Close(); err != nil {
			b.logger.Debug("Closing discarded store: %v", err)
		}
	}
	if err := os.RemoveAll(path); err != nil {
		b.logger.Error("Failed to remove partial store %s: %v", path, err)
	}
}
