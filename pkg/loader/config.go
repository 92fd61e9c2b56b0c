package loader

import (
	"path/filepath"
	"time"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
	"git.canoozie.net/riddling/xrefdb/pkg/store"
)

// DateFormat is the layout of build dates and release file names (yyyyMMdd)
const DateFormat = "20060102"

// Config holds the options of one build
type Config struct {
	// InputPath is the tab-separated file of identifier pairs
	InputPath string

	// OutputDir receives the store, it is created if missing
	OutputDir string

	// Series names the store file and is stored as SERIES
	Series string

	// Backend selects the store implementation
	Backend store.Backend

	// System codes of the first and second input columns
	PrimaryCode   string
	SecondaryCode string

	// Delimiter separates input fields
	Delimiter string

	// FlushThreshold is the number of rows per batch
	FlushThreshold int

	// Metadata values stored with the build
	DataSourceName    string
	DataSourceVersion string
	SchemaVersion     string
	DataType          string

	// BuildDate stamps the build. Zero means the time the build starts.
	BuildDate time.Time

	// BaselinePath is the store QC compares against. Empty means the
	// release path for the build date.
	BaselinePath string

	// SkipQC disables the comparison after the build
	SkipQC bool

	// Release copies the finished store to the release path after QC
	Release bool

	// MetricsFile receives build metrics in Prometheus text format
	MetricsFile string

	// MemTableSize bounds the LSM write buffer. Zero uses the engine default.
	MemTableSize uint64

	// MaxQCDecrease is the fraction a count may shrink by before QC warns
	MaxQCDecrease float64

	Logger model.Logger
}

// DefaultConfig returns the configuration of the Wikidata to WikiPathways build
func DefaultConfig() Config {
	return Config{
		InputPath:         "pathways.tsv",
		OutputDir:         "output",
		Series:            "pathways",
		Backend:           store.BackendLSM,
		PrimaryCode:       "Wd",
		SecondaryCode:     "Wp",
		Delimiter:         DefaultDelimiter,
		FlushThreshold:    DefaultFlushThreshold,
		DataSourceName:    "Wikidata",
		DataSourceVersion: "1.0.0",
		SchemaVersion:     "3.0.10",
		DataType:          "Pathways",
		Logger:            model.DefaultLoggerInstance,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Series == "" {
		c.Series = d.Series
	}
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.PrimaryCode == "" {
		c.PrimaryCode = d.PrimaryCode
	}
	if c.SecondaryCode == "" {
		c.SecondaryCode = d.SecondaryCode
	}
	if c.Delimiter == "" {
		c.Delimiter = d.Delimiter
	}
	if c.FlushThreshold < 1 {
		c.FlushThreshold = d.FlushThreshold
	}
	if c.DataSourceName == "" {
		c.DataSourceName = d.DataSourceName
	}
	if c.DataSourceVersion == "" {
		c.DataSourceVersion = d.DataSourceVersion
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = d.SchemaVersion
	}
	if c.DataType == "" {
		c.DataType = d.DataType
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// StorePath returns the path of the store the build writes
func (c Config) StorePath() string {
	return filepath.Join(c.OutputDir, c.Series+c.Backend.Extension())
}

// ReleasePath returns the date-stamped path of the store released on date
func (c Config) ReleasePath(date time.Time) string {
	return filepath.Join(c.OutputDir, c.Series+"_"+date.Format(DateFormat)+c.Backend.Extension())
}
