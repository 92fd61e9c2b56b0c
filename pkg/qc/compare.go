// Package qc compares a freshly built store with a previous release.
package qc

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
	"git.canoozie.net/riddling/xrefdb/pkg/store"
)

// Info keys that are expected to change on every build
var volatileInfoKeys = map[string]bool{
	"BUILDDATE": true,
	"BUILDID":   true,
}

// Config holds comparator options
type Config struct {
	Logger model.Logger

	// MaxDecrease is the fraction a count may shrink by before it is
	// reported. Zero reports every decrease.
	MaxDecrease float64
}

// DefaultConfig returns the default comparator configuration
func DefaultConfig() Config {
	return Config{
		Logger:      model.DefaultLoggerInstance,
		MaxDecrease: 0,
	}
}

// Comparator diffs two stores
type Comparator struct {
	config Config
}

// New creates a comparator
func New(config Config) *Comparator {
	if config.Logger == nil {
		config.Logger = model.DefaultLoggerInstance
	}
	if config.MaxDecrease < 0 {
		config.MaxDecrease = 0
	}
	return &Comparator{config: config}
}

// Compare diffs two stores with the default configuration
func Compare(oldPath, newPath string) (*Report, error) {
	return New(DefaultConfig()).Compare(oldPath, newPath)
}

// Compare diffs the store at oldPath against the store at newPath.
// A missing old store is not an error: the report is marked BaselineMissing
// and only describes the new store.
func (c *Comparator) Compare(oldPath, newPath string) (*Report, error) {
	report := &Report{OldPath: oldPath, NewPath: newPath}

	newInfo, newStats, err := c.summarize(newPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading new store")
	}

	var oldInfo map[string]string
	oldStats := &store.Stats{NodesByCode: map[string]int{}, LinksByCode: map[string]int{}}

	if oldPath == "" || !store.Exists(oldPath) {
		report.BaselineMissing = true
		c.config.Logger.Warn("No baseline store at %q, reporting the new store only", oldPath)
	} else {
		oldInfo, oldStats, err = c.summarize(oldPath)
		if err != nil {
			return nil, errors.Wrap(err, "reading baseline store")
		}
	}

	report.Info = diffInfo(oldInfo, newInfo)
	report.Counts = diffCounts(oldStats, newStats)

	if !report.BaselineMissing {
		for _, d := range report.Info {
			if d.Old != "" && d.New == "" {
				report.Warnings = append(report.Warnings, fmt.Sprintf("info %s was dropped", d.Key))
			}
		}
		for _, d := range report.Counts {
			if d.New < d.Old && c.exceedsDecrease(d.Old, d.New) {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("%s decreased from %d to %d", d.Name, d.Old, d.New))
			}
		}
	}

	for _, w := range report.Warnings {
		c.config.Logger.Warn("QC: %s", w)
	}
	return report, nil
}

func (c *Comparator) exceedsDecrease(old, new int) bool {
	if old == 0 {
		return false
	}
	drop := float64(old-new) / float64(old)
	return drop > c.config.MaxDecrease
}

func (c *Comparator) summarize(path string) (map[string]string, *store.Stats, error) {
	r, err := store.Open(path, c.config.Logger)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	info, err := r.Info()
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading info")
	}

	stats, err := store.Collect(r)
	if err != nil {
		return nil, nil, err
	}
	return info, stats, nil
}

// InfoDiff is one metadata key in both stores
type InfoDiff struct {
	Key string
	Old string
	New string
}

// Changed reports whether the value differs between the stores
func (d InfoDiff) Changed() bool {
	return d.Old != d.New
}

// CountDiff is one count in both stores
type CountDiff struct {
	Name string
	Old  int
	New  int
}

// Delta returns New minus Old
func (d CountDiff) Delta() int {
	return d.New - d.Old
}

func diffInfo(old, new map[string]string) []InfoDiff {
	keys := make(map[string]bool)
	for k := range old {
		keys[k] = true
	}
	for k := range new {
		keys[k] = true
	}

	diffs := make([]InfoDiff, 0, len(keys))
	for k := range keys {
		diffs = append(diffs, InfoDiff{Key: k, Old: old[k], New: new[k]})
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Key < diffs[j].Key })
	return diffs
}

func diffCounts(old, new *store.Stats) []CountDiff {
	diffs := []CountDiff{
		{Name: "nodes", Old: old.Nodes, New: new.Nodes},
		{Name: "links", Old: old.Links, New: new.Links},
		{Name: "reflexive links", Old: old.Reflexive, New: new.Reflexive},
	}

	diffs = append(diffs, diffCountMap("nodes ", old.NodesByCode, new.NodesByCode)...)
	diffs = append(diffs, diffCountMap("links ", old.LinksByCode, new.LinksByCode)...)
	return diffs
}

func diffCountMap(prefix string, old, new map[string]int) []CountDiff {
	keys := make(map[string]bool)
	for k := range old {
		keys[k] = true
	}
	for k := range new {
		keys[k] = true
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	diffs := make([]CountDiff, 0, len(sorted))
	for _, k := range sorted {
		diffs = append(diffs, CountDiff{Name: prefix + k, Old: old[k], New: new[k]})
	}
	return diffs
}
