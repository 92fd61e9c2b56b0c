package loader

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
	"git.canoozie.net/riddling/xrefdb/pkg/registry"
	"git.canoozie.net/riddling/xrefdb/pkg/store"
)

var buildDate = time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)

var backends = []store.Backend{store.BackendLSM, store.BackendBolt}

func writeInput(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "pathways.tsv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func testConfig(backend store.Backend, input string) Config {
	config := DefaultConfig()
	config.InputPath = input
	config.OutputDir = filepath.Join(filepath.Dir(input), "output")
	config.Backend = backend
	config.BuildDate = buildDate
	config.Logger = model.NewNoOpLogger()
	return config
}

func runBuild(t *testing.T, config Config) *Result {
	t.Helper()
	reg, err := registry.Initialize()
	require.NoError(t, err)

	result, err := NewBuilder(config, reg).Run()
	require.NoError(t, err)
	return result
}

// readStore returns nodes and links of a store as sorted strings
func readStore(t *testing.T, path string) (map[string]string, []string, []string) {
	t.Helper()
	r, err := store.Open(path, model.NewNoOpLogger())
	require.NoError(t, err)
	defer r.Close()

	info, err := r.Info()
	require.NoError(t, err)

	var nodes, links []string
	require.NoError(t, r.ForEachNode(func(x model.Xref) error {
		nodes = append(nodes, x.String())
		return nil
	}))
	require.NoError(t, r.ForEachLink(func(l model.Link) error {
		links = append(links, l.From.String()+" -> "+l.To.String())
		return nil
	}))
	sort.Strings(nodes)
	sort.Strings(links)
	return info, nodes, links
}

func TestBuildSmallGraph(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			input := writeInput(t, t.TempDir(),
				"item\tpathway",
				"wd1\twp1",
				"wd1\twp2",
				"wd2",
			)
			config := testConfig(backend, input)
			config.SkipQC = true

			result := runBuild(t, config)

			assert.Equal(t, 3, result.Rows)
			assert.Equal(t, 4, result.Nodes)
			assert.Equal(t, 4, result.Links)
			assert.Equal(t, 2, result.Commits)
			assert.Equal(t, []int{3}, result.FlushSizes)
			assert.Equal(t, filepath.Join(config.OutputDir, "pathways"+backend.Extension()), result.StorePath)
			assert.Nil(t, result.QC)

			info, nodes, links := readStore(t, result.StorePath)
			assert.Equal(t, []string{"Wd:wd1", "Wd:wd2", "Wp:wp1", "Wp:wp2"}, nodes)
			assert.Equal(t, []string{
				"Wd:wd1 -> Wd:wd1",
				"Wd:wd1 -> Wp:wp1",
				"Wd:wd1 -> Wp:wp2",
				"Wd:wd2 -> Wd:wd2",
			}, links)

			assert.Equal(t, "20240305", info[InfoBuildDate])
			assert.Equal(t, "Wikidata", info[InfoDataSourceName])
			assert.Equal(t, "1.0.0", info[InfoDataSourceVersion])
			assert.Equal(t, "3.0.10", info[InfoSchemaVersion])
			assert.Equal(t, "pathways", info[InfoSeries])
			assert.Equal(t, "Pathways", info[InfoDataType])
			assert.Equal(t, "Wd", info[InfoPrimarySource])
			assert.Equal(t, "Wp", info[InfoSecondarySource])
			assert.Equal(t, result.BuildID, info[InfoBuildID])
		})
	}
}

func TestBuildQuotedFields(t *testing.T) {
	input := writeInput(t, t.TempDir(),
		"\"item\"\t\"pathway\"",
		"\"Q42\"\t\"WP254\"",
		"\"Q42\"\t\"\"",
	)
	config := testConfig(store.BackendLSM, input)
	config.SkipQC = true

	result := runBuild(t, config)

	_, nodes, links := readStore(t, result.StorePath)
	assert.Equal(t, []string{"Wd:Q42", "Wp:WP254"}, nodes)
	assert.Equal(t, []string{"Wd:Q42 -> Wd:Q42", "Wd:Q42 -> Wp:WP254"}, links)
}

func TestBuildPrimaryOnlyRows(t *testing.T) {
	input := writeInput(t, t.TempDir(), "item", "Q1", "Q2", "Q1")
	config := testConfig(store.BackendBolt, input)
	config.SkipQC = true

	result := runBuild(t, config)

	_, nodes, links := readStore(t, result.StorePath)
	assert.Equal(t, []string{"Wd:Q1", "Wd:Q2"}, nodes)
	assert.Equal(t, []string{"Wd:Q1 -> Wd:Q1", "Wd:Q2 -> Wd:Q2"}, links)
}

func TestBuildFlushBoundaries(t *testing.T) {
	input := writeInput(t, t.TempDir(),
		"item\tpathway",
		"Q1\tWP1",
		"Q2\tWP1",
		"Q3\tWP2",
		"Q1\tWP3",
		"Q4",
	)
	config := testConfig(store.BackendLSM, input)
	config.FlushThreshold = 2
	config.SkipQC = true

	reg, err := registry.Initialize()
	require.NoError(t, err)
	b := NewBuilder(config, reg)
	result, err := b.Run()
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, result.FlushSizes)
	assert.Equal(t, float64(3), testutil.ToFloat64(b.Metrics().Flushes))
	assert.Equal(t, 5, result.Rows)
	// Q1 appears in two windows and is written once per window
	assert.Equal(t, 5, result.Primaries)
	assert.Equal(t, 5, result.Commits)
	assert.Equal(t, 7, result.Nodes)

	_, nodes, links := readStore(t, result.StorePath)
	assert.Len(t, nodes, 7)
	assert.Equal(t, []string{
		"Wd:Q1 -> Wd:Q1",
		"Wd:Q1 -> Wp:WP1",
		"Wd:Q1 -> Wp:WP3",
		"Wd:Q2 -> Wd:Q2",
		"Wd:Q2 -> Wp:WP1",
		"Wd:Q3 -> Wd:Q3",
		"Wd:Q3 -> Wp:WP2",
		"Wd:Q4 -> Wd:Q4",
	}, links)
}

func TestBuildIsIdempotent(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			input := writeInput(t, t.TempDir(),
				"item\tpathway",
				"Q1\tWP1",
				"Q2\tWP2",
				"Q2\tWP1",
			)
			config := testConfig(backend, input)
			config.SkipQC = true

			first := runBuild(t, config)
			info1, nodes1, links1 := readStore(t, first.StorePath)

			second := runBuild(t, config)
			info2, nodes2, links2 := readStore(t, second.StorePath)

			assert.Equal(t, nodes1, nodes2)
			assert.Equal(t, links1, links2)

			// Only the build id differs
			delete(info1, InfoBuildID)
			delete(info2, InfoBuildID)
			if diff := cmp.Diff(info1, info2); diff != "" {
				t.Errorf("info mismatch (-first +second):\n%s", diff)
			}
		})
	}
}

func TestBuildHeaderOnly(t *testing.T) {
	input := writeInput(t, t.TempDir(), "item\tpathway")
	config := testConfig(store.BackendLSM, input)
	config.SkipQC = true

	result := runBuild(t, config)

	assert.Equal(t, 0, result.Rows)
	assert.Empty(t, result.FlushSizes)

	info, nodes, links := readStore(t, result.StorePath)
	assert.Empty(t, nodes)
	assert.Empty(t, links)
	assert.Equal(t, "pathways", info[InfoSeries])
}

func TestBuildParseErrorIsFatal(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			input := writeInput(t, t.TempDir(), "item\tpathway", "Q1\tWP1", "\tWP2", "Q3\tWP3")
			config := testConfig(backend, input)

			reg, err := registry.Initialize()
			require.NoError(t, err)

			_, err = NewBuilder(config, reg).Run()
			require.Error(t, err)

			var berr *BuildError
			require.True(t, errors.As(err, &berr))
			assert.Equal(t, StageParse, berr.Stage)
			assert.Equal(t, 3, berr.Line)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "\tWP2", perr.Text)

			assert.False(t, store.Exists(config.StorePath()), "partial store must be removed")
		})
	}
}

func TestBuildUnknownSystemCode(t *testing.T) {
	input := writeInput(t, t.TempDir(), "item\tpathway", "Q1\tWP1")
	config := testConfig(store.BackendLSM, input)
	config.SecondaryCode = "Nope"

	reg, err := registry.Initialize()
	require.NoError(t, err)

	_, err = NewBuilder(config, reg).Run()

	var berr *BuildError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, StageConfig, berr.Stage)

	var unknown model.ErrUnknownSystemCode
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Nope", unknown.Code)

	assert.False(t, store.Exists(config.StorePath()))
}

func TestBuildMissingInput(t *testing.T) {
	config := testConfig(store.BackendLSM, filepath.Join(t.TempDir(), "missing.tsv"))

	reg, err := registry.Initialize()
	require.NoError(t, err)

	_, err = NewBuilder(config, reg).Run()

	var berr *BuildError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, StageConfig, berr.Stage)
}

func TestBuildQCAndRelease(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "item\tpathway", "Q1\tWP1", "Q2\tWP2")
	config := testConfig(store.BackendLSM, input)

	// First build: no baseline yet, released afterwards
	config.Release = true
	first := runBuild(t, config)

	require.NotNil(t, first.QC)
	assert.True(t, first.QC.BaselineMissing)
	assert.Equal(t, filepath.Join(config.OutputDir, "pathways_20240305.kgs"), first.SnapshotPath)
	assert.True(t, store.Exists(first.SnapshotPath))

	_, releasedNodes, _ := readStore(t, first.SnapshotPath)
	assert.Equal(t, []string{"Wd:Q1", "Wd:Q2", "Wp:WP1", "Wp:WP2"}, releasedNodes)

	// Second build with fewer rows is compared against the release
	input = writeInput(t, dir, "item\tpathway", "Q1\tWP1")
	config.Release = false
	second := runBuild(t, config)

	require.NotNil(t, second.QC)
	assert.False(t, second.QC.BaselineMissing)
	assert.Equal(t, first.SnapshotPath, second.BaselinePath)
	assert.False(t, second.QC.Passed())
	assert.Contains(t, second.QC.Warnings, "nodes decreased from 4 to 2")
	assert.Empty(t, second.SnapshotPath)
}

func TestBuildWritesMetricsFile(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "item\tpathway", "Q1\tWP1", "Q2")
	config := testConfig(store.BackendBolt, input)
	config.SkipQC = true
	config.MetricsFile = filepath.Join(dir, "xrefdb.prom")

	reg, err := registry.Initialize()
	require.NoError(t, err)
	b := NewBuilder(config, reg)
	_, err = b.Run()
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(b.Metrics().Rows))
	assert.Equal(t, float64(3), testutil.ToFloat64(b.Metrics().Nodes))
	assert.Equal(t, float64(3), testutil.ToFloat64(b.Metrics().Links))

	data, err := os.ReadFile(config.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `xrefdb_build_rows_total{series="pathways"} 2`)
	assert.Contains(t, string(data), "xrefdb_build_last_success_timestamp_seconds")
}
