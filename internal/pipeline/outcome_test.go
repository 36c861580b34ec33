package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryPath(t *testing.T) {
	start := time.Date(2021, 9, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 9, 10, 0, 0, 0, 0, time.UTC)
	got := SummaryPath("/data/out", start, end)
	assert.Equal(t, filepath.Join("/data/out", "scenes_info_2021-09-04_2021-09-10.json"), got)
}

func TestWriteSummaryDeterministic(t *testing.T) {
	s := Summary{
		"20210905": rejected(nil, 40, 40, "AOI coverage below threshold: 40.00% < 90.00%"),
		"20210904": {
			ItemIDs:       []ItemRef{{ID: "S2A_33UUU_20210904_0_L2A"}},
			NonzeroPixels: 95,
			ValidPixels:   95,
			DataAvailable: true,
		},
	}

	path := filepath.Join(t.TempDir(), "scenes_info.json")
	require.NoError(t, WriteSummary(path, s))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, WriteSummary(path, s))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var decoded map[string]SceneOutcome
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.True(t, decoded["20210904"].DataAvailable)
	assert.False(t, decoded["20210905"].DataAvailable)
	assert.Equal(t, "S2A_33UUU_20210904_0_L2A", decoded["20210904"].ItemIDs[0].ID)
}

func TestWriteSummaryCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out", "scenes_info.json")
	require.NoError(t, WriteSummary(path, Summary{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}

func TestWriteSummaryLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteSummary(filepath.Join(dir, "scenes_info.json"), Summary{"20210904": {}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "scenes_info.json", entries[0].Name())
}
