package searchindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSearchStatsTracksIndexedFilesAndQueries(t *testing.T) {
	idx := testIndex(t, defaultTestConfig())
	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", []string{"alpha"}), "file-1"))
	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-2", []string{"beta"}), "file-2"))

	_, err := idx.Search(Query{UserID: "user-1", Query: "alpha"})
	require.NoError(t, err)
	_, err = idx.Search(Query{UserID: "user-1", Query: "beta"})
	require.NoError(t, err)

	stats := idx.GetSearchStats()
	assert.Equal(t, 2, stats.TotalIndexedFiles)
	assert.Equal(t, 2, stats.QueriesThisEpoch)
	assert.GreaterOrEqual(t, stats.AverageQueryTime, 0.0)
}

func TestGetSearchStatsExcludesQueriesOutsideEpoch(t *testing.T) {
	idx := testIndex(t, defaultTestConfig())
	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", []string{"alpha"}), "file-1"))

	idx.mu.Lock()
	idx.queryHistory = append(idx.queryHistory, QueryHistoryEntry{
		QueryID:   "old-query",
		Timestamp: nowMillis() - 2*idx.cfg.EpochDuration.Milliseconds(),
	})
	idx.mu.Unlock()

	stats := idx.GetSearchStats()
	assert.Equal(t, 0, stats.QueriesThisEpoch)
}

func TestGetSearchStatsDisabledQueryLoggingStillReportsIndexedFiles(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.EnableQueryLogging = false
	idx := testIndex(t, cfg)
	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", []string{"alpha"}), "file-1"))

	_, err := idx.Search(Query{UserID: "user-1", Query: "alpha"})
	require.NoError(t, err)

	stats := idx.GetSearchStats()
	assert.Equal(t, 1, stats.TotalIndexedFiles)
	assert.Equal(t, 0, stats.QueriesThisEpoch)
}
