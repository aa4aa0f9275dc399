package searchindex

import (
	"context"
	"testing"
	"time"

	"github.com/cloud10922/zkim/internal/config"
	"github.com/cloud10922/zkim/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex(t *testing.T, cfg config.SearchConfig) *Index {
	t.Helper()
	p := newPersister(nil, nil, "user-1", "zkim-index-user-1", nil, nil, nil)
	idx := NewIndex("user-1", "zkim-index-user-1", cfg, []byte("oprf-secret-key-material-32bytes"), p, nil)
	idx.Initialize(context.Background())
	t.Cleanup(func() { _ = idx.Cleanup() })
	return idx
}

func defaultTestConfig() config.SearchConfig {
	return config.SearchConfig{
		EnableOPRF:               true,
		EnableRateLimiting:       true,
		EnableTrapdoorRotation:   true,
		EnablePrivacyEnhancement: false,
		EnableResultPadding:      false,
		EnableQueryLogging:       true,
		EpochDuration:            24 * time.Hour,
		MaxQueriesPerEpoch:       1000,
		RotationThreshold:        100,
		BucketSizes:              []int{32, 64, 128, 256},
		AutoSaveInterval:         time.Hour,
	}
}

func sampleIndexedFile(fileID string, tags []string) *envelope.ZkimFile {
	return &envelope.ZkimFile{
		Header:   envelope.Header{FileID: fileID},
		Metadata: envelope.Metadata{FileName: "report.pdf", UserID: "user-1", MimeType: "application/pdf", Tags: tags},
	}
}

func TestIndexFileThenSearchFindsMatch(t *testing.T) {
	idx := testIndex(t, defaultTestConfig())

	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", []string{"important", "test"}), "file-1"))

	resp, err := idx.Search(Query{UserID: "user-1", Query: "important"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.TotalResults, 1)

	resp2, err := idx.Search(Query{UserID: "user-1", Query: "nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp2.TotalResults)
}

func TestUpdateFileIndexReplacesExistingEntry(t *testing.T) {
	idx := testIndex(t, defaultTestConfig())

	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", []string{"old"}), "file-1"))
	require.NoError(t, idx.UpdateFileIndex(sampleIndexedFile("file-1", []string{"new"}), "file-1"))

	stats := idx.GetSearchStats()
	assert.Equal(t, 1, stats.TotalIndexedFiles)

	resp, err := idx.Search(Query{UserID: "user-1", Query: "old"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalResults)
}

func TestUpdateFileIndexOnMissingIDCreatesEntry(t *testing.T) {
	idx := testIndex(t, defaultTestConfig())
	require.NoError(t, idx.UpdateFileIndex(sampleIndexedFile("file-unseen", nil), "file-unseen"))

	stats := idx.GetSearchStats()
	assert.Equal(t, 1, stats.TotalIndexedFiles)
}

func TestRemoveFileFromIndexIdempotent(t *testing.T) {
	idx := testIndex(t, defaultTestConfig())
	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", nil), "file-1"))

	idx.RemoveFileFromIndex("file-1")
	assert.Equal(t, 0, idx.GetSearchStats().TotalIndexedFiles)

	idx.RemoveFileFromIndex("file-1")
	assert.Equal(t, 0, idx.GetSearchStats().TotalIndexedFiles)
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxQueriesPerEpoch = 1
	cfg.EpochDuration = time.Second
	idx := testIndex(t, cfg)
	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", []string{"alpha"}), "file-1"))

	_, err := idx.Search(Query{UserID: "user-1", Query: "alpha"})
	require.NoError(t, err)

	_, err = idx.Search(Query{UserID: "user-1", Query: "alpha"})
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestResultPaddingToBucket(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.EnableResultPadding = true
	cfg.BucketSizes = []int{1, 2, 4}
	idx := testIndex(t, cfg)
	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", []string{"alpha"}), "file-1"))

	resp, err := idx.Search(Query{UserID: "user-1", Query: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalResults)
	// The smallest bucket >= 1 match is 1, so no decoys are added.
	assert.Len(t, resp.Results, 1)
}

func TestAccessLevelOwnerBypass(t *testing.T) {
	idx := testIndex(t, defaultTestConfig())
	file := sampleIndexedFile("file-1", []string{"alpha"})
	file.Metadata.AccessControl = &envelope.AccessControl{ReadAccess: []string{"someone-else"}}
	require.NoError(t, idx.IndexFile(file, "file-1"))

	resp, err := idx.Search(Query{UserID: "user-1", Query: "alpha"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, AccessFull, resp.Results[0].AccessLevel)
}

func TestAccessLevelDeniedDropsResult(t *testing.T) {
	idx := testIndex(t, defaultTestConfig())
	file := sampleIndexedFile("file-1", []string{"alpha"})
	file.Metadata.UserID = "owner-x"
	file.Metadata.AccessControl = &envelope.AccessControl{ReadAccess: []string{"someone-else"}}
	require.NoError(t, idx.IndexFile(file, "file-1"))

	resp, err := idx.Search(Query{UserID: "user-1", Query: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalResults)
}

func TestRotateTrapdoorsMarksExpired(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.EpochDuration = 1 * time.Millisecond
	idx := testIndex(t, cfg)
	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", []string{"alpha"}), "file-1"))

	time.Sleep(5 * time.Millisecond)
	idx.RotateTrapdoors()

	idx.mu.Lock()
	entry := idx.fileIndex["file-1"]
	idx.mu.Unlock()
	for _, td := range entry.Trapdoors {
		assert.True(t, td.IsRevoked)
	}
}

func TestStatsEmptySafety(t *testing.T) {
	idx := testIndex(t, defaultTestConfig())
	stats := idx.GetSearchStats()
	assert.Equal(t, 0.0, stats.AverageQueryTime)
	assert.Equal(t, 0, stats.QueriesThisEpoch)
}

func TestOPRFFallbackDeterministic(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.EnableOPRF = false
	idx := testIndex(t, cfg)
	require.NoError(t, idx.IndexFile(sampleIndexedFile("file-1", []string{"alpha"}), "file-1"))

	resp, err := idx.Search(Query{UserID: "user-1", Query: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalResults)
}
