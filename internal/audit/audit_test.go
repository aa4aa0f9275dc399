package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEncryptDecryptRoundTrip(t *testing.T) {
	logger := NewLogger(10, nil)
	defer logger.Close()

	logger.LogEncrypt("file-1", "user-1", "xchacha20poly1305", true, nil, 5*time.Millisecond, map[string]interface{}{"contentKey": "shouldnotleak"})
	logger.LogDecrypt("file-1", "user-1", "xchacha20poly1305", false, errors.New("boom"), time.Millisecond, nil)

	events := logger.GetEvents()
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeEncrypt, events[0].EventType)
	assert.True(t, events[0].Success)
	assert.Equal(t, EventTypeDecrypt, events[1].EventType)
	assert.False(t, events[1].Success)
	assert.Equal(t, "boom", events[1].Error)
}

func TestLogRedactsConfiguredKeys(t *testing.T) {
	logger := NewLoggerWithRedaction(10, nil, []string{"contentKey"})
	defer logger.Close()

	logger.LogEncrypt("file-1", "user-1", "xchacha20poly1305", true, nil, 0, map[string]interface{}{"contentKey": "secret", "mimeType": "text/plain"})

	events := logger.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "[REDACTED]", events[0].Metadata["contentKey"])
	assert.Equal(t, "text/plain", events[0].Metadata["mimeType"])
}

func TestLogIndexAndSearch(t *testing.T) {
	logger := NewLogger(10, nil)
	defer logger.Close()

	logger.LogIndex("index", "file-1", "user-1", "file-1", 3, true, nil, time.Millisecond)
	logger.LogSearch("query-1", "user-1", 2, true, nil, time.Millisecond)

	events := logger.GetEvents()
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeIndex, events[0].EventType)
	assert.Equal(t, 3, events[0].Metadata["token_count"])
	assert.Equal(t, EventTypeSearch, events[1].EventType)
	assert.Equal(t, "query-1", events[1].QueryID)
}

func TestMaxEventsEviction(t *testing.T) {
	logger := NewLogger(2, nil)
	defer logger.Close()

	logger.LogKeyRotation("file-1", true, nil)
	logger.LogKeyRotation("file-2", true, nil)
	logger.LogKeyRotation("file-3", true, nil)

	events := logger.GetEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "file-2", events[0].FileID)
	assert.Equal(t, "file-3", events[1].FileID)
}
