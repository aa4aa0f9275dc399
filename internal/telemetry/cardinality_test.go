package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObjectLabel_DisabledCollapsesToWildcard(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableObjectIDLabel: false})

	m.RecordBlobOperation(context.Background(), "put", "file-1", time.Millisecond)
	m.RecordBlobOperation(context.Background(), "put", "file-2", time.Millisecond)

	count := testutil.ToFloat64(m.blobOperationsTotal.WithLabelValues("put", "*"))
	assert.Equal(t, 2.0, count)
}

func TestObjectLabel_EnabledKeepsPerFileCardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableObjectIDLabel: true})

	m.RecordBlobOperation(context.Background(), "put", "file-1", time.Millisecond)
	m.RecordBlobOperation(context.Background(), "put", "file-1", time.Millisecond)
	m.RecordBlobOperation(context.Background(), "put", "file-2", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.blobOperationsTotal.WithLabelValues("put", "file-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blobOperationsTotal.WithLabelValues("put", "file-2")))
}

func TestRecordBlobError_Cardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})

	m.RecordBlobError(context.Background(), "get", "file-1", "not_found")
	m.RecordBlobError(context.Background(), "get", "file-2", "not_found")

	count := testutil.ToFloat64(m.blobOperationErrors.WithLabelValues("get", "*", "not_found"))
	assert.Equal(t, 2.0, count)
}
