// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordIngest(t *testing.T) {
	before := testutil.ToFloat64(ingestTotal.WithLabelValues("sensor", "ok"))
	RecordIngest("sensor", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(ingestTotal.WithLabelValues("sensor", "ok")))
}

func TestSetCircuitBreakerStateIsExclusive(t *testing.T) {
	SetCircuitBreakerState("esp32", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("esp32", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("esp32", "closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("esp32", "half-open")))
}

func TestSetStorageMode(t *testing.T) {
	SetStorageMode("memory")
	assert.Equal(t, 1.0, testutil.ToFloat64(storageMode.WithLabelValues("memory")))
	assert.Equal(t, 0.0, testutil.ToFloat64(storageMode.WithLabelValues("redis")))
}

func TestObserveImageProcessing(t *testing.T) {
	ObserveImageProcessing(0)

	m := &dto.Metric{}
	require.NoError(t, imageProcessing.Write(m))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(1))
}
