package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Thenameisdebojit/farmora-sub001/utils"
)

func TestMetricsRecordDispatch(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	f := newDispatchFixture()
	f.inApp.errs = []error{utils.NewTransientError("inApp", utils.ErrCodeProvider, nil)}
	d := NewDispatcher(f.store, f.directory, fastRetryPolicy(3),
		[]Channel{f.push, f.email, f.sms, f.inApp}, WithDispatchMetrics(metrics))

	_, err = d.Dispatch(context.Background(), f.create(t, nil))
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.dispatches.WithLabelValues("delivered")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.channelResults.WithLabelValues("push", "delivered")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.channelRetries.WithLabelValues("inApp")))

	_, err = NewMetrics(registry)
	require.Error(t, err, "collectors register once per registry")
}

func TestNilMetricsAreNoOps(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.ObserveDispatch("delivered", time.Second)
	metrics.ObserveChannel("push", "failed")
	metrics.ObserveRetry("sms")
	metrics.ObserveJob("cleanup", "success", time.Second)
	metrics.AddExpiredDeleted(3)
	metrics.IncDigests()
}
