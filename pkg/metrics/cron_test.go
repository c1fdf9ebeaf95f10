package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "payment-session-expiry"
	end := time.Unix(1772000000, 0)

	m.ObserveRun(job, 250*time.Millisecond, end, nil)
	m.ObserveRun(job, 100*time.Millisecond, end.Add(time.Minute), errors.New("db down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(job, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(job, "failure")))
	assert.Equal(t, float64(end.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues(job)),
		"a failed run leaves last success alone")

	n, err := testutil.GatherAndCount(reg, "digistore_cron_job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCronJobMetricsLabelsBlankJob(t *testing.T) {
	m := NewCronJobMetrics(prometheus.NewRegistry())
	m.ObserveRun("", time.Second, time.Now(), nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("unknown", "success")))
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	assert.NotPanics(t, func() {
		m.ObserveRun("job", time.Second, time.Now(), nil)
		NewCronJobMetrics(nil).ObserveRun("job", time.Second, time.Now(), errors.New("x"))
	})
}
