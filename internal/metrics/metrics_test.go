package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New()
	require.NotNil(t, m)
	assert.NotNil(t, m.Registry())
}

func TestDefault(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return same instance")
	}
}

func TestRecordDose(t *testing.T) {
	m := New()
	m.RecordDose("taken")
	m.RecordDose("taken")
	m.RecordDose("missed")
	m.RecordDose("skipped")

	assert.Equal(t, int64(2), m.dosesTaken.Load())
	assert.Equal(t, int64(1), m.dosesMissed.Load())
	assert.Equal(t, int64(1), m.dosesSkipped.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.doseTransitions.WithLabelValues("taken")))
}

func TestRecordNotification(t *testing.T) {
	m := New()
	m.RecordNotification(NotifyScheduled)
	m.RecordNotification(NotifyScheduled)
	m.RecordNotification(NotifyDenied)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Notifications[NotifyScheduled])
	assert.Equal(t, int64(1), snap.Notifications[NotifyDenied])
}

func TestRecordSweep(t *testing.T) {
	m := New()
	m.RecordSweep(20*time.Millisecond, nil)
	m.RecordSweep(10*time.Millisecond, errors.New("boom"))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.SweepsTotal)
	assert.Equal(t, int64(1), snap.SweepsFailed)
	assert.Equal(t, 10*time.Millisecond, snap.LastSweepDuration)
}

func TestSetAdherenceRate(t *testing.T) {
	m := New()
	m.SetAdherenceRate(71)

	assert.Equal(t, int64(71), m.Snapshot().AdherenceRate)
	assert.Equal(t, 71.0, testutil.ToFloat64(m.adherenceRate))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordHistoryAppend()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "medtrack_history_appends_total 1"))
}
