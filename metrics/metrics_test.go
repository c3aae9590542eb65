package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.Found()
	r.Found()
	r.Skipped()
	r.Notified(true, 100*time.Millisecond)
	r.Notified(false, 10*time.Millisecond)
	r.MarkReadFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.EmailsFound))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EmailsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Notifications.WithLabelValues(StatusSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Notifications.WithLabelValues(StatusFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.MarkReadFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(r.NotifyLatency))
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Found()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.EmailsFound))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EmailsFound))
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, req.Body)
		gotBody = buf.String()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.Found()
	require.NoError(t, r.Push(context.Background(), srv.URL, "delivnotify"))

	assert.Equal(t, "/metrics/job/delivnotify", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushDisabled(t *testing.T) {
	assert.NoError(t, New().Push(context.Background(), "", "delivnotify"))
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.Error(t, New().Push(context.Background(), srv.URL, "delivnotify"))
}
