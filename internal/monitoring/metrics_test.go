package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := NewMetrics()

	m.RecordAttachment("SAVED")
	m.RecordAttachment("SAVED")
	m.RecordAttachment("ERROR")
	m.RecordEmailMarked("SUCCESS")
	m.RecordCatalogRows("ok", 3)
	m.RecordCatalogRows("error", 0)
	m.ObserveExtraction("email", 1500*time.Millisecond)
	m.RecordSyncRun(errors.New("imap down"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `pharmatrack_attachments_total{status="SAVED"} 2`)
	assert.Contains(t, body, `pharmatrack_attachments_total{status="ERROR"} 1`)
	assert.Contains(t, body, `pharmatrack_catalog_rows_total{result="ok"} 3`)
	assert.NotContains(t, body, `pharmatrack_catalog_rows_total{result="error"}`)
	assert.Contains(t, body, `pharmatrack_mail_sync_runs_total{result="error"} 1`)
	assert.Contains(t, body, `pharmatrack_emails_marked_total{status="SUCCESS"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAttachment("SAVED")
	m.RecordEmailMarked("FAILED")
	m.RecordCatalogRows("ok", 1)
	m.ObserveExtraction("upload", time.Second)
	m.RecordSyncRun(nil)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
