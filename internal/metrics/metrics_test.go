package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || analyzerInvocationsTotal == nil ||
		auditorJobsTotal == nil || auditorReconciledJobsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveAnalyzerAndJobs(t *testing.T) {
	Init()
	before := testutil.ToFloat64(analyzerInvocationsTotal.WithLabelValues("timeout"))
	ObserveAnalyzer("timeout", 2*time.Second)
	if val := testutil.ToFloat64(analyzerInvocationsTotal.WithLabelValues("timeout")); val != before+1 {
		t.Errorf("Expected analyzer timeout count %f, got %f", before+1, val)
	}

	before = testutil.ToFloat64(auditorJobsTotal.WithLabelValues("failed"))
	ObserveJob("failed")
	if val := testutil.ToFloat64(auditorJobsTotal.WithLabelValues("failed")); val != before+1 {
		t.Errorf("Expected failed job count %f, got %f", before+1, val)
	}

	before = testutil.ToFloat64(auditorArtifactsTotal.WithLabelValues("skipped"))
	ObserveArtifact("skipped")
	if val := testutil.ToFloat64(auditorArtifactsTotal.WithLabelValues("skipped")); val != before+1 {
		t.Errorf("Expected skipped artifact count %f, got %f", before+1, val)
	}

	before = testutil.ToFloat64(progressDroppedTotal.WithLabelValues("JOB_START"))
	ObserveProgressDropped("JOB_START")
	if val := testutil.ToFloat64(progressDroppedTotal.WithLabelValues("JOB_START")); val != before+1 {
		t.Errorf("Expected dropped progress count %f, got %f", before+1, val)
	}

	before = testutil.ToFloat64(auditorReconciledJobsTotal)
	ObserveReconciled(3)
	if val := testutil.ToFloat64(auditorReconciledJobsTotal); val != before+3 {
		t.Errorf("Expected reconciled count %f, got %f", before+3, val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
