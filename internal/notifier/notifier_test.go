package notifier

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"db-firewall-proxy/internal/auditor"
	"db-firewall-proxy/internal/config"
	"db-firewall-proxy/internal/metrics"
)

type stubSource struct {
	records []auditor.Record
	lastN   int
}

func (s *stubSource) Recent(n int) []auditor.Record {
	s.lastN = n
	if n > len(s.records) {
		n = len(s.records)
	}
	return s.records[:n]
}

func newTestNotifier(t *testing.T, source RecordSource) *Notifier {
	t.Helper()
	cfg := config.NotifierConfig{
		Enabled: true,
		Listen:  config.Endpoint{Host: "127.0.0.1", Port: 0},
	}
	n, err := New(cfg, source, metrics.New(), nil)
	require.NoError(t, err)
	return n
}

func TestNew(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		_, err := New(config.NotifierConfig{}, &stubSource{}, nil, nil)
		require.Error(t, err)
	})

	t.Run("missing-tls-material", func(t *testing.T) {
		cfg := config.NotifierConfig{
			Enabled: true,
			TLS:     config.TLSConfig{Enabled: true, ClientCAPath: "/nonexistent/ca.pem"},
		}
		_, err := New(cfg, &stubSource{}, nil, nil)
		require.ErrorContains(t, err, "client CA")
	})
}

func TestServeEvents(t *testing.T) {
	source := &stubSource{records: []auditor.Record{
		{SessionID: "s1", Query: "SELECT 1", Verdict: "ALLOW"},
		{SessionID: "s1", Query: "DELETE FROM t", Verdict: "BLOCK"},
	}}
	n := newTestNotifier(t, source)

	t.Run("default-count", func(t *testing.T) {
		rec := httptest.NewRecorder()
		n.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/events", nil))

		require.Equal(t, 200, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.Equal(t, defaultCount, source.lastN)

		var got []auditor.Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 2)
		require.Equal(t, "SELECT 1", got[0].Query)
	})

	t.Run("explicit-count", func(t *testing.T) {
		rec := httptest.NewRecorder()
		n.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/events?count=1", nil))

		require.Equal(t, 200, rec.Code)
		require.Equal(t, 1, source.lastN)

		var got []auditor.Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
	})

	t.Run("invalid-count", func(t *testing.T) {
		rec := httptest.NewRecorder()
		n.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/events?count=abc", nil))
		require.Equal(t, 400, rec.Code)
	})
}

func TestServeMetrics(t *testing.T) {
	n := newTestNotifier(t, &stubSource{})

	rec := httptest.NewRecorder()
	n.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "dbfw_sessions_accepted_total")
}
