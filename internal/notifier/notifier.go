// Package notifier is the pull-based boundary for external sinks: recent
// audit records at /events and Prometheus metrics at /metrics. The proxy
// never pushes; consumers poll at whatever cadence suits them.
package notifier

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"go.uber.org/zap"

	"db-firewall-proxy/internal/auditor"
	"db-firewall-proxy/internal/config"
	"db-firewall-proxy/internal/metrics"
)

const defaultCount = 100

// RecordSource is the snapshot query the audit sink exposes.
type RecordSource interface {
	Recent(n int) []auditor.Record
}

type Notifier struct {
	server *http.Server
	source RecordSource
	logger *zap.SugaredLogger
}

func New(cfg config.NotifierConfig, source RecordSource, m *metrics.Metrics, logger *zap.SugaredLogger) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("not enabled")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		caCert, err := os.ReadFile(cfg.TLS.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client CA: %w", err)
		}
		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(caCert)

		serverCert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load server cert and key: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{serverCert},
			ClientCAs:    caCertPool,
			ClientAuth:   tls.RequireAndVerifyClientCert,
		}
	}

	n := &Notifier{
		source: source,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", n.serveEvents)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	n.server = &http.Server{
		Addr:      cfg.Listen.Addr(),
		TLSConfig: tlsConfig,
		Handler:   mux,
	}
	return n, nil
}

func (n *Notifier) Serve() error {
	if n == nil {
		return nil
	}
	if n.server.TLSConfig == nil {
		return n.server.ListenAndServe()
	}
	return n.server.ListenAndServeTLS("", "")
}

func (n *Notifier) Shutdown(ctx context.Context) error {
	if n == nil {
		return nil
	}
	return n.server.Shutdown(ctx)
}

func (n *Notifier) serveEvents(w http.ResponseWriter, r *http.Request) {
	count := defaultCount
	if countString := r.URL.Query().Get("count"); countString != "" {
		parsed, err := strconv.Atoi(countString)
		if err != nil {
			http.Error(w, "invalid count", http.StatusBadRequest)
			return
		}
		if parsed > 0 {
			count = parsed
		}
	}

	data, err := json.Marshal(n.source.Recent(count))
	if err != nil {
		n.logger.Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		n.logger.Error(err)
	}
}
