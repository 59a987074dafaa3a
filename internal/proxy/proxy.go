// Package proxy accepts client connections and runs one session per
// connection: a paired client/backend pump that relays wire bytes, evaluates
// query messages against the policy and substitutes honeypot responses for
// blocked ones.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"db-firewall-proxy/internal/auditor"
	"db-firewall-proxy/internal/config"
	"db-firewall-proxy/internal/decoy"
	"db-firewall-proxy/internal/honeypot"
	"db-firewall-proxy/internal/metrics"
	"db-firewall-proxy/internal/policy"
	"db-firewall-proxy/internal/wire"
)

const dialTimeout = 10 * time.Second

type Server struct {
	c        *config.Config
	logger   *zap.SugaredLogger
	auditor  auditor.Auditor
	policies *policy.Store
	decoys   *decoy.Store
	metrics  *metrics.Metrics

	// dialBackend is swappable so tests can hand sessions an in-memory
	// backend.
	dialBackend func(ctx context.Context) (net.Conn, error)
}

type ConnWithID struct {
	ID   string
	Conn net.Conn
}

func NewServer(c *config.Config, aud auditor.Auditor, policies *policy.Store, decoys *decoy.Store, m *metrics.Metrics, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		c:        c,
		logger:   logger,
		auditor:  aud,
		policies: policies,
		decoys:   decoys,
		metrics:  m,
	}
	s.dialBackend = func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: dialTimeout}
		return d.DialContext(ctx, "tcp", c.Backend.Addr())
	}
	return s
}

func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.c.Listen.Addr())
	if err != nil {
		return err
	}
	defer listener.Close()

	conns := s.acceptConnections(ctx, listener)
	var wg sync.WaitGroup

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case conn, ok := <-conns:
			if !ok {
				break loop
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.handleConnection(ctx, conn); err != nil {
					s.logger.Errorw("session failed", "id", conn.ID, "error", err)
				}
			}()
		}
	}
	wg.Wait()
	return nil
}

func (s *Server) acceptConnections(ctx context.Context, listener net.Listener) <-chan ConnWithID {
	ch := make(chan ConnWithID)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil || ctx.Err() != nil {
				break
			}
			id := uuid.New().String()
			s.logger.Infow("accepted connection", "id", id, "remote", conn.RemoteAddr().String())
			s.metrics.SessionsAccepted.Inc()
			s.auditor.OnSessionAccept(id, conn.LocalAddr().String(), conn.RemoteAddr().String())
			ch <- ConnWithID{ID: id, Conn: conn}
		}
		close(ch)
	}()
	return ch
}

func (s *Server) handleConnection(ctx context.Context, conn ConnWithID) error {
	s.metrics.SessionsActive.Inc()
	defer s.metrics.SessionsActive.Dec()

	sess := newSession(conn.ID, conn.Conn, s)
	err := sess.run(ctx)
	err = ignoreClosedConn(err)

	s.logger.Infow("closed connection", "id", conn.ID)
	s.auditor.OnSessionClosed(conn.ID, err)
	return err
}

func ignoreClosedConn(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "use of closed network connection") {
		return nil
	}
	return err
}

func newResponder(variant wire.Variant) (honeypot.Responder, error) {
	switch variant {
	case wire.VariantPostgres:
		return honeypot.PostgresResponder{}, nil
	case wire.VariantMySQL:
		return honeypot.MySQLResponder{}, nil
	}
	return nil, fmt.Errorf("no responder for variant %q", variant)
}

var errSessionDone = errors.New("session done")
