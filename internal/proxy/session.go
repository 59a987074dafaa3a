package proxy

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgproto3/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"db-firewall-proxy/internal/auditor"
	"db-firewall-proxy/internal/buffered"
	"db-firewall-proxy/internal/decision"
	"db-firewall-proxy/internal/decoy"
	"db-firewall-proxy/internal/honeypot"
	"db-firewall-proxy/internal/metadata"
	"db-firewall-proxy/internal/metrics"
	"db-firewall-proxy/internal/policy"
	"db-firewall-proxy/internal/sqlparser"
	"db-firewall-proxy/internal/wire"
)

type State int32

const (
	StateInit State = iota
	StateHandshaking
	StateReady
	StateForwarding
	StateSubstituting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateReady:
		return "READY"
	case StateForwarding:
		return "FORWARDING"
	case StateSubstituting:
		return "SUBSTITUTING"
	case StateClosing:
		return "CLOSING"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// session owns exactly one client connection and at most one backend
// connection. Both pump directions run concurrently; closing either socket
// promptly ends both.
type session struct {
	id      string
	variant wire.Variant
	client  *buffered.Conn
	backend net.Conn
	meta    metadata.Metadata

	resp     honeypot.Responder
	policies *policy.Store
	decoys   *decoy.Store
	aud      auditor.Auditor
	m        *metrics.Metrics
	logger   *zap.SugaredLogger

	maxFrame    uint32
	idleTimeout time.Duration
	dialBackend func(ctx context.Context) (net.Conn, error)

	stateVal atomic.Int32

	// handshakeSeen marks that the mysql client's handshake response has
	// been inspected for identity.
	handshakeSeen bool

	closeOnce sync.Once
	closed    atomic.Bool
}

func newSession(id string, clientConn net.Conn, srv *Server) *session {
	resp, _ := newResponder(srv.c.Variant)
	s := &session{
		id:      id,
		variant: srv.c.Variant,
		client:  buffered.NewConn(clientConn),
		meta: metadata.Metadata{
			SessionID:  id,
			RemoteAddr: clientConn.RemoteAddr().String(),
		},
		resp:        resp,
		policies:    srv.policies,
		decoys:      srv.decoys,
		aud:         srv.auditor,
		m:           srv.metrics,
		logger:      srv.logger,
		maxFrame:    srv.c.MaxFrameSize,
		idleTimeout: srv.c.IdleTimeout,
		dialBackend: srv.dialBackend,
	}
	return s
}

func (s *session) state() State {
	return State(s.stateVal.Load())
}

func (s *session) setState(next State) {
	s.stateVal.Store(int32(next))
}

func (s *session) run(ctx context.Context) error {
	if s.resp == nil {
		s.closeBoth()
		return fmt.Errorf("unsupported variant %q", s.variant)
	}

	var clientPump, backendPump *framePump
	switch s.variant {
	case wire.VariantPostgres:
		clientPump = newFramePump(s.client, wire.NewPostgresCodec(s.maxFrame))
		if err := s.postgresStartup(ctx, clientPump); err != nil {
			s.closeBoth()
			if errors.Is(err, errSessionDone) {
				return nil
			}
			return err
		}
		backendPump = newFramePump(s.backend, wire.NewPostgresServerCodec(s.maxFrame))
	case wire.VariantMySQL:
		backend, err := s.dialBackend(ctx)
		if err != nil {
			s.m.BackendFailures.Inc()
			if buf, encErr := s.resp.BackendFailure(0, "backend unavailable"); encErr == nil {
				_, _ = s.client.Write(buf)
			}
			s.closeBoth()
			return fmt.Errorf("dial backend: %w", err)
		}
		s.backend = backend
		s.setState(StateHandshaking)
		clientPump = newFramePump(s.client, wire.NewMySQLCodec(s.maxFrame))
		backendPump = newFramePump(s.backend, wire.NewMySQLCodec(s.maxFrame))
	}

	wg := errgroup.Group{}
	wg.Go(func() error { return s.clientLoop(clientPump) })
	wg.Go(func() error { return s.backendLoop(backendPump) })
	return wg.Wait()
}

// postgresStartup drives the unframed startup phase: SSL and GSS encryption
// requests are declined by the proxy itself so the stream stays decodable,
// cancel requests are forwarded and dropped, and the startup message proper
// opens the backend connection.
func (s *session) postgresStartup(ctx context.Context, pump *framePump) error {
	for {
		msg, err := pump.next(s.idleTimeout)
		if err != nil {
			if err := s.classifyReadErr(err, "client"); err != nil {
				return err
			}
			return errSessionDone
		}
		switch msg.StartupCode {
		case wire.SSLRequestCode, wire.GSSEncRequestCode:
			if _, err := s.client.Write([]byte{'N'}); err != nil {
				return fmt.Errorf("decline encryption request: %w", err)
			}
		case wire.CancelRequestCode:
			backend, err := s.dialBackend(ctx)
			if err != nil {
				return errSessionDone
			}
			_, _ = backend.Write(msg.Raw)
			_ = backend.Close()
			return errSessionDone
		case wire.ProtocolVersionNumber:
			s.harvestPostgresIdentity(msg.Payload)
			s.aud.OnIdentity(s.id, s.meta)
			backend, err := s.dialBackend(ctx)
			if err != nil {
				s.m.BackendFailures.Inc()
				if buf, encErr := s.resp.BackendFailure(0, "backend unavailable"); encErr == nil {
					_, _ = s.client.Write(buf)
				}
				return fmt.Errorf("dial backend: %w", err)
			}
			s.backend = backend
			if err := s.writeBackend(msg.Raw); err != nil {
				return err
			}
			s.setState(StateHandshaking)
			return nil
		default:
			err := fmt.Errorf("%w: unknown startup request code %d", wire.ErrInvalidFrame, msg.StartupCode)
			s.m.FramingErrors.Inc()
			s.aud.OnProtocolViolation(s.id, err)
			return err
		}
	}
}

func (s *session) clientLoop(pump *framePump) error {
	defer s.closeBoth()
	for {
		msg, err := pump.next(s.idleTimeout)
		if err != nil {
			return s.classifyReadErr(err, "client")
		}
		if err := s.handleClientMessage(msg); err != nil {
			if errors.Is(err, errSessionDone) {
				return nil
			}
			return err
		}
	}
}

func (s *session) handleClientMessage(msg *wire.Message) error {
	if s.state() == StateHandshaking {
		if s.variant == wire.VariantMySQL && !s.handshakeSeen {
			s.handshakeSeen = true
			if err := s.harvestMySQLIdentity(msg.Payload); err != nil {
				return err
			}
			s.aud.OnIdentity(s.id, s.meta)
			return s.writeBackend(msg.Raw)
		}
		// A query frame pipelined behind the handshake is still a query:
		// it must pass the decision engine before any byte reaches the
		// backend.
		if msg.IsQuery {
			return s.handleQuery(msg)
		}
		return s.writeBackend(msg.Raw)
	}

	switch {
	case s.variant == wire.VariantPostgres && msg.Type == wire.PostgresTerminate:
		_ = s.writeBackend(msg.Raw)
		return errSessionDone
	case s.variant == wire.VariantMySQL && msg.Type == wire.ComQuit && len(msg.Payload) == 1:
		_ = s.writeBackend(msg.Raw)
		return errSessionDone
	case msg.IsQuery && s.state() == StateReady:
		return s.handleQuery(msg)
	default:
		return s.writeBackend(msg.Raw)
	}
}

// handleQuery runs the decision engine on one query message and either
// relays it or substitutes a fabricated response. The blocked query's bytes
// never reach the backend.
func (s *session) handleQuery(msg *wire.Message) error {
	now := time.Now()
	var verdict decision.Verdict
	if s.meta.Username == "" {
		verdict = decision.Terminated("identity extraction failed")
	} else {
		verdict = decision.Decide(s.meta, msg.Query, now, s.policies.Snapshot())
	}

	s.aud.OnQuery(auditor.Record{
		Time:        now,
		SessionID:   s.id,
		Identity:    s.meta,
		Operation:   sqlparser.Operation(msg.Query),
		Query:       msg.Query,
		Verdict:     verdict.Action.String(),
		Reason:      verdict.Reason,
		Substituted: verdict.Action == decision.Block,
	})
	s.m.Queries.WithLabelValues(verdict.Action.String()).Inc()

	// The query may arrive pipelined during HANDSHAKING; the transient
	// branch returns to whatever state it interrupted.
	prev := s.state()

	switch verdict.Action {
	case decision.Allow:
		s.setState(StateForwarding)
		err := s.writeBackend(msg.Raw)
		s.setState(prev)
		return err
	case decision.Block:
		s.setState(StateSubstituting)
		s.m.Substitutions.Inc()
		s.logger.Infow("substituted response", "id", s.id, "reason", verdict.Reason)
		buf, err := s.resp.Synthesize(msg.Query, msg.Seq+1, s.decoys.Snapshot())
		if err != nil {
			return fmt.Errorf("synthesize response: %w", err)
		}
		err = s.writeClient(buf)
		s.setState(prev)
		return err
	default:
		s.logger.Warnw("terminating session", "id", s.id, "reason", verdict.Reason)
		return fmt.Errorf("terminate session: %s", verdict.Reason)
	}
}

func (s *session) backendLoop(pump *framePump) error {
	defer s.closeBoth()
	for {
		// No read deadline on this direction: a silent backend is normal
		// between queries, and the client-side idle timeout already tears
		// down both sockets.
		msg, err := pump.next(0)
		if err != nil {
			err = s.classifyReadErr(err, "backend")
			if s.state() == StateReady && !s.closed.Load() {
				s.m.BackendFailures.Inc()
				if buf, encErr := s.resp.BackendFailure(0, "backend connection lost"); encErr == nil {
					_ = s.writeClient(buf)
				}
			}
			return err
		}
		if s.state() == StateHandshaking {
			s.observeHandshakeReply(msg)
		}
		if err := s.writeClient(msg.Raw); err != nil {
			return err
		}
	}
}

// observeHandshakeReply watches the backend's authentication outcome so the
// session knows when the steady state begins.
func (s *session) observeHandshakeReply(msg *wire.Message) {
	switch s.variant {
	case wire.VariantPostgres:
		if msg.Type == wire.PostgresReadyForQuery {
			s.setState(StateReady)
		}
	case wire.VariantMySQL:
		if len(msg.Payload) > 0 && msg.Payload[0] == wire.MySQLOKHeader {
			s.setState(StateReady)
		}
	}
}

func (s *session) harvestPostgresIdentity(payload []byte) {
	var sm pgproto3.StartupMessage
	if err := sm.Decode(payload); err != nil {
		s.logger.Debugw("startup parameters not parsed", "id", s.id, "error", err)
		return
	}
	s.meta.Username = sm.Parameters["user"]
	s.meta.Database = sm.Parameters["database"]
	s.meta.ApplicationName = sm.Parameters["application_name"]
}

const (
	clientConnectWithDB        = 0x00000008
	clientProtocol41           = 0x00000200
	clientSSL                  = 0x00000800
	clientSecureConnection     = 0x00008000
	clientPluginAuthLenencData = 0x00200000
)

// harvestMySQLIdentity reads the username (and database, when present) out
// of the client's handshake-response packet. A TLS upgrade request ends the
// session: an encrypted stream cannot be framed, so it cannot be proxied.
func (s *session) harvestMySQLIdentity(payload []byte) error {
	if len(payload) < 4 {
		return nil
	}
	caps := binary.LittleEndian.Uint32(payload[:4])
	if caps&clientSSL != 0 && len(payload) <= 32 {
		if buf, err := s.resp.BackendFailure(2, "TLS is not supported by the firewall proxy"); err == nil {
			_ = s.writeClient(buf)
		}
		return errSessionDone
	}
	if caps&clientProtocol41 == 0 || len(payload) < 33 {
		return nil
	}
	rest := payload[32:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return nil
	}
	s.meta.Username = string(rest[:i])
	rest = rest[i+1:]

	switch {
	case caps&clientPluginAuthLenencData != 0:
		n, width, ok := readLenencInt(rest)
		if !ok || len(rest) < width+int(n) {
			return nil
		}
		rest = rest[width+int(n):]
	case caps&clientSecureConnection != 0:
		if len(rest) < 1 || len(rest) < 1+int(rest[0]) {
			return nil
		}
		rest = rest[1+int(rest[0]):]
	default:
		if i = bytes.IndexByte(rest, 0); i < 0 {
			return nil
		}
		rest = rest[i+1:]
	}
	if caps&clientConnectWithDB != 0 {
		if i = bytes.IndexByte(rest, 0); i >= 0 {
			s.meta.Database = string(rest[:i])
		} else {
			s.meta.Database = string(rest)
		}
	}
	return nil
}

func readLenencInt(b []byte) (v uint64, width int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	switch {
	case b[0] < 0xfb:
		return uint64(b[0]), 1, true
	case b[0] == 0xfc && len(b) >= 3:
		return uint64(b[1]) | uint64(b[2])<<8, 3, true
	case b[0] == 0xfd && len(b) >= 4:
		return uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16, 4, true
	case b[0] == 0xfe && len(b) >= 9:
		return binary.LittleEndian.Uint64(b[1:9]), 9, true
	}
	return 0, 0, false
}

func (s *session) classifyReadErr(err error, side string) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil
	case errors.Is(err, wire.ErrFrameTooLarge), errors.Is(err, wire.ErrInvalidFrame):
		s.m.FramingErrors.Inc()
		s.aud.OnProtocolViolation(s.id, err)
		return fmt.Errorf("%s framing: %w", side, err)
	default:
		if s.closed.Load() {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%s idle timeout: %w", side, err)
		}
		return fmt.Errorf("%s read: %w", side, err)
	}
}

func (s *session) writeBackend(raw []byte) error {
	if s.backend == nil {
		return fmt.Errorf("no backend connection")
	}
	if _, err := s.backend.Write(raw); err != nil {
		return fmt.Errorf("write to backend: %w", err)
	}
	return nil
}

func (s *session) writeClient(raw []byte) error {
	if _, err := s.client.Write(raw); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	return nil
}

// closeBoth tears the session down. The backend socket closes first so it is
// never left open past the client connection.
func (s *session) closeBoth() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.setState(StateClosing)
		if s.backend != nil {
			_ = s.backend.Close()
		}
		_ = s.client.Close()
	})
}

// framePump reassembles complete frames out of arbitrary socket reads. A
// single read may carry several frames, or a fraction of one; decode is
// retried after every read until a frame completes.
type framePump struct {
	conn    net.Conn
	codec   wire.Codec
	buf     []byte
	readBuf []byte
}

func newFramePump(conn net.Conn, codec wire.Codec) *framePump {
	return &framePump{conn: conn, codec: codec, readBuf: make([]byte, 32*1024)}
}

func (p *framePump) next(idle time.Duration) (*wire.Message, error) {
	for {
		if len(p.buf) > 0 {
			msg, n, err := p.codec.Decode(p.buf)
			if err == nil {
				p.buf = p.buf[n:]
				if len(p.buf) == 0 {
					p.buf = nil
				}
				return msg, nil
			}
			if !errors.Is(err, wire.ErrIncompleteFrame) {
				return nil, err
			}
		}
		if idle > 0 {
			if err := p.conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				return nil, err
			}
		}
		n, err := p.conn.Read(p.readBuf)
		if n > 0 {
			p.buf = append(p.buf, p.readBuf[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}
