package session

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

// Kind is the transport of a binding or connection.
type Kind int

const (
	KindPlain Kind = iota
	KindTLS
)

func (k Kind) String() string {
	switch k {
	case KindTLS:
		return "tls"
	default:
		return "plain"
	}
}

// ParseKind maps "plain" and "tls" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "plain", "tcp":
		return KindPlain, nil
	case "tls":
		return KindTLS, nil
	}
	return KindPlain, oops.Errorf("unknown transport kind %q", s)
}

// Listener accepts connections on one binding. Accept is bounded by a poll
// interval so accept loops can observe shutdown.
type Listener struct {
	tcp    *net.TCPListener
	kind   Kind
	tlsCfg *tls.Config
}

// Listen binds addr. A TLS listener requires a configuration with at least
// one certificate.
func Listen(ctx context.Context, addr string, kind Kind, tlsCfg *tls.Config) (*Listener, error) {
	if kind == KindTLS && (tlsCfg == nil || (len(tlsCfg.Certificates) == 0 && tlsCfg.GetCertificate == nil)) {
		return nil, oops.In("transport").With("addr", addr).Errorf("tls binding requires a certificate")
	}
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, oops.In("transport").With("addr", addr).Wrapf(err, "failed to listen")
	}
	return &Listener{tcp: l.(*net.TCPListener), kind: kind, tlsCfg: tlsCfg}, nil
}

// Kind returns the transport kind of the listener.
func (l *Listener) Kind() Kind { return l.kind }

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.tcp.Addr() }

// Close stops listening.
func (l *Listener) Close() error { return l.tcp.Close() }

// Accept waits at most poll for a connection. A poll expiry is reported as an
// error satisfying errors.IsTimeout.
func (l *Listener) Accept(poll time.Duration) (net.Conn, error) {
	if poll > 0 {
		if err := l.tcp.SetDeadline(time.Now().Add(poll)); err != nil {
			return nil, err
		}
	}
	conn, err := l.tcp.Accept()
	if err != nil {
		return nil, err
	}
	if l.kind == KindTLS {
		return tls.Server(conn, l.tlsCfg), nil
	}
	return conn, nil
}

// Dial connects to addr. The TLS handshake, if any, completes before Dial
// returns.
func Dial(ctx context.Context, addr string, kind Kind, tlsCfg *tls.Config, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	if kind != KindTLS {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, oops.In("transport").With("addr", addr).Wrapf(err, "failed to connect")
		}
		return conn, nil
	}

	td := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
	conn, err := td.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, oops.In("transport").With("addr", addr).Wrapf(err, "failed to connect with tls")
	}
	return conn, nil
}

// Stats counts the bytes moved over one connection.
type Stats struct {
	BytesRead    int64
	BytesWritten int64
}

// MeteredConn counts traffic and optionally throttles it.
type MeteredConn struct {
	net.Conn
	read    atomic.Int64
	written atomic.Int64
	limiter *rate.Limiter
}

// NewMeteredConn wraps conn. A positive bytesPerSecond limits the combined
// read and write rate.
func NewMeteredConn(conn net.Conn, bytesPerSecond int) *MeteredConn {
	m := &MeteredConn{Conn: conn}
	if bytesPerSecond > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
	}
	return m
}

func (m *MeteredConn) Read(p []byte) (int, error) {
	if m.limiter != nil && len(p) > m.limiter.Burst() {
		p = p[:m.limiter.Burst()]
	}
	n, err := m.Conn.Read(p)
	m.read.Add(int64(n))
	if m.limiter != nil && n > 0 {
		if werr := m.limiter.WaitN(context.Background(), n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

func (m *MeteredConn) Write(p []byte) (int, error) {
	if m.limiter == nil {
		n, err := m.Conn.Write(p)
		m.written.Add(int64(n))
		return n, err
	}
	total := 0
	for len(p) > 0 {
		chunk := min(len(p), m.limiter.Burst())
		if err := m.limiter.WaitN(context.Background(), chunk); err != nil {
			return total, err
		}
		n, err := m.Conn.Write(p[:chunk])
		total += n
		m.written.Add(int64(n))
		if err != nil {
			return total, err
		}
		p = p[chunk:]
	}
	return total, nil
}

// Stats returns the bytes counted so far.
func (m *MeteredConn) Stats() Stats {
	return Stats{BytesRead: m.read.Load(), BytesWritten: m.written.Load()}
}
