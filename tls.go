package qev

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
)

// tlsCipherSuites is the modern equivalent of the cipher list the system
// this package reimplements pins its listeners to: "HIGH:!aNULL:!MD5". Go's
// crypto/tls does not expose an OpenSSL-style cipher string, and for
// TLS 1.2 and below its built-in suite list already excludes anonymous and
// MD5-based suites, so naming the equivalent strong suites here is enough
// to keep the same intent in an idiomatic Go config rather than reaching
// for a cipher-string parser.
var tlsCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// TLSConfig carries the listener-time TLS parameters named in §4.3. Ephemeral
// DH is not configurable here: Go's TLS 1.2+ negotiator always uses
// ephemeral (EC)DHE key exchange and never reuses a key across connections,
// which is the single-DH-use/single-ECDH-use behavior the original config
// had to request explicitly from OpenSSL. The three precomputed DH
// parameter sizes (1024/2048/4096 bit, default 2048) have no analogue: Go's
// TLS stack only negotiates ECDHE, never classic ephemeral DH, so there is
// no DH parameter size to choose. CurvePreferences below is the one knob
// that still matters.
type TLSConfig struct {
	// CertFile and KeyFile are PEM paths for the server certificate chain
	// and private key.
	CertFile, KeyFile string

	// MinVersion defaults to tls.VersionTLS12. The system modeled here
	// accepted TLS down to 1.0 (refusing only SSLv2/SSLv3); that floor is
	// obsolete today, so the reimplementation picks the broadest modern
	// negotiator instead and refuses versions older than TLS 1.2, per the
	// SSLv3/SSLv23 design note.
	MinVersion uint16
}

func (c TLSConfig) buildServerConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, err
	}

	minVersion := c.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		CipherSuites: tlsCipherSuites,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
		},
		// SessionTicketsDisabled mirrors SSL_SESS_CACHE_OFF: the original
		// config disables server-side session caching outright.
		SessionTicketsDisabled: true,
	}, nil
}

// tlsSession wraps a single connection's TLS state: the staged handshake
// described in §4.4, plus record-oriented read/write that the dispatcher
// and Client.Read/Write delegate to once the handshake has completed.
//
// Go's crypto/tls already does the "want read"/"want write" retry dance
// internally on each Handshake() call against a non-blocking net.Conn: a
// call that can't make progress returns a net.Error with Timeout() or a
// wrapped syscall.EAGAIN, which this wraps into the same tri-state contract
// (handshake complete / not yet, try again later / fatal) §4.4 specifies.
type tlsSession struct {
	conn *tls.Conn
}

func newTLSServerSession(raw net.Conn, cfg *tls.Config) *tlsSession {
	return &tlsSession{conn: tls.Server(raw, cfg)}
}

// handshakeResult mirrors the three outcomes handshake(session, flags) can
// produce: done, not done yet (retry on next readiness event), or fatal.
type handshakeResult int

const (
	handshakeDone handshakeResult = iota
	handshakeWantIO
	handshakeFailed
)

// step attempts a single handshake advance. The dispatcher calls this once
// per clientRead invocation while FlagTLSHandshaking is set; it never
// blocks because the underlying socket is non-blocking and the dispatcher
// only calls in here once the kernel has reported the fd readable.
func (t *tlsSession) step() handshakeResult {
	err := t.conn.Handshake()
	if err == nil {
		return handshakeDone
	}
	if isWouldBlock(err) {
		return handshakeWantIO
	}
	return handshakeFailed
}

func (t *tlsSession) read(buf []byte) (int, error) {
	n, err := t.conn.Read(buf)
	if err != nil && isWouldBlock(err) {
		return n, nil
	}
	return n, err
}

// write maps any non-positive result to -1/error, per §4.4: "write maps any
// non-positive TLS return to -1".
func (t *tlsSession) write(buf []byte) (int, error) {
	n, err := t.conn.Write(buf)
	if n <= 0 {
		if err == nil {
			err = errors.New("qev: tls write made no progress")
		}
		return 0, err
	}
	return n, nil
}

// shutdown sends a close-notify alert if the handshake has completed; it
// does not wait for the peer's own close-notify, so the shutdown is
// one-directional. Errors here are never surfaced, since by the time this
// runs the client is already on its way to the quiescence queue.
func (t *tlsSession) shutdown() {
	_ = t.conn.Close()
}

func isWouldBlock(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
