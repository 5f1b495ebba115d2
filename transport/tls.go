package transport

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"time"

	"github.com/hugr-lab/mssql-extension/tds"
)

// TLSOptions controls the optional TLS upgrade negotiated during PRELOGIN.
// Grounded on the teacher's TLSEnabled/TLSInsecureSkipVerify/TLSCAFile/
// TLSCertFile/TLSKeyFile option set, narrowed to what a SQL Server connection
// actually negotiates.
type TLSOptions struct {
	Enabled            bool
	InsecureSkipVerify bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
}

func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         opts.ServerName,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, &TLSHandshakeFailedError{Cause: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &TLSHandshakeFailedError{Cause: &IoError{Reason: "invalid CA certificate PEM"}}
		}
		cfg.RootCAs = pool
	}
	if opts.CertFile != "" && opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, &TLSHandshakeFailedError{Cause: err}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// preloginTunnelConn wraps the raw TCP conn during the TLS handshake so every
// byte the tls package writes/reads is itself carried inside a PRELOGIN-typed
// TDS packet ("the TLS library's send/recv callbacks write
// TDS-framed bytes during the handshake"). Once tunneling is turned off the
// conn behaves as a plain passthrough, matching the server's expectation that
// post-handshake traffic is raw TLS records.
type preloginTunnelConn struct {
	net.Conn
	framer      *tds.Framer
	reassembler *tds.Reassembler
	pending     []byte
	tunneling   bool
}

func newPreloginTunnelConn(raw net.Conn, spid uint16) *preloginTunnelConn {
	return &preloginTunnelConn{
		Conn:        raw,
		framer:      tds.NewFramer(spid),
		reassembler: tds.NewReassembler(),
		tunneling:   true,
	}
}

func (c *preloginTunnelConn) stopTunneling() { c.tunneling = false }

func (c *preloginTunnelConn) Write(b []byte) (int, error) {
	if !c.tunneling {
		return c.Conn.Write(b)
	}
	for _, pkt := range c.framer.Frame(tds.PacketPrelogin, b) {
		if _, err := c.Conn.Write(pkt); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

func (c *preloginTunnelConn) Read(b []byte) (int, error) {
	if !c.tunneling {
		return c.Conn.Read(b)
	}
	for len(c.pending) == 0 {
		buf := make([]byte, 4096)
		n, err := c.Conn.Read(buf)
		if err != nil {
			return 0, err
		}
		_, payload, ok, rerr := c.reassembler.Feed(buf[:n])
		if rerr != nil {
			return 0, rerr
		}
		if ok {
			c.pending = payload
		}
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// UpgradeTLS performs the TLS handshake tunneled inside PRELOGIN packets and,
// on success, installs the resulting *tls.Conn as the transport's active
// connection so subsequent Send/Recv calls carry raw TLS records.
func UpgradeTLS(t *TCPTransport, opts TLSOptions, spid uint16, handshakeTimeout time.Duration) error {
	tunnel := newPreloginTunnelConn(t.conn, spid)
	cfg, err := buildTLSConfig(opts)
	if err != nil {
		return err
	}
	tlsConn := tls.Client(tunnel, cfg)
	if handshakeTimeout > 0 {
		_ = tunnel.Conn.SetDeadline(time.Now().Add(handshakeTimeout))
	}
	if err := tlsConn.Handshake(); err != nil {
		return &TLSHandshakeFailedError{Cause: err}
	}
	if handshakeTimeout > 0 {
		_ = tunnel.Conn.SetDeadline(time.Time{})
	}
	tunnel.stopTunneling()
	t.replaceConn(tlsConn)
	return nil
}
