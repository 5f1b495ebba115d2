package conn

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/log"
	"github.com/hugr-lab/mssql-extension/tds"
	"github.com/hugr-lab/mssql-extension/transport"
)

// defaults mirror the teacher's ClientOptions defaults (client/options.go),
// narrowed to what a single TDS connection needs.
const (
	DefaultPacketSize      = 4096
	cancelAckTimeout       = 5 * time.Second
	maxRoutingHops         = 5
	tdsVersion74    uint32 = 0x74000004
)

var connectionIDSeq int32

// TokenProvider fetches a federated-auth access token (e.g. Azure AD) on
// demand, invoked when the server's FEDAUTHINFO token requests one.
type TokenProvider func(ctx context.Context) (string, error)

// Options configures a single TDS connection attempt. It is deliberately
// self-contained (no dependency on attach.Config) so conn can be tested and
// reused without the pool/attachment machinery.
type Options struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	AppName  string
	Hostname string

	ConnectTimeout time.Duration
	PacketSize     uint32

	Encrypt               bool
	TLSInsecureSkipVerify bool
	TLSCAFile             string
	TLSCertFile           string
	TLSKeyFile            string

	FedAuth TokenProvider

	Logger log.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.PacketSize == 0 {
		o.PacketSize = DefaultPacketSize
	}
	if o.AppName == "" {
		o.AppName = "mssql-extension"
	}
	if o.Logger == nil {
		o.Logger = log.NewNoopLogger()
	}
	return o
}

// Connection is a single TDS socket: the PRELOGIN/LOGIN7/LOGINACK handshake,
// the auth/execution state machine, and batch send/receive.
type Connection struct {
	opts Options

	state *StateManager
	log   log.Logger

	mu          sync.Mutex // serializes Send/Recv against one in-flight batch
	transport   transport.Transport
	framer      *tds.Framer
	reassembler *tds.Reassembler

	spid       uint16
	database   string
	serverName string

	txDescriptor atomic.Value // [8]byte
	createdAt    time.Time
	lastUsedAt   atomic.Value // time.Time
}

// New creates a Connection in the Disconnected state. Call Connect to perform
// the handshake.
func New(opts Options) *Connection {
	opts = opts.withDefaults()
	c := &Connection{
		opts:  opts,
		state: NewStateManager(),
		log:   opts.Logger.WithFields(log.String("host", opts.Host), log.Int("port", opts.Port)),
	}
	c.txDescriptor.Store([8]byte{})
	c.lastUsedAt.Store(time.Now())
	return c
}

// State returns the current connection state.
func (c *Connection) State() State { return c.state.Get() }

// TransactionDescriptor returns the 8-byte descriptor ALL_HEADERS currently
// carries; zero outside an explicit transaction.
func (c *Connection) TransactionDescriptor() [8]byte {
	return c.txDescriptor.Load().([8]byte)
}

// SetTransactionDescriptor installs the descriptor returned by an ENVCHANGE
// BEGIN/COMMIT/ROLLBACK transaction token, used by pool's pinning layer.
func (c *Connection) SetTransactionDescriptor(d [8]byte) { c.txDescriptor.Store(d) }

// LastUsedAt reports when the connection last completed a batch or handshake.
func (c *Connection) LastUsedAt() time.Time { return c.lastUsedAt.Load().(time.Time) }

func (c *Connection) touch() { c.lastUsedAt.Store(time.Now()) }

// Connect performs PRELOGIN, the optional TLS upgrade, LOGIN7, and reads
// tokens until LOGINACK, following routing redirects up to maxRoutingHops
//.
func (c *Connection) Connect(ctx context.Context) error {
	if !c.state.CAS(Disconnected, Authenticating, nil) {
		return dberr.NewBadConfigurationError("state", fmt.Sprintf("Connect called while %s", c.state.Get()))
	}
	c.createdAt = time.Now()

	host, port := c.opts.Host, c.opts.Port
	for hop := 0; ; hop++ {
		if hop > maxRoutingHops {
			err := dberr.NewAuthFailedError("exceeded maximum routing hops", nil)
			c.state.ForceDisconnected(err)
			return err
		}

		routedHost, routedPort, done, err := c.handshakeOnce(ctx, host, port)
		if err != nil {
			c.state.ForceDisconnected(err)
			return err
		}
		if done {
			c.state.CAS(Authenticating, Idle, nil)
			c.touch()
			c.log.Debug("connection established", log.Int("spid", int(c.spid)))
			return nil
		}

		c.log.Debug("server requested routing", log.String("newHost", routedHost), log.Int("newPort", routedPort))
		if c.transport != nil {
			_ = c.transport.Close()
		}
		host, port = routedHost, routedPort
	}
}

// handshakeOnce drives one PRELOGIN/LOGIN7 attempt against host:port. When the
// server responds with an ENVCHANGE routing token it returns done=false and
// the new target instead of completing the handshake.
func (c *Connection) handshakeOnce(ctx context.Context, host string, port int) (routedHost string, routedPort int, done bool, err error) {
	t := transport.NewTCPTransport()
	if err := t.Connect(host, port, c.opts.ConnectTimeout); err != nil {
		return "", 0, false, dberr.NewIoError("tcp connect failed", err)
	}
	c.transport = t
	c.framer = tds.NewFramer(0)
	c.reassembler = tds.NewReassembler()
	c.serverName = host

	preq := tds.PreloginRequest{
		Version:         [6]byte{0, 0, 0, 1, 0, 0},
		Encryption:      tds.EncryptOff,
		MARS:            false,
		FedAuthRequired: c.opts.FedAuth != nil,
	}
	if c.opts.Encrypt {
		preq.Encryption = tds.EncryptOn
	}
	activityID, _ := uuid.New().MarshalBinary()
	copy(preq.TraceID[:16], activityID)

	if err := c.sendPacket(tds.PacketPrelogin, tds.EncodePrelogin(preq)); err != nil {
		return "", 0, false, dberr.NewIoError("prelogin send failed", err)
	}
	_, body, err := c.recvMessage(ctx)
	if err != nil {
		return "", 0, false, dberr.NewIoError("prelogin response failed", err)
	}
	presp, err := tds.DecodePrelogin(body)
	if err != nil {
		return "", 0, false, dberr.NewProtocolFramingError("malformed prelogin response", err)
	}

	tlsRequired, err := tds.NegotiateEncryption(c.opts.Encrypt, presp.Encryption)
	if err != nil {
		return "", 0, false, dberr.NewServerRefusedEncryptionError(err.Error(), err)
	}
	if tlsRequired {
		tlsOpts := transport.TLSOptions{
			Enabled:            true,
			InsecureSkipVerify: c.opts.TLSInsecureSkipVerify,
			CAFile:             c.opts.TLSCAFile,
			CertFile:           c.opts.TLSCertFile,
			KeyFile:            c.opts.TLSKeyFile,
			ServerName:         serverNameFor(host),
		}
		if err := transport.UpgradeTLS(t, tlsOpts, 0, c.opts.ConnectTimeout); err != nil {
			return "", 0, false, dberr.NewIoError("tls handshake failed", err)
		}
	}

	login := tds.Login7Request{
		TDSVersion:     tdsVersion74,
		PacketSize:     c.opts.PacketSize,
		ClientProgVer:  1,
		ClientPID:      uint32(atomic.AddInt32(&connectionIDSeq, 1)),
		ConnectionID:   uint32(atomic.LoadInt32(&connectionIDSeq)),
		ClientTimeZone: 0,
		ClientLCID:     0x00000409, // en-US
		Hostname:       c.opts.Hostname,
		Username:       c.opts.Username,
		Password:       c.opts.Password,
		AppName:        c.opts.AppName,
		ServerName:     host,
		CltIntName:     "mssql-extension",
		Language:       "",
		Database:       c.opts.Database,
		UseFedAuth:     c.opts.FedAuth != nil,
	}
	if err := c.sendPacket(tds.PacketLogin7, tds.EncodeLogin7(login)); err != nil {
		return "", 0, false, dberr.NewIoError("login7 send failed", err)
	}

	return c.readLoginResponse(ctx)
}

// readLoginResponse reads tokens following LOGIN7 until LOGINACK, an error,
// or a routing ENVCHANGE, answering FEDAUTHINFO challenges along the way.
func (c *Connection) readLoginResponse(ctx context.Context) (routedHost string, routedPort int, done bool, err error) {
	for {
		_, body, rerr := c.recvMessage(ctx)
		if rerr != nil {
			return "", 0, false, dberr.NewIoError("login response failed", rerr)
		}
		p := tds.NewParser(body)
		for {
			ev, ok, perr := p.Next()
			if perr != nil {
				return "", 0, false, dberr.NewProtocolFramingError("malformed login response", perr)
			}
			if !ok {
				break
			}
			switch ev.Kind {
			case tds.EventError:
				return "", 0, false, dberr.NewAuthFailedError(ev.SQLError.Message, tds.FromSQLError(ev.SQLError))

			case tds.EventEnvChange:
				if ev.EnvChange.Type == tds.EnvChangeRouting {
					routedHost, routedPort = ev.EnvChange.RouteServer, int(ev.EnvChange.RoutePort)
					continue
				}
				if ev.EnvChange.Type == tds.EnvChangeDatabase {
					c.database = ev.EnvChange.NewValueString
				}

			case tds.EventFedAuthInfo:
				if c.opts.FedAuth == nil {
					return "", 0, false, dberr.NewAuthFailedError("server requested federated auth but no token provider configured", nil)
				}
				token, terr := c.opts.FedAuth(ctx)
				if terr != nil {
					return "", 0, false, dberr.NewAuthFailedError("federated auth token fetch failed", terr)
				}
				tokenBytes := tds.EncodeUTF16LE(token)
				if serr := c.sendPacket(tds.PacketFedAuth, tds.EncodeFedAuthToken(tokenBytes, [32]byte{}, false)); serr != nil {
					return "", 0, false, dberr.NewIoError("fedauth token send failed", serr)
				}

			case tds.EventLoginAck:
				if routedHost != "" {
					return routedHost, routedPort, false, nil
				}
				c.spid = c.reassembler.SPID
				c.framer.SetSPID(c.spid)
				return "", 0, true, nil
			}
		}
	}
}

func serverNameFor(hostOrInstance string) string {
	if idx := strings.IndexByte(hostOrInstance, '\\'); idx >= 0 {
		return hostOrInstance[:idx]
	}
	return hostOrInstance
}

func (c *Connection) sendPacket(typ tds.PacketType, payload []byte) error {
	for _, pkt := range c.framer.Frame(typ, payload) {
		if err := c.transport.Send(pkt); err != nil {
			return err
		}
	}
	return nil
}

// recvMessage reads packets until the reassembler yields a complete message,
// honoring ctx's deadline across reads.
func (c *Connection) recvMessage(ctx context.Context) (tds.PacketType, []byte, error) {
	for {
		var timeout time.Duration
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
			if timeout <= 0 {
				return 0, nil, context.DeadlineExceeded
			}
		}
		chunk, err := c.transport.Recv(timeout)
		if err != nil {
			return 0, nil, err
		}
		typ, payload, ok, ferr := c.reassembler.Feed(chunk)
		if ferr != nil {
			return 0, nil, ferr
		}
		if ok {
			return typ, payload, nil
		}
	}
}

// recvMessageWithin is recvMessage bounded by a plain duration rather than a
// context deadline, used by the cancel-ack drain loop which owns its own
// overall timeout.
func (c *Connection) recvMessageWithin(d time.Duration) (tds.PacketType, []byte, error) {
	for {
		chunk, err := c.transport.Recv(d)
		if err != nil {
			return 0, nil, err
		}
		typ, payload, ok, ferr := c.reassembler.Feed(chunk)
		if ferr != nil {
			return 0, nil, ferr
		}
		if ok {
			return typ, payload, nil
		}
	}
}

// encodeAllHeaders builds the ALL_HEADERS block every SQL_BATCH/RPC request
// must carry: a transaction-descriptor header with the current transaction
// descriptor (zero outside an explicit transaction) and an outstanding
// request count of 1 (MS-TDS 2.2.6.4).
func encodeAllHeaders(txDescriptor [8]byte) []byte {
	headerData := make([]byte, 0, 12)
	headerData = append(headerData, txDescriptor[:]...)
	outstanding := make([]byte, 4)
	binary.LittleEndian.PutUint32(outstanding, 1)
	headerData = append(headerData, outstanding...)

	headerLen := 4 + 2 + len(headerData)
	header := make([]byte, 0, headerLen)
	lb := make([]byte, 4)
	binary.LittleEndian.PutUint32(lb, uint32(headerLen))
	header = append(header, lb...)
	header = append(header, 0x02, 0x00) // transaction descriptor header type
	header = append(header, headerData...)

	total := 4 + len(header)
	out := make([]byte, 0, total)
	tb := make([]byte, 4)
	binary.LittleEndian.PutUint32(tb, uint32(total))
	out = append(out, tb...)
	out = append(out, header...)
	return out
}

// ResultStream is a lazy token iterator over one ExecuteBatch response. The
// caller drives it row by row; the owning connection returns to Idle only
// once a terminal DONE (no DONE_MORE pending) is observed, matching the design
// §4.4's Executing → Idle transition exactly.
type ResultStream struct {
	conn   *Connection
	parser *tds.Parser
}

// Columns returns the column set established by the most recent COLMETADATA.
func (rs *ResultStream) Columns() []tds.Column { return rs.parser.Columns() }

// Next decodes the next token. ok is false once the stream is exhausted.
func (rs *ResultStream) Next() (tds.Event, bool, error) {
	ev, ok, err := rs.parser.Next()
	if err != nil {
		rs.conn.state.ForceDisconnected(err)
		return tds.Event{}, false, dberr.NewProtocolFramingError("token stream decode failed", err)
	}
	if !ok {
		return tds.Event{}, false, nil
	}
	isDone := ev.Kind == tds.EventDone || ev.Kind == tds.EventDoneProc || ev.Kind == tds.EventDoneInProc
	if isDone && ev.Done.IsFinal {
		rs.conn.state.CAS(Executing, Idle, nil)
		rs.conn.touch()
	}
	return ev, true, nil
}

// ExecuteBatch sends sql as a SQL_BATCH request and returns a ResultStream
// for the caller to drain. The connection transitions Idle → Executing for
// the duration of the stream.
func (c *Connection) ExecuteBatch(ctx context.Context, sql string) (*ResultStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CAS(Idle, Executing, nil) {
		return nil, dberr.NewBadConfigurationError("state", fmt.Sprintf("ExecuteBatch called while %s", c.state.Get()))
	}
	payload := append(encodeAllHeaders(c.TransactionDescriptor()), tds.EncodeUTF16LE(sql)...)
	if err := c.sendPacket(tds.PacketSQLBatch, payload); err != nil {
		werr := dberr.NewIoError("batch send failed", err)
		c.state.ForceDisconnected(werr)
		return nil, werr
	}
	_, body, err := c.recvMessage(ctx)
	if err != nil {
		werr := dberr.NewIoError("batch response failed", err)
		c.state.ForceDisconnected(werr)
		return nil, werr
	}
	c.log.Debug("batch sent", log.Int("bytes", len(sql)))
	return &ResultStream{conn: c, parser: tds.NewParser(body)}, nil
}

// SendAttention cancels an in-flight batch: it transitions Executing →
// Cancelling, sends an ATTENTION packet, and drains incoming packets until a
// DONE with DONE_ATTN set appears. A cancel-ack timeout forces Disconnected.
func (c *Connection) SendAttention() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CAS(Executing, Cancelling, nil) {
		return nil // nothing in flight to cancel
	}
	if err := c.sendPacket(tds.PacketAttention, nil); err != nil {
		werr := dberr.NewIoError("attention send failed", err)
		c.state.ForceDisconnected(werr)
		return werr
	}

	deadline := time.Now().Add(cancelAckTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			werr := dberr.NewIoError("cancel ack timeout", nil)
			c.state.ForceDisconnected(werr)
			return werr
		}
		_, body, err := c.recvMessageWithin(remaining)
		if err != nil {
			werr := dberr.NewIoError("attention drain failed", err)
			c.state.ForceDisconnected(werr)
			return werr
		}
		p := tds.NewParser(body)
		for {
			ev, ok, perr := p.Next()
			if perr != nil {
				werr := dberr.NewProtocolFramingError("malformed attention drain response", perr)
				c.state.ForceDisconnected(werr)
				return werr
			}
			if !ok {
				break
			}
			isDone := ev.Kind == tds.EventDone || ev.Kind == tds.EventDoneProc || ev.Kind == tds.EventDoneInProc
			if isDone && ev.Done.IsAttnAck {
				c.state.CAS(Cancelling, Idle, nil)
				c.touch()
				return nil
			}
		}
	}
}

// Ping executes a trivial batch and drains it, used by the pool's long-idle
// validation check.
func (c *Connection) Ping(ctx context.Context) error {
	rs, err := c.ExecuteBatch(ctx, "SELECT 1")
	if err != nil {
		return err
	}
	for {
		_, ok, err := rs.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// Close releases the transport and forces the state to Disconnected
// regardless of the current state ("Any → Disconnected").
func (c *Connection) Close() error {
	c.state.ForceDisconnected(nil)
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}
