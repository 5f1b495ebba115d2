package pool

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/hugr-lab/mssql-extension/conn"
	"github.com/hugr-lab/mssql-extension/tds"
)

// fakeTDSServer speaks the minimum TDS needed to drive conn.Connection
// through handshake and a handful of batches, following the same real
// loopback-socket testing convention used by conn/connection_test.go and
// transport/transport_test.go.
type fakeTDSServer struct {
	ln net.Listener
}

func startFakeTDSServer(t *testing.T) (*fakeTDSServer, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	s := &fakeTDSServer{ln: ln}
	go s.acceptLoop(t)
	return s, port
}

func (s *fakeTDSServer) acceptLoop(t *testing.T) {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(t, c)
	}
}

func (s *fakeTDSServer) serve(t *testing.T, c net.Conn) {
	defer c.Close()

	if _, _, err := readTDSMessage(c); err != nil { // PRELOGIN
		return
	}
	if err := sendTDSMessage(c, tds.PacketPrelogin, tds.EncodePrelogin(tds.PreloginRequest{Encryption: tds.EncryptOff})); err != nil {
		return
	}
	if _, _, err := readTDSMessage(c); err != nil { // LOGIN7
		return
	}
	if err := sendTDSMessage(c, tds.PacketTabular, loginAckBytes()); err != nil {
		return
	}

	for {
		_, body, err := readTDSMessage(c)
		if err != nil {
			return
		}
		sql := decodeBatchSQL(body)
		var resp []byte
		switch {
		case contains(sql, "BEGIN TRANSACTION"):
			resp = append(envChangeTxBytes(tds.EnvChangeBeginTrans, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}), doneBytes(tds.DoneFinal)...)
		case contains(sql, "COMMIT TRANSACTION"):
			resp = append(envChangeTxBytes(tds.EnvChangeCommitTrans, [8]byte{}), doneBytes(tds.DoneFinal)...)
		case contains(sql, "ROLLBACK TRANSACTION"):
			resp = append(envChangeTxBytes(tds.EnvChangeRollbackTrans, [8]byte{}), doneBytes(tds.DoneFinal)...)
		default:
			resp = doneBytes(tds.DoneFinal)
		}
		if err := sendTDSMessage(c, tds.PacketTabular, resp); err != nil {
			return
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func decodeBatchSQL(body []byte) string {
	// ExecuteBatch prefixes ALL_HEADERS before the UTF-16LE SQL text; skip
	// the 4-byte total-length-prefixed header block.
	if len(body) < 4 {
		return ""
	}
	totalLen := binary.LittleEndian.Uint32(body[:4])
	if int(totalLen) > len(body) || totalLen < 4 {
		return ""
	}
	sqlBytes := body[totalLen:]
	out := make([]rune, 0, len(sqlBytes)/2)
	for i := 0; i+1 < len(sqlBytes); i += 2 {
		out = append(out, rune(binary.LittleEndian.Uint16(sqlBytes[i:i+2])))
	}
	return string(out)
}

func sendTDSMessage(c net.Conn, typ tds.PacketType, payload []byte) error {
	h := tds.Header{Type: typ, Status: tds.StatusEndOfMessage, Length: uint16(tds.HeaderSize + len(payload)), PacketID: 1}
	_, err := c.Write(append(h.Marshal(), payload...))
	return err
}

func readTDSMessage(c net.Conn) (tds.PacketType, []byte, error) {
	r := tds.NewReassembler()
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if err != nil {
			return 0, nil, err
		}
		typ, payload, ok, ferr := r.Feed(buf[:n])
		if ferr != nil {
			return 0, nil, ferr
		}
		if ok {
			return typ, payload, nil
		}
	}
}

func bVarCharTDS(s string) []byte {
	enc := tds.EncodeUTF16LE(s)
	return append([]byte{byte(len(enc) / 2)}, enc...)
}

func loginAckBytes() []byte {
	body := make([]byte, 0, 32)
	body = append(body, 1)
	tdsVer := make([]byte, 4)
	binary.LittleEndian.PutUint32(tdsVer, 0x74000004)
	body = append(body, tdsVer...)
	body = append(body, bVarCharTDS("mssql-extension-test")...)
	body = append(body, 1, 0, 0, 0)

	out := make([]byte, 0, len(body)+3)
	out = append(out, byte(tds.TokenLoginAck))
	lenField := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenField, uint16(len(body)))
	out = append(out, lenField...)
	out = append(out, body...)
	return out
}

func envChangeTxBytes(sub tds.EnvChangeType, descriptor [8]byte) []byte {
	var newVal []byte
	if descriptor != ([8]byte{}) {
		newVal = descriptor[:]
	}
	body := make([]byte, 0, 16)
	body = append(body, byte(sub))
	body = append(body, byte(len(newVal)))
	body = append(body, newVal...)
	body = append(body, 0) // old value length 0

	out := make([]byte, 0, len(body)+3)
	out = append(out, byte(tds.TokenEnvChange))
	lenField := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenField, uint16(len(body)))
	out = append(out, lenField...)
	out = append(out, body...)
	return out
}

func doneBytes(status uint16) []byte {
	out := make([]byte, 0, 16)
	out = append(out, byte(tds.TokenDone))
	s := make([]byte, 2)
	binary.LittleEndian.PutUint16(s, status)
	out = append(out, s...)
	out = append(out, 0, 0)
	out = append(out, make([]byte, 8)...)
	return out
}

func testFactory(t *testing.T, port int) func(ctx context.Context) (*conn.Connection, error) {
	return func(ctx context.Context) (*conn.Connection, error) {
		c := conn.New(conn.Options{
			Host:           "127.0.0.1",
			Port:           port,
			Username:       "sa",
			Password:       "pw",
			Database:       "master",
			ConnectTimeout: 2 * time.Second,
		})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func TestPoolAcquireReleaseReusesIdleConnection(t *testing.T) {
	srv, port := startFakeTDSServer(t)
	defer srv.ln.Close()

	p := New(Config{ConnectionLimit: 2, ConnectionCache: true}, testFactory(t, port), nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(c1)

	stats := p.Stats()
	if stats.Idle != 1 || stats.Total != 1 {
		t.Fatalf("expected 1 idle/1 total after release, got %+v", stats)
	}

	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if c2 != c1 {
		t.Fatalf("expected the idle connection to be reused")
	}
	p.Release(c2)
}

func TestPoolAcquireCreatesNewUpToLimit(t *testing.T) {
	srv, port := startFakeTDSServer(t)
	defer srv.ln.Close()

	p := New(Config{ConnectionLimit: 2, ConnectionCache: true}, testFactory(t, port), nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	if c1 == c2 {
		t.Fatalf("expected two distinct connections")
	}
	if p.Stats().Total != 2 {
		t.Fatalf("expected total 2, got %+v", p.Stats())
	}
	p.Release(c1)
	p.Release(c2)
}

func TestPoolAcquireTimesOutWhenFull(t *testing.T) {
	srv, port := startFakeTDSServer(t)
	defer srv.ln.Close()

	p := New(Config{ConnectionLimit: 1, ConnectionCache: true, AcquireTimeout: 200 * time.Millisecond}, testFactory(t, port), nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	defer p.Release(c1)

	_, err = p.Acquire(ctx)
	if err == nil {
		t.Fatalf("expected acquire timeout while pool is at limit")
	}
}

func TestPoolConnectionCacheDisabledClosesOnRelease(t *testing.T) {
	srv, port := startFakeTDSServer(t)
	defer srv.ln.Close()

	p := New(Config{ConnectionLimit: 2, ConnectionCache: false}, testFactory(t, port), nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(c1)

	if stats := p.Stats(); stats.Idle != 0 || stats.Total != 0 {
		t.Fatalf("expected connection_cache=false to close on release, got %+v", stats)
	}
}
