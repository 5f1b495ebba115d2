package conn

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/hugr-lab/mssql-extension/tds"
)

// fakeServer speaks just enough TDS to drive a Connection through handshake,
// one batch, and cancellation, following the teacher's preference for a real
// loopback socket over a mocked transport (transport/transport_test.go).
type fakeServer struct {
	ln net.Listener
}

func startFakeServer(t *testing.T) (*fakeServer, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return &fakeServer{ln: ln}, port
}

func (s *fakeServer) serveHandshakeThenBatchThenCancel(t *testing.T) {
	t.Helper()
	go func() {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		if _, _, err := readMessage(c); err != nil {
			return
		}
		preloginResp := tds.EncodePrelogin(tds.PreloginRequest{Encryption: tds.EncryptOff})
		if err := sendMessage(c, tds.PacketPrelogin, preloginResp); err != nil {
			return
		}

		if _, _, err := readMessage(c); err != nil {
			return
		}
		if err := sendMessage(c, tds.PacketTabular, loginAckTokenBytes()); err != nil {
			return
		}

		if _, _, err := readMessage(c); err != nil { // SQL_BATCH
			return
		}
		if err := sendMessage(c, tds.PacketTabular, selectOneResultBytes()); err != nil {
			return
		}

		if _, _, err := readMessage(c); err != nil { // ATTENTION
			return
		}
		_ = sendMessage(c, tds.PacketTabular, doneAttnBytes())
	}()
}

func sendMessage(c net.Conn, typ tds.PacketType, payload []byte) error {
	h := tds.Header{Type: typ, Status: tds.StatusEndOfMessage, Length: uint16(tds.HeaderSize + len(payload)), PacketID: 1}
	_, err := c.Write(append(h.Marshal(), payload...))
	return err
}

func readMessage(c net.Conn) (tds.PacketType, []byte, error) {
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

func bVarChar(s string) []byte {
	enc := tds.EncodeUTF16LE(s)
	return append([]byte{byte(len(enc) / 2)}, enc...)
}

func loginAckTokenBytes() []byte {
	body := make([]byte, 0, 32)
	body = append(body, 1)                       // interface
	tdsVer := make([]byte, 4)
	binary.LittleEndian.PutUint32(tdsVer, 0x74000004)
	body = append(body, tdsVer...)
	body = append(body, bVarChar("mssql-extension-test")...)
	body = append(body, 1, 0, 0, 0) // major, minor, buildHi, buildLo

	out := make([]byte, 0, len(body)+3)
	out = append(out, byte(tds.TokenLoginAck))
	lenField := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenField, uint16(len(body)))
	out = append(out, lenField...)
	out = append(out, body...)
	return out
}

func intColumnEntry(name string) []byte {
	entry := make([]byte, 0, 16)
	entry = append(entry, 0, 0, 0, 0) // UserType
	entry = append(entry, 0, 0)       // Flags
	entry = append(entry, 0x38)       // TypeInt: fixed, no extra type bytes
	entry = append(entry, bVarChar(name)...)
	return entry
}

func selectOneResultBytes() []byte {
	colMeta := make([]byte, 0, 32)
	colMeta = append(colMeta, byte(tds.TokenColMetadata))
	count := make([]byte, 2)
	binary.LittleEndian.PutUint16(count, 1)
	colMeta = append(colMeta, count...)
	colMeta = append(colMeta, intColumnEntry("n")...)

	row := make([]byte, 0, 8)
	row = append(row, byte(tds.TokenRow))
	val := make([]byte, 4)
	binary.LittleEndian.PutUint32(val, 42)
	row = append(row, val...)

	done := make([]byte, 0, 16)
	done = append(done, byte(tds.TokenDone))
	status := make([]byte, 2)
	binary.LittleEndian.PutUint16(status, tds.DoneCount)
	done = append(done, status...)
	done = append(done, 0, 0) // curCmd
	done = append(done, make([]byte, 8)...) // rowCount = 0, zero is fine for the test

	out := make([]byte, 0, len(colMeta)+len(row)+len(done))
	out = append(out, colMeta...)
	out = append(out, row...)
	out = append(out, done...)
	return out
}

func doneAttnBytes() []byte {
	out := make([]byte, 0, 16)
	out = append(out, byte(tds.TokenDone))
	status := make([]byte, 2)
	binary.LittleEndian.PutUint16(status, tds.DoneAttention)
	out = append(out, status...)
	out = append(out, 0, 0)
	out = append(out, make([]byte, 8)...)
	return out
}

func TestConnectionHandshakeExecuteAndCancel(t *testing.T) {
	srv, port := startFakeServer(t)
	defer srv.ln.Close()
	srv.serveHandshakeThenBatchThenCancel(t)

	c := New(Options{
		Host:           "127.0.0.1",
		Port:           port,
		Username:       "sa",
		Password:       "pw",
		Database:       "master",
		ConnectTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("expected Idle after handshake, got %s", c.State())
	}

	rs, err := c.ExecuteBatch(ctx, "SELECT 42 AS n")
	if err != nil {
		t.Fatalf("ExecuteBatch failed: %v", err)
	}
	var gotRow bool
	for {
		ev, ok, err := rs.Next()
		if err != nil {
			t.Fatalf("stream decode error: %v", err)
		}
		if !ok {
			break
		}
		if ev.Kind == tds.EventRow {
			gotRow = true
			if ev.Row[0].(int32) != 42 {
				t.Fatalf("expected row value 42, got %v", ev.Row[0])
			}
		}
	}
	if !gotRow {
		t.Fatalf("expected a row event")
	}
	if c.State() != Idle {
		t.Fatalf("expected Idle after DONE, got %s", c.State())
	}

	// Drive back into Executing to exercise SendAttention's drain loop.
	if !c.state.CAS(Idle, Executing, nil) {
		t.Fatalf("failed to force Executing for cancellation test")
	}
	if err := c.SendAttention(); err != nil {
		t.Fatalf("SendAttention failed: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("expected Idle after cancel ack, got %s", c.State())
	}
}

func TestConnectionConnectFailureLeavesDisconnected(t *testing.T) {
	c := New(Options{Host: "127.0.0.1", Port: 1, ConnectTimeout: 200 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatalf("expected connect failure against an unused port")
	}
	if c.State() != Disconnected {
		t.Fatalf("expected Disconnected after failed connect, got %s", c.State())
	}
}
