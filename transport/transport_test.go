package transport

import (
	"net"
	"testing"
	"time"
)

func TestTCPTransportSendRecv(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write([]byte("world"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := NewTCPTransport()
	if err := tr.Connect(addr.IP.String(), addr.Port, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	if err := tr.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := tr.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("got %q", got)
	}
	<-done
}

func TestTCPTransportConnectFailure(t *testing.T) {
	tr := NewTCPTransport()
	err := tr.Connect("127.0.0.1", 1, 100*time.Millisecond)
	if err == nil {
		t.Fatalf("expected connect error to an unused port")
	}
	if _, ok := err.(*ConnectTimeoutError); !ok {
		t.Fatalf("expected *ConnectTimeoutError, got %T", err)
	}
}

func TestTCPTransportSendBeforeConnect(t *testing.T) {
	tr := NewTCPTransport()
	if err := tr.Send([]byte("x")); err == nil {
		t.Fatalf("expected error sending before connect")
	}
}
