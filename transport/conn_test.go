package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"packet-rpc/protocol"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startListener(t *testing.T) *Listener {
	t.Helper()
	l := NewListener(testConfig(t))
	l.Start("127.0.0.1:0")
	waitFor(t, "listener", func() bool { return l.State() != ServerStarting })
	if l.State() != ServerListening {
		t.Fatalf("listener state %s: %s", l.State(), l.LastError())
	}
	t.Cleanup(l.Stop)
	return l
}

// connectPair returns a connected client and the matching accepted server connection.
func connectPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	l := startListener(t)

	client := NewConn(testConfig(t))
	client.StartClient(l.Addr().String())
	waitFor(t, "client connect", func() bool { return client.State() != Connecting })
	if client.State() != Connected {
		t.Fatalf("client state %s: %s", client.State(), client.LastError())
	}

	var server *Conn
	waitFor(t, "accepted connection", func() bool {
		server = l.AcceptNext()
		return server != nil
	})
	return client, server
}

func receiveN(t *testing.T, c *Conn, n int) [][]byte {
	t.Helper()
	var out [][]byte
	waitFor(t, "payloads", func() bool {
		for {
			p, ok := c.TryReceive()
			if !ok {
				break
			}
			out = append(out, p)
		}
		return len(out) >= n
	})
	return out
}

func TestClientConnectsToListener(t *testing.T) {
	client, server := connectPair(t)
	defer client.Stop()
	defer server.Stop()

	if server.State() != Connected {
		t.Fatalf("accepted connection state %s, want CONNECTED", server.State())
	}
	if client.LastError() != "" || server.LastError() != "" {
		t.Fatalf("unexpected errors: %q %q", client.LastError(), server.LastError())
	}
	if server.RemoteAddr() == "" {
		t.Fatalf("accepted connection has no remote address")
	}
}

func TestClientClosedPortReachesError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewConn(testConfig(t))
	c.StartClient(addr)
	waitFor(t, "connect failure", func() bool { return c.IsTerminal() })
	c.Stop()

	if c.State() != Error {
		t.Fatalf("state %s, want ERROR", c.State())
	}
	if c.LastError() == "" {
		t.Fatalf("ERROR state without an error message")
	}
}

func TestOrderPreservation(t *testing.T) {
	client, server := connectPair(t)
	defer client.Stop()
	defer server.Stop()

	want := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, p := range want {
		client.Send(p)
	}
	got := receiveN(t, server, len(want))
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("payload %d: got %q, want %q", i, got[i], want[i])
		}
	}

	// 反方向同样保序
	for i := 0; i < 200; i++ {
		server.Send([]byte{byte(i)})
	}
	got = receiveN(t, client, 200)
	for i := 0; i < 200; i++ {
		if len(got[i]) != 1 || got[i][0] != byte(i) {
			t.Fatalf("payload %d out of order: %v", i, got[i])
		}
	}
}

func TestLargePayloadCrossesManyReads(t *testing.T) {
	client, server := connectPair(t)
	defer client.Stop()
	defer server.Stop()

	big := bytes.Repeat([]byte("0123456789"), 50000)
	client.Send(big)
	client.Send([]byte("tail"))

	got := receiveN(t, server, 2)
	if !bytes.Equal(got[0], big) || string(got[1]) != "tail" {
		t.Fatalf("large payload corrupted")
	}
	if client.PendingSendCount() != 0 {
		t.Fatalf("send queue not drained: %d", client.PendingSendCount())
	}
}

func TestPeerCloseDisconnects(t *testing.T) {
	client, server := connectPair(t)
	defer server.Stop()

	client.Stop()
	if client.State() != Disconnected {
		t.Fatalf("stopped client state %s, want DISCONNECTED", client.State())
	}

	waitFor(t, "server disconnect", func() bool { return server.IsTerminal() })
	if server.State() != Disconnected {
		t.Fatalf("server state %s (%s), want DISCONNECTED", server.State(), server.LastError())
	}
	if server.LastError() != "" {
		t.Fatalf("graceful close produced error %q", server.LastError())
	}
}

func TestReceivedPayloadsSurviveDisconnect(t *testing.T) {
	client, server := connectPair(t)
	defer server.Stop()

	client.Send([]byte("last words"))
	waitFor(t, "send drain", func() bool { return client.PendingSendCount() == 0 })
	client.Stop()

	waitFor(t, "server disconnect", func() bool { return server.IsTerminal() })
	p, ok := server.TryReceive()
	if !ok || string(p) != "last words" {
		t.Fatalf("expected queued payload after disconnect, got %q %v", p, ok)
	}
}

func TestStopJoinsAndSecondStopPanics(t *testing.T) {
	client, server := connectPair(t)
	defer server.Stop()

	client.Stop()
	if client.Running() {
		t.Fatalf("connection still running after Stop")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("second Stop did not panic")
		}
	}()
	client.Stop()
}

func TestStartTwicePanics(t *testing.T) {
	client, server := connectPair(t)
	defer server.Stop()
	defer client.Stop()

	defer func() {
		if recover() == nil {
			t.Fatalf("second StartClient did not panic")
		}
	}()
	client.StartClient("127.0.0.1:1")
}

func TestSendEmptyPayloadPanics(t *testing.T) {
	c := NewConn(testConfig(t))
	defer func() {
		if recover() == nil {
			t.Fatalf("empty Send did not panic")
		}
	}()
	c.Send(nil)
}

func TestTryReceiveEmpty(t *testing.T) {
	c := NewConn(testConfig(t))
	if p, ok := c.TryReceive(); ok || p != nil {
		t.Fatalf("expected no payload, got %q", p)
	}
	if c.State() != Disconnected || !c.IsTerminal() {
		t.Fatalf("new connection state %s", c.State())
	}
}

func TestRawFrameInterop(t *testing.T) {
	l := startListener(t)

	raw, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	var server *Conn
	waitFor(t, "accepted connection", func() bool {
		server = l.AcceptNext()
		return server != nil
	})
	defer server.Stop()

	// Two frames in one write, the second split across two writes.
	second := protocol.Encode([]byte("second"))
	if _, err := raw.Write(append(protocol.Encode([]byte("first")), second[:3]...)); err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Write(second[3:]); err != nil {
		t.Fatal(err)
	}
	got := receiveN(t, server, 2)
	if string(got[0]) != "first" || string(got[1]) != "second" {
		t.Fatalf("unexpected payloads %q", got)
	}

	server.Send([]byte("reply"))
	raw.SetReadDeadline(time.Now().Add(3 * time.Second))
	p, err := protocol.ReadFrame(raw)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(p) != "reply" {
		t.Fatalf("got %q, want reply", p)
	}
}

func TestStatusInvariants(t *testing.T) {
	var s status
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("ERROR without message did not panic")
			}
		}()
		s.set(Error, "")
	}()
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("CONNECTED with message did not panic")
			}
		}()
		s.set(Connected, "boom")
	}()

	s.set(Connected, "")
	s.set(Error, "boom")
	if s.transition(Connected, Disconnected) {
		t.Fatalf("transition masked an ERROR state")
	}
	if st, msg := s.get(); st != Error || msg != "boom" {
		t.Fatalf("got %s %q", st, msg)
	}
}
