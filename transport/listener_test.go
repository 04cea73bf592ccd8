package transport

import (
	"testing"
)

func TestListenerBindFailure(t *testing.T) {
	l := NewListener(testConfig(t))
	l.Start("not-an-address:xyz")
	waitFor(t, "bind failure", func() bool { return l.State() != ServerStarting })
	l.Stop()

	if l.State() != Error {
		t.Fatalf("state %s, want ERROR", l.State())
	}
	if l.LastError() == "" {
		t.Fatalf("missing bind error message")
	}
	if l.AcceptNext() != nil {
		t.Fatalf("failed listener produced a connection")
	}
}

func TestListenerAcceptOrder(t *testing.T) {
	l := startListener(t)

	var clients []*Conn
	for i := 0; i < 3; i++ {
		c := NewConn(testConfig(t))
		c.StartClient(l.Addr().String())
		waitFor(t, "client connect", func() bool { return c.State() == Connected })
		clients = append(clients, c)

		// Wait for each accept so the pending order follows the dial order.
		n := i + 1
		waitFor(t, "accept", func() bool {
			l.mu.Lock()
			defer l.mu.Unlock()
			return len(l.pending) == n
		})
	}

	for i, c := range clients {
		s := l.AcceptNext()
		if s == nil {
			t.Fatalf("missing accepted connection %d", i)
		}
		c.Send([]byte{byte(i)})
		got := receiveN(t, s, 1)
		if got[0][0] != byte(i) {
			t.Fatalf("accepted connections out of order at %d", i)
		}
		s.Stop()
		c.Stop()
	}
	if l.AcceptNext() != nil {
		t.Fatalf("expected empty pending queue")
	}
}

func TestStoppingListenerKeepsConnections(t *testing.T) {
	l := NewListener(testConfig(t))
	l.Start("127.0.0.1:0")
	waitFor(t, "listener", func() bool { return l.State() == ServerListening })

	client := NewConn(testConfig(t))
	client.StartClient(l.Addr().String())
	var server *Conn
	waitFor(t, "accepted connection", func() bool {
		server = l.AcceptNext()
		return server != nil
	})
	defer client.Stop()
	defer server.Stop()

	l.Stop()
	if l.State() != Disconnected {
		t.Fatalf("stopped listener state %s", l.State())
	}

	client.Send([]byte("still here"))
	got := receiveN(t, server, 1)
	if string(got[0]) != "still here" {
		t.Fatalf("got %q", got[0])
	}
}

func TestListenerStopTwicePanics(t *testing.T) {
	l := NewListener(testConfig(t))
	l.Start("127.0.0.1:0")
	waitFor(t, "listener", func() bool { return l.State() == ServerListening })
	l.Stop()

	defer func() {
		if recover() == nil {
			t.Fatalf("second Stop did not panic")
		}
	}()
	l.Stop()
}
