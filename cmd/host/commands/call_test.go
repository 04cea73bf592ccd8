package commands

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"packet-rpc/config"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{`1`, `"two"`, `{"three":3}`, `[4]`, `null`})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[1,"two",{"three":3},[4],null]` {
		t.Fatalf("got %s", data)
	}

	if _, err := parseParams([]string{`{oops`}); err == nil {
		t.Fatal("expect error for invalid JSON")
	}
}

func TestRunCallWithoutWorker(t *testing.T) {
	workerBin, listenAddr = "", "127.0.0.1:0"
	_, err := runCall(context.Background(), config.Default(), zaptest.NewLogger(t), "ping", nil)
	if err == nil {
		t.Fatal("expect error when no worker can be reached")
	}
}

func TestRunCallWorkerNeverConnects(t *testing.T) {
	// A worker binary that exits immediately without connecting.
	workerBin, listenAddr = "true", "127.0.0.1:0"
	acceptTimeout = 200 * time.Millisecond
	defer func() { workerBin, acceptTimeout = "", defaultAcceptTimeout }()

	_, err := runCall(context.Background(), config.Default(), zaptest.NewLogger(t), "ping", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}
