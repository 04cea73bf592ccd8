package commands

import (
	"context"
	"errors"
	"os"
	"time"
)

// Builtin holds the entry points served when no plugin is loaded.
type Builtin struct{}

func (b *Builtin) Ping() string {
	return "pong"
}

func (b *Builtin) Echo(v any) any {
	return v
}

func (b *Builtin) Add(nums ...float64) float64 {
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum
}

func (b *Builtin) Divide(x, y float64) (float64, error) {
	if y == 0 {
		return 0, errors.New("division by zero")
	}
	return x / y, nil
}

// Sleep blocks for ms milliseconds, or until the worker is shutting down.
func (b *Builtin) Sleep(ctx context.Context, ms int) error {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Builtin) Pid() int {
	return os.Getpid()
}
