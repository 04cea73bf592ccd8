package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"packet-rpc/client"
	"packet-rpc/config"
	"packet-rpc/logging"
	"packet-rpc/registry"
	"packet-rpc/transport"
)

const (
	defaultAcceptTimeout = 10 * time.Second
	workerExitTimeout    = 5 * time.Second
)

var (
	workerBin     string
	workerPlugin  string
	listenAddr    string
	acceptTimeout time.Duration
	callTimeout   time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <method> [json-param...]",
	Short: "spawns a worker, calls one of its entry points and prints the result",
	Long: `call opens a packet listener, starts --worker-bin pointed at it (or, with registry.endpoints
configured, advertises the listener and waits for a worker started with --discover), then sends one
JSON-RPC request. Each argument after the method is one positional parameter, written as JSON.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if configPath != "" {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
		}
		if workerBin == "" {
			workerBin = cfg.Host.WorkerBin
		}
		if listenAddr == "" {
			listenAddr = cfg.Host.Listen
		}

		profile := logging.ProfileRuntime
		if verbose {
			profile = logging.ProfileDevelopment
			cfg.Log.Level = "debug"
		}
		log, err := logging.New(profile, cfg.Log)
		if err != nil {
			return err
		}
		defer log.Sync()

		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, callTimeout)
			defer cancel()
		}

		result, err := runCall(ctx, cfg, log, args[0], params)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(result))
		return err
	},
}

// parseParams reads each argument as one JSON value.
func parseParams(args []string) ([]any, error) {
	params := make([]any, 0, len(args))
	for i, arg := range args {
		if !json.Valid([]byte(arg)) {
			return nil, fmt.Errorf("param %d is not valid JSON: %s", i+1, arg)
		}
		params = append(params, json.RawMessage(arg))
	}
	return params, nil
}

func runCall(ctx context.Context, cfg config.Config, log *zap.Logger, method string, params []any) (json.RawMessage, error) {
	l := transport.NewListener(cfg.TransportFor(log))
	l.Start(listenAddr)
	defer l.Stop()
	if err := waitFor(ctx, time.Millisecond, func() bool { return l.State() != transport.ServerStarting }); err != nil {
		return nil, err
	}
	if l.State() != transport.ServerListening {
		return nil, fmt.Errorf("listen on %s: %s", listenAddr, l.LastError())
	}
	addr := l.Addr().(*net.TCPAddr)
	log.Info("listening for worker", zap.Stringer("addr", addr))

	var proc *exec.Cmd
	switch {
	case workerBin != "":
		var err error
		if proc, err = spawnWorker(addr.Port); err != nil {
			return nil, err
		}
		defer stopWorker(proc, log)
	case len(cfg.Registry.Endpoints) > 0:
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, log)
		if err != nil {
			return nil, err
		}
		defer reg.Close()
		inst := registry.ServiceInstance{Addr: addr.String(), Weight: 1, Version: Version}
		if err := reg.Register(ctx, cfg.Registry.Name, inst, cfg.Registry.TTL); err != nil {
			return nil, err
		}
		defer reg.Deregister(context.Background(), cfg.Registry.Name, inst.Addr)
	default:
		return nil, errors.New("no worker to call: set --worker-bin or registry.endpoints")
	}

	acceptCtx, cancel := context.WithTimeout(ctx, acceptTimeout)
	defer cancel()
	var conn *transport.Conn
	err := waitFor(acceptCtx, time.Millisecond, func() bool {
		conn = l.AcceptNext()
		return conn != nil
	})
	if err != nil {
		return nil, fmt.Errorf("worker did not connect: %w", err)
	}
	defer conn.Stop()

	var result json.RawMessage
	c := client.NewClient(conn, log)
	if err := c.Call(ctx, method, &result, params...); err != nil {
		return nil, err
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	return result, nil
}

func spawnWorker(port int) (*exec.Cmd, error) {
	args := []string{"--port", fmt.Sprint(port)}
	if workerPlugin != "" {
		args = append(args, "--plugin", workerPlugin)
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	proc := exec.Command(workerBin, args...)
	proc.Stdout = io.Discard
	proc.Stderr = os.Stderr
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", workerBin, err)
	}
	return proc, nil
}

// stopWorker asks the worker to exit and waits for it, killing it if it does not.
func stopWorker(proc *exec.Cmd, log *zap.Logger) {
	if err := proc.Process.Signal(os.Interrupt); err != nil {
		_ = proc.Process.Kill()
	}
	exited := make(chan error, 1)
	go func() { exited <- proc.Wait() }()
	select {
	case err := <-exited:
		if err != nil {
			log.Debug("worker exited", zap.Error(err))
		}
	case <-time.After(workerExitTimeout):
		log.Warn("worker did not exit, killing it", zap.Int("pid", proc.Process.Pid))
		_ = proc.Process.Kill()
		<-exited
	}
}

func waitFor(ctx context.Context, poll time.Duration, cond func() bool) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
