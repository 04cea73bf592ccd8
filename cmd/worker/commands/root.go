package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"packet-rpc/config"
	"packet-rpc/loadbalance"
	"packet-rpc/logging"
	"packet-rpc/middleware"
	"packet-rpc/registry"
	"packet-rpc/server"
	"packet-rpc/worker"
)

var (
	Version   string
	BuildTime string
)

var (
	port       int
	host       string
	pluginPath string
	configPath string
	discover   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "worker connects to an RPC host and serves its calls",
	Long: `worker dials the RPC host listening on --host:--port (or the host registered under --discover),
then answers JSON-RPC requests with the entry points of --plugin, or with the built-in demo methods
when no plugin is given. The worker exits when the host closes the connection.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
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

		srv, err := newServer(cfg, log)
		if err != nil {
			return err
		}

		wcfg := worker.Config{
			Transport:    cfg.TransportFor(log),
			FlushTimeout: cfg.Worker.FlushTimeout,
			Logger:       log,
		}
		switch {
		case cfg.Worker.Port > 0:
			wcfg.Addr = net.JoinHostPort(cfg.Worker.Host, strconv.Itoa(cfg.Worker.Port))
		case discover != "":
			reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, log)
			if err != nil {
				return err
			}
			defer reg.Close()
			bal, err := loadbalance.New(cfg.Registry.Balancer, workerKey())
			if err != nil {
				return err
			}
			wcfg.Discover, wcfg.Registry, wcfg.Balancer = discover, reg, bal
		default:
			return fmt.Errorf("one of --port or --discover is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return worker.Run(ctx, wcfg, srv)
	},
}

func Execute() {
	// parse flags
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "port of the RPC host listener")
	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "address of the RPC host")
	rootCmd.Flags().StringVar(&pluginPath, "plugin", "", "Go plugin (.so) exporting Register(*server.Server) error")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	rootCmd.Flags().StringVar(&discover, "discover", "", "find the host through the registry under this name")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	// add commands
	rootCmd.AddCommand(versionCmd)

	// execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given and applies the flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return config.Config{}, err
		}
	}
	if cmd.Flags().Changed("port") {
		cfg.Worker.Port = port
	}
	if cmd.Flags().Changed("host") {
		cfg.Worker.Host = host
	}
	if discover != "" {
		if cmd.Flags().Changed("port") {
			return config.Config{}, fmt.Errorf("--port and --discover are mutually exclusive")
		}
		cfg.Worker.Port = 0
		if len(cfg.Registry.Endpoints) == 0 {
			return config.Config{}, fmt.Errorf("--discover needs registry.endpoints in the config file")
		}
	}
	return cfg, cfg.Validate()
}

func newServer(cfg config.Config, log *zap.Logger) (*server.Server, error) {
	srv := server.NewServer(server.Config{PollInterval: cfg.RPC.PollInterval, Logger: log})
	if cfg.RPC.LogCalls {
		srv.Use(middleware.LoggingMiddleware(log))
	}
	if cfg.RPC.RateLimit > 0 {
		srv.Use(middleware.RateLimitMiddleware(cfg.RPC.RateLimit, cfg.RPC.RateBurst))
	}

	if pluginPath != "" {
		if err := loadPlugin(srv, pluginPath); err != nil {
			return nil, err
		}
	} else if err := srv.Register(&Builtin{}); err != nil {
		return nil, err
	}
	log.Info("entry points registered", zap.Strings("methods", srv.Methods()))
	return srv, nil
}

// workerKey identifies this worker for the consistent hash balancer.
func workerKey() string {
	name, err := os.Hostname()
	if err != nil {
		name = "worker"
	}
	return name + "/" + strconv.Itoa(os.Getpid())
}
