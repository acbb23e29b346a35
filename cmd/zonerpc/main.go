// Command zonerpc is a small demo harness for the zonerpc runtime: it can
// serve the calc example object over a websocket listener, dial a running
// server and connect to it, or run the whole thing in a single process over an
// in-process transport. It exists to exercise rpc/service, rpc/serviceproxy
// and rpc/transport/wsrpc the way chisel's own main.go exercises
// share.Server/share.Client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/requestlog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sammck-go/zonerpc/examples/calc"
	"github.com/sammck-go/zonerpc/rpc"
	"github.com/sammck-go/zonerpc/rpc/proxy"
	"github.com/sammck-go/zonerpc/rpc/service"
	"github.com/sammck-go/zonerpc/rpc/stub"
	"github.com/sammck-go/zonerpc/rpc/transport/inproc"
	"github.com/sammck-go/zonerpc/rpc/transport/wsrpc"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	verbose bool
	zoneID  uint64
)

var rootCmd = &cobra.Command{
	Use:   "zonerpc",
	Short: "Demo harness for the zonerpc cross-zone object runtime",
	Long: `zonerpc hosts and calls cross-zone RPC objects over a websocket
transport.

  zonerpc serve --addr :9090 --zone 1     # host the calc object
  zonerpc dial ws://host:9090 --zone 2    # connect to it from another zone
  zonerpc demo                            # run both ends in one process`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().Uint64Var(&zoneID, "zone", 1, "zone id for this process")

	rootCmd.AddCommand(newServeCmd(), newDialCmd(), newDemoCmd(), newTopologyCmd())
}

func logLevel() rpc.LogLevel {
	if verbose {
		return rpc.LogLevelDebug
	}
	return rpc.LogLevelInfo
}

// zoneConfig is the on-disk shape of a --config file: a static map of peer
// zone ids to websocket addresses, letting a deployment describe its whole
// topology in one document the way newtron's settings.Load pattern does.
type zoneConfig struct {
	Peers map[uint64]string `yaml:"peers"`
}

func loadZoneConfig(path string) (*zoneConfig, error) {
	if path == "" {
		return &zoneConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg zoneConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func newServeCmd() *cobra.Command {
	var addr string
	var peerZone uint64
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the calc example object over websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go sigIntHandler(ctx, cancel)

			logger := rpc.NewLogger("zonerpc-server", logLevel())
			registry := stub.NewRegistry()
			calc.RegisterStubs(registry)
			svc := service.NewService(rpc.Zone(zoneID), registry, logger)
			svc.Expose(&calc.Impl{})

			// The demo expects a single peer zone dialing in; a production
			// deployment would learn the caller's zone id from a handshake
			// before installing the router's direct entry.
			handler := &wsrpc.Handler{
				Logger: logger,
				OnAccept: func(conn *wsrpc.Conn) {
					svc.Connect(rpc.Zone(peerZone).AsDestination(), conn)
					logger.ILogf("accepted connection, routed as zone %d", peerZone)
				},
			}

			var h http.Handler = handler
			if logger.GetLogLevel() >= rpc.LogLevelDebug {
				h = requestlog.Wrap(h)
			}

			logger.ILogf("zone %d listening on %s", zoneID, addr)
			server := &http.Server{Addr: addr, Handler: h}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				server.Shutdown(shutdownCtx)
			}()
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address")
	cmd.Flags().Uint64Var(&peerZone, "peer-zone", 2, "zone id to assign the connecting peer")
	return cmd
}

func newDialCmd() *cobra.Command {
	var peerZone uint64
	cmd := &cobra.Command{
		Use:   "dial <server-url>",
		Short: "Connect to a running zonerpc serve (no call is made on the calc object)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			logger := rpc.NewLogger("zonerpc-client", logLevel())
			registry := stub.NewRegistry()
			calc.RegisterStubs(registry)
			svc := service.NewService(rpc.Zone(zoneID), registry, logger)

			conn, err := wsrpc.Dial(ctx, wsrpc.DialConfig{
				Server:           args[0],
				MaxRetryCount:    5,
				MaxRetryInterval: 10 * time.Second,
			}, logger)
			if err != nil {
				return err
			}
			sp := svc.Connect(rpc.Zone(peerZone).AsDestination(), conn)
			fmt.Printf("connected to zone %d\n", sp.Destination())
			return nil
		},
	}
	cmd.Flags().Uint64Var(&peerZone, "peer-zone", 0, "zone id the server identifies as")
	return cmd
}

func newTopologyCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Print the peer zones declared in a topology config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadZoneConfig(configPath)
			if err != nil {
				return err
			}
			if len(cfg.Peers) == 0 {
				fmt.Println("no peers declared")
				return nil
			}
			for zone, addr := range cfg.Peers {
				fmt.Printf("zone %d -> %s\n", zone, addr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a zone topology yaml file")
	return cmd
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a caller and callee zone in one process over an in-process transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rpc.NewLogger("zonerpc-demo", logLevel())

			serverZone, clientZone := rpc.Zone(1), rpc.Zone(2)

			serverRegistry := stub.NewRegistry()
			calc.RegisterStubs(serverRegistry)
			server := service.NewService(serverZone, serverRegistry, logger.Fork("server"))
			descriptor := server.Expose(&calc.Impl{})

			client := service.NewService(clientZone, stub.NewRegistry(), logger.Fork("client"))

			ta, tb := inproc.NewPair()
			server.Connect(clientZone.AsDestination(), ta)
			client.Connect(serverZone.AsDestination(), tb)

			resolveCtx, resolveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer resolveCancel()
			resolved, err := client.ResolveInbound(resolveCtx, descriptor)
			if err != nil {
				return err
			}
			op, ok := resolved.(*proxy.ObjectProxy)
			if !ok {
				return fmt.Errorf("unexpected resolved type %T", resolved)
			}

			c := calc.AsICalc(op)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			result, err := c.Square(ctx, 9)
			if err != nil {
				return err
			}
			fmt.Printf("9 squared is %d\n", result)
			return nil
		},
	}
}

func sigIntHandler(ctx context.Context, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	signal.Stop(sig)
	cancel()
}
