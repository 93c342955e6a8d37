package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"godiscover/config"
	"godiscover/internal/telemetry"
	"godiscover/pkg/discover"
	"godiscover/pkg/peers"
)

var (
	configPath    = flag.String("config", "", "Path to configuration file")
	address       = flag.String("address", "0.0.0.0", "Local bind address")
	port          = flag.Int("port", 12345, "Local bind port")
	multicast     = flag.String("multicast", "", "Multicast group (overrides broadcast)")
	unicast       = flag.String("unicast", "", "Comma-separated unicast destinations (overrides multicast)")
	weight        = flag.Float64("weight", 0, "Election weight (higher wins)")
	client        = flag.Bool("client", false, "Receive-only mode, never announce")
	advertisement = flag.String("advertisement", "", "JSON advertisement attached to each hello")
	metricsAddr   = flag.String("metrics-addr", "", "Serve prometheus metrics on this address")
)

func main() {
	flag.Parse()
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Command line flags override the configuration file.
	if set["address"] {
		cfg.Discovery.Address = *address
	}
	if set["port"] {
		cfg.Discovery.Port = *port
	}
	if set["multicast"] {
		cfg.Discovery.Multicast = *multicast
	}
	if set["unicast"] {
		cfg.Discovery.Unicast = *unicast
	}
	if set["weight"] {
		w := *weight
		cfg.Discovery.Weight = &w
	}
	if set["client"] {
		cfg.Discovery.Client = *client
	}
	if set["advertisement"] {
		cfg.Discovery.Advertisement = *advertisement
	}
	if set["metrics-addr"] {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *metricsAddr
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	d, err := discover.New()
	if err != nil {
		logger.Fatal("create instance", zap.Error(err))
	}
	if err := cfg.ApplyTo(d); err != nil {
		logger.Fatal("apply configuration", zap.Error(err))
	}

	wireCallbacks(d, logger)

	if err := d.Start(); err != nil {
		logger.Fatal("start discovery", zap.Error(err))
	}
	logger.Info("discovery started",
		zap.String("pid", d.PID()),
		zap.String("iid", d.IID()),
		zap.Int("port", cfg.Discovery.Port),
	)

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, telemetry.MetricsHandler())
			logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")
	d.Release()
}

// wireCallbacks routes every lifecycle callback to a structured log line.
func wireCallbacks(d *discover.Instance, logger *zap.Logger) {
	d.On("added", func(d *discover.Instance, node *peers.Record) {
		logger.Info("peer added",
			zap.String("iid", node.IID),
			zap.String("hostname", node.Hostname),
			zap.String("address", node.Address),
			zap.Float64("weight", node.Data.Weight),
		)
	})
	d.On("removed", func(d *discover.Instance, node *peers.Record) {
		logger.Info("peer removed",
			zap.String("iid", node.IID),
			zap.String("hostname", node.Hostname),
		)
	})
	d.On("master", func(d *discover.Instance, node *peers.Record) {
		logger.Info("new master observed",
			zap.String("iid", node.IID),
			zap.Float64("weight", node.Data.Weight),
		)
	})
	d.On("promotion", func(d *discover.Instance) {
		logger.Info("promoted to master")
	})
	d.On("demotion", func(d *discover.Instance) {
		logger.Info("demoted from master")
	})
	d.On("helloReceived", func(d *discover.Instance, node *peers.Record) {
		logger.Debug("hello received", zap.String("iid", node.IID))
	})
	d.On("helloEmitted", func(d *discover.Instance) {
		logger.Debug("hello emitted")
	})
	d.On("check", func(d *discover.Instance) {
		logger.Debug("check pass", zap.Int("peers", len(d.Peers())))
	})
	d.On("error", func(d *discover.Instance, err error) {
		logger.Error("discovery error", zap.Error(err))
	})
}

func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if lc.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
