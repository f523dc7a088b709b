// vlxmqttha bridges a Velux KLF200 gateway to MQTT for Home Assistant.
//
// Every actuator the gateway knows becomes an auto-discovered cover
// entity; windows additionally get a keep-open limitation switch. The
// bridge runs until a termination signal, a scheduled restart, or a
// gateway liveness failure, then shuts down gracefully. Pair it with a
// process supervisor (systemd Restart=always) so scheduled restarts
// bring it straight back up.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openhomelab/vlxmqttha/internal/bridges/velux"
	"github.com/openhomelab/vlxmqttha/internal/infrastructure/config"
	"github.com/openhomelab/vlxmqttha/internal/infrastructure/logging"
	"github.com/openhomelab/vlxmqttha/internal/infrastructure/mqtt"
	"github.com/openhomelab/vlxmqttha/internal/klf200"
	"github.com/openhomelab/vlxmqttha/internal/process"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main so failures map to a
// single exit path. It returns nil on graceful shutdown.
func run(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logging: %w", err)
	}
	log.Info("starting vlxmqttha", "version", version, "commit", commit)

	guard := process.NewGuard(process.DefaultPIDPath("vlxmqttha"))
	if err := guard.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := guard.Release(); err != nil {
			log.Warn("pid file release failed", "error", err)
		}
	}()

	gateway := klf200.New(klf200.Config{
		Host:     cfg.Velux.Host,
		Port:     cfg.Velux.Port,
		Password: cfg.Velux.Password,
	}, log)

	dispatcher := velux.NewDispatcher(velux.DispatcherConfig{Logger: log})
	supervisor := velux.NewSupervisor(velux.SupervisorConfig{
		MaxRetries:  cfg.MQTT.Retry.MaxAttempts,
		BackoffStep: cfg.GetBackoffStep(),
		Logger:      log,
	})

	// The monitor and scheduler fire into the bridge, which exists only
	// after they do; the closure defers the lookup until run time.
	var bridge *velux.Bridge
	requestShutdown := func(reason string) { bridge.RequestShutdown(reason) }

	monitor := velux.NewMonitor(velux.MonitorConfig{
		Interval:         cfg.GetHealthCheckInterval(),
		RestartOnFailure: cfg.Restart.OnError,
		LastContact:      supervisor.GatewayLastContact,
		Shutdown:         requestShutdown,
		Logger:           log,
	})
	scheduler := velux.NewRestartScheduler(cfg.GetRestartInterval(), requestShutdown, log)

	bridge = velux.NewBridge(velux.BridgeConfig{
		ConnectBus: func(context.Context) (velux.Bus, error) {
			client, err := mqtt.Connect(cfg.MQTT)
			if err != nil {
				return nil, err
			}
			client.SetLogger(log)
			return client, nil
		},
		Gateway:         gateway,
		DiscoveryPrefix: cfg.HomeAssistant.DiscoveryPrefix,
		NamePrefix:      cfg.HomeAssistant.Prefix,
		QoS:             byte(cfg.MQTT.QoS),
		InvertAwnings:   cfg.HomeAssistant.InvertAwning,
		Supervisor:      supervisor,
		Dispatcher:      dispatcher,
		Monitor:         monitor,
		Scheduler:       scheduler,
		Logger:          log,
	})

	if err := bridge.Run(ctx); err != nil {
		return err
	}

	log.Info("shutdown complete")
	return nil
}

// getConfigPath returns the positional config argument or the default.
func getConfigPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	return defaultConfigPath
}
