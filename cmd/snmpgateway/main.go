// Command snmpgateway exposes an SNMP agent over HTTP, polls it on a timer and
// receives notifications on a UDP trap port, streaming them to websocket
// clients and optionally to NATS.
//
// Usage:
//
//	snmpgateway -config gateway.yaml -http-port 3000 -trap-port 16200
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/geekxflood/snmpgateway/api"
	"github.com/geekxflood/snmpgateway/config"
	"github.com/geekxflood/snmpgateway/forward"
	"github.com/geekxflood/snmpgateway/logging"
	"github.com/geekxflood/snmpgateway/metrics"
	"github.com/geekxflood/snmpgateway/mib"
	"github.com/geekxflood/snmpgateway/poller"
	"github.com/geekxflood/snmpgateway/session"
	"github.com/geekxflood/snmpgateway/trap"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("SNMPGW_CONFIG"), "path to the YAML or JSON configuration file")
		httpPort   = flag.Int("http-port", 0, "HTTP port, overrides server.port")
		trapPort   = flag.Int("trap-port", 0, "UDP trap port, overrides trap.port")
	)
	flag.Parse()

	if err := run(*configPath, *httpPort, *trapPort); err != nil {
		fmt.Fprintf(os.Stderr, "snmpgateway: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, httpPort, trapPort int) error {
	manager, err := config.NewManager(config.Options{Path: configPath})
	if err != nil {
		return err
	}
	defer manager.Close()

	cfg := manager.Config()
	if httpPort > 0 {
		cfg.Server.Port = httpPort
	}
	if trapPort > 0 {
		cfg.Trap.Port = trapPort
	}

	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	opts := cfg.SessionOptions()
	opts.Logger = logging.Get()
	opts.OnOpen = m.SessionOpened
	opts.OnClose = m.SessionClosed
	factory := session.NewFactory(cfg.Agent(), opts)

	p := poller.New(factory, poller.Options{Metrics: m})
	defer p.Close()
	if _, err := p.Reconfigure(cfg.PollUpdate()); err != nil {
		return fmt.Errorf("invalid polling configuration: %w", err)
	}

	translator, err := mib.New(mib.Config{Directory: cfg.Trap.MIBDirectory, CacheSize: cfg.Trap.MIBCacheSize})
	if err != nil {
		return fmt.Errorf("failed to load MIBs: %w", err)
	}

	listener := trap.New(trap.Config{
		BindAddress:      cfg.Trap.BindAddress,
		Port:             cfg.Trap.Port,
		Community:        cfg.Trap.Community,
		SubscriberBuffer: cfg.Trap.SubscriberBuffer,
		Translator:       translator,
		Metrics:          m,
	})
	if err := listener.Start(ctx); err != nil {
		logging.Error("trap listener failed to start, continuing without traps", "addr", listener.Addr(), "error", err)
	} else {
		defer listener.Close()
	}

	if cfg.Forward.NATS.URL != "" {
		nc, err := forward.Connect(cfg.Forward.NATS.URL, nil)
		if err != nil {
			logging.Error("trap forwarding disabled", "url", cfg.Forward.NATS.URL, "error", err)
		} else {
			defer nc.Close()
			fwd := forward.New(nc, cfg.Forward.NATS.Subject, nil, m)
			sub, _ := listener.Subscribe(0)
			go fwd.Run(ctx, sub)
		}
	}

	manager.OnChange(func(next config.Gateway, err error) {
		if err != nil {
			return
		}
		factory.Replace(next.Agent())
		if err := logging.SetLevel(next.Logging.Level); err != nil {
			logging.Warn("failed to apply log level", "level", next.Logging.Level, "error", err)
		}
	})
	if manager.Path() != "" {
		if err := manager.Watch(ctx); err != nil {
			logging.Warn("configuration hot reload disabled", "error", err)
		}
	}

	server := api.NewServer(api.Config{
		Agents:         factory,
		Poller:         p,
		Traps:          listener,
		Metrics:        m,
		RequestTimeout: cfg.RequestTimeout(),
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP server listening", "addr", srv.Addr, "trap_addr", listener.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logging.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}
