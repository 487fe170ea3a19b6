package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"GAINS-Bridge/internal/bridge"
	"GAINS-Bridge/internal/config"
	"GAINS-Bridge/internal/core/network"
	"GAINS-Bridge/internal/hostshell"
	"GAINS-Bridge/internal/hostshell/httpapi"
	"GAINS-Bridge/internal/logging"
	"GAINS-Bridge/internal/metrics"
)

var Module = fx.Options(
	fx.Provide(
		provideLogger,
		metrics.NewProm,
		provideHub,
		hostshell.NewCommands,
		provideSubscriber,
		provideRelay,
		provideHTTPServer,
	),
	fx.Invoke(registerHooks),
)

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func provideHub(cfg *config.Config) *hostshell.Hub {
	return hostshell.NewHub(hostshell.WithListenerBuffer(cfg.HTTP.ListenerBuffer))
}

// provideSubscriber builds the transport named by relay.transport. Only the
// libp2p host holds resources before the relay subscribes.
func provideSubscriber(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (network.Subscriber, error) {
	r := cfg.Relay
	switch r.Transport {
	case config.TransportZMQ:
		return network.NewZMQSubscriber(r.EndpointAddress, network.ZMQOptions{
			DialRetry:      cfg.ZMQ.DialRetry,
			DialMaxRetries: cfg.ZMQ.DialMaxRetries,
		}), nil
	case config.TransportNATS:
		return network.NewNATSSubscriber(r.EndpointAddress, network.NATSOptions{
			Name:          cfg.NATS.Name,
			ReconnectWait: cfg.NATS.ReconnectWait,
			MaxReconnects: cfg.NATS.MaxReconnects,
			Logger:        log.Named("nats"),
		}), nil
	case config.TransportLibp2p:
		ps, err := network.NewLibp2pPubSub(context.Background(), network.Libp2pOptions{
			ListenAddrs:     cfg.Libp2p.ListenAddrs,
			Bootstrap:       cfg.Libp2p.Bootstrap,
			Rendezvous:      cfg.Libp2p.Rendezvous,
			EnableMDNS:      cfg.Libp2p.EnableMDNS,
			IdentityKeyFile: cfg.Libp2p.IdentityKeyFile,
			Logger:          log.Named("libp2p"),
		})
		if err != nil {
			return nil, fmt.Errorf("libp2p transport: %w", err)
		}
		log.Info("libp2p host ready", zap.String("peer", ps.PeerID()), zap.Strings("addrs", ps.ListenAddrs()))
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return ps.Close() }})
		return ps, nil
	case config.TransportMemory:
		log.Warn("memory transport selected: in-process only, no external publisher can reach it")
		return network.NewMemoryPubSub(network.WithMemoryBuffer(cfg.HTTP.ListenerBuffer)), nil
	}
	return nil, fmt.Errorf("unknown transport %q", r.Transport)
}

func provideRelay(cfg *config.Config, sub network.Subscriber, hub *hostshell.Hub, log *zap.Logger, prom *metrics.Prom) *bridge.Relay {
	r := cfg.Relay
	return bridge.New(bridge.Config{
		Transport:       r.Transport,
		Endpoint:        r.EndpointAddress,
		Topic:           r.Topic,
		ReceiveTimeout:  r.ReceiveTimeout,
		ConnectAttempts: r.ConnectAttempts,
		Backoff: bridge.BackoffConfig{
			InitialDelay: r.Backoff.InitialDelay,
			Multiplier:   r.Backoff.Multiplier,
			MaxDelay:     r.Backoff.MaxDelay,
			Jitter:       r.Backoff.Jitter,
		},
		ReceiveErrorDelay: r.ReceiveErrorDelay,
	}, sub, bridge.NewEmitterSink(hub), bridge.WithReporter(bridge.MultiReporter{
		bridge.NewLogReporter(log.Named("relay")),
		prom.Reporter(),
	}))
}

func provideHTTPServer(cfg *config.Config, hub *hostshell.Hub, cmds *hostshell.Commands, relay *bridge.Relay, prom *metrics.Prom, log *zap.Logger) *http.Server {
	api := httpapi.NewServer(httpapi.Options{
		Hub:      hub,
		Commands: cmds,
		Health:   relay.Health,
		Metrics:  prom,
		Log:      log.Named("http"),
	})
	return httpapi.NewHTTPServer(cfg.HTTP.ListenAddr, api.Routes())
}

type hookDeps struct {
	fx.In

	Logger *zap.Logger
	Relay  *bridge.Relay
	Server *http.Server
}

func registerHooks(lc fx.Lifecycle, d hookDeps) {
	relayCtx, relayCancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", d.Server.Addr)
			if err != nil {
				relayCancel()
				return fmt.Errorf("http listen %s: %w", d.Server.Addr, err)
			}
			d.Logger.Info("server starting", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := d.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					d.Logger.Error("server failed", zap.Error(err))
				}
			}()

			// A relay that cannot connect leaves the host running without bus messages.
			go func() {
				if err := d.Relay.Start(relayCtx); err != nil {
					d.Logger.Error("relay setup failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Logger.Info("server stopping")
			relayCancel()
			d.Relay.Stop()
			if err := d.Relay.Wait(ctx); err != nil {
				d.Logger.Warn("relay did not stop in time", zap.Error(err))
			}
			err := d.Server.Shutdown(ctx)
			_ = d.Logger.Sync()
			return err
		},
	})
}
