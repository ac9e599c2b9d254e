package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"uro-core/chaincfg"
	"uro-core/config"
	"uro-core/database"
	"uro-core/network"
	"uro-core/rpcserver"
	"uro-core/tor"
	"uro-core/wire"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "0.1.0"

func parseLogLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "urod"
	app.Usage = "uro peer-to-peer node"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "network, n",
			Usage: "network `NAME` [mainnet|regtest]",
		},
		cli.StringFlag{
			Name:  "listen, l",
			Usage: "P2P listen `HOST:PORT`",
		},
		cli.StringFlag{
			Name:  "rpc",
			Usage: "RPC listen `HOST:PORT`",
		},
		cli.StringFlag{
			Name:  "datadir, d",
			Usage: "data `DIRECTORY`",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "log `LEVEL` [debug|info|warn|error]",
		},
		cli.StringSliceFlag{
			Name:  "connect, c",
			Usage: "seed node `HOST:PORT`, may be repeated",
		},
		cli.BoolFlag{
			Name:  "relay",
			Usage: "filtered transaction relay",
		},
		cli.StringSliceFlag{
			Name:  "watch, w",
			Usage: "hex `DATA` for the relay watch filter, may be repeated",
		},
		cli.BoolFlag{
			Name:  "tor",
			Usage: "dial peers through the Tor SOCKS5 proxy",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "urod: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags lets command line flags override the environment.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("network") {
		cfg.Network = c.String("network")
	}
	if c.IsSet("listen") {
		cfg.P2PAddr = c.String("listen")
	}
	if c.IsSet("rpc") {
		cfg.RPCAddr = c.String("rpc")
	}
	if c.IsSet("datadir") {
		cfg.DataDir = c.String("datadir")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("connect") {
		cfg.SeedNodes = c.StringSlice("connect")
	}
	if c.IsSet("relay") {
		cfg.Relay = c.Bool("relay")
	}
	if c.IsSet("watch") {
		cfg.WatchList = c.StringSlice("watch")
	}
	if c.IsSet("tor") {
		cfg.TorEnabled = c.Bool("tor")
	}
}

func run(c *cli.Context) error {
	// Load configuration
	cfg := config.Load()
	applyFlags(c, cfg)

	// Setup logging
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logrus.SetOutput(file)
			defer file.Close()
		} else {
			logrus.Warnf("Failed to open log file %s: %v", cfg.LogFile, err)
		}
	}

	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logrus.SetLevel(parseLogLevel(cfg.LogLevel))
	logger := logrus.StandardLogger()

	params, ok := chaincfg.ParamsForNetwork(cfg.Network)
	if !ok {
		return fmt.Errorf("unknown network %q", cfg.Network)
	}

	logrus.WithFields(logrus.Fields{
		"network":  params.Name,
		"p2p_addr": cfg.P2PAddr,
		"rpc_addr": cfg.RPCAddr,
		"relay":    cfg.Relay,
	}).Info("Starting uro node")

	// Initialize Tor
	torClient, err := tor.NewClient(tor.Config{
		Enabled:        cfg.TorEnabled,
		ProxyAddr:      cfg.TorProxyAddr,
		IsolateStreams: cfg.TorIsolation,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Tor: %w", err)
	}
	if torClient.IsEnabled() {
		logrus.WithField("proxy", torClient.ProxyAddr()).Info("Dialing peers through Tor")
	}
	if err := torClient.Check(5 * time.Second); err != nil {
		logrus.Warnf("Tor proxy not reachable: %v", err)
	}

	// Relay mode only receives transactions matching the watch filter.
	var watchFilter *wire.BloomFilter
	if cfg.Relay {
		watchFilter, err = wire.NewWatchFilter(cfg.WatchList, 0.0001, rand.Uint32())
		if err != nil {
			return fmt.Errorf("relay mode needs a watch list: %w", err)
		}
	}

	storage, err := database.NewStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer storage.Close()
	logrus.WithField("count", storage.AddressCount()).Info("Loaded address book")

	// DNS queries would bypass the proxy, so seeds are only resolved when
	// dialing directly.
	var resolver *network.SeedResolver
	if cfg.DNSSeeds && !torClient.IsEnabled() {
		resolver, err = network.NewSeedResolver("")
		if err != nil {
			logrus.Warnf("DNS seeding disabled: %v", err)
		}
	}

	peerManager := network.NewPeerManager(network.ManagerConfig{
		Params:         params,
		Logger:         logger,
		Dialer:         torClient,
		Store:          storage,
		Resolver:       resolver,
		Tor:            torClient.IsEnabled(),
		MaxPeers:       cfg.MaxPeers,
		MaxInbound:     cfg.MaxInbound,
		ConnectTimeout: cfg.ConnectTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
		DialRate:       cfg.DialRate,
		SeedNodes:      cfg.SeedNodes,
		PeerOptions: []network.ConfigOptionFunc{
			network.WithRequestTimeout(cfg.RequestTimeout),
			network.WithBroadcastTimeout(cfg.BroadcastTimeout),
			network.WithBroadcastInterval(cfg.BroadcastInterval),
			network.WithPingInterval(cfg.PingInterval),
			network.WithRelay(cfg.Relay),
			network.WithStartHeight(cfg.StartHeight),
		},
		OnWatchedTx: func(tx *btcwire.MsgTx, block *chainhash.Hash) {
			fields := logrus.Fields{"tx": tx.TxHash()}
			if block != nil {
				fields["block"] = block
			}
			logrus.WithFields(fields).Info("Watched transaction received")
		},
	})
	if watchFilter != nil {
		peerManager.SetFilter(watchFilter)
	}

	if err := peerManager.Listen(cfg.P2PAddr); err != nil {
		logrus.Errorf("Failed to start P2P listener: %v", err)
	}
	peerManager.Start()

	// Initialize and Start RPC Server
	rpcServer := rpcserver.NewServer(peerManager, params, cfg.RPCAddr, cfg.RPCRateLimit, logger)
	go func() {
		if err := rpcServer.Start(); err != nil {
			logrus.Errorf("RPC server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logrus.Info("Shutdown signal received, initiating graceful shutdown...")

	logrus.Info("Stopping RPC server...")
	if err := rpcServer.Stop(); err != nil {
		logrus.Errorf("Error stopping RPC server: %v", err)
	}

	logrus.Info("Stopping peer manager...")
	peerManager.Stop()

	logrus.Info("Shutdown complete")
	return nil
}
