package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/innernet-go/meshnet/internal/api"
	"github.com/innernet-go/meshnet/internal/config"
	"github.com/innernet-go/meshnet/internal/meshnet"
	"github.com/innernet-go/meshnet/internal/server"
	"github.com/innernet-go/meshnet/internal/store"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

func main() {
	configPath := flag.String("config", "/etc/meshnet/server.toml", "path to the server's TOML configuration file")
	iface := flag.String("interface", "meshnet0", "name of the WireGuard interface to manage")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("starting meshnet coordinator",
		"interface", *iface,
		"listen_addr", cfg.APIListenAddr,
		"database_path", cfg.DatabasePath,
	)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cidrs := store.NewCIDRStore(db)
	peers := store.NewPeerStore(db)
	assocs := store.NewAssociationStore(db)

	driver := wireguard.NewRealDriver()
	wgManager := wireguard.NewManager(*iface, driver)

	if err := wgManager.Install(cfg.PrivateKey, cfg.ListenPort, nil); err != nil {
		slog.Error("failed to bring up interface", "error", err)
		os.Exit(1)
	}

	device, err := wgManager.Get()
	if err != nil {
		slog.Error("failed to read back device state", "error", err)
		os.Exit(1)
	}

	if err := bootstrapNetwork(cidrs, peers, cfg, device.PublicKey); err != nil {
		slog.Error("failed to bootstrap network", "error", err)
		os.Exit(1)
	}

	observer := server.NewEndpointObserver(wgManager, cfg.EndpointPollInterval)
	sweeper := server.NewInviteSweeper(peers, cfg.InviteSweepInterval)
	selfRec := server.NewSelfReconciler(peers, wgManager, device.PublicKey, cfg.InviteSweepInterval)

	apiServer, err := api.NewServer(db, cidrs, peers, assocs, wgManager, observer, device.PublicKey)
	if err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.APIListenAddr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go observer.Run(ctx)
	go sweeper.Run(ctx)
	go selfRec.Run(ctx)

	go func() {
		slog.Info("starting http server", "addr", cfg.APIListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := wgManager.Down(); err != nil {
		slog.Warn("failed to tear down interface", "error", err)
	}

	slog.Info("meshnet coordinator stopped")
}

// bootstrapNetwork creates the root CIDR, the infra CIDR that holds the
// coordinator's own peer row, and that peer row itself, the first time
// the coordinator starts against an empty database. On every later start
// it is a no-op: the coordinator's peer row, once created, is the
// anchor that api.NewServer resolves the infra CIDR id from.
func bootstrapNetwork(cidrs *store.CIDRStore, peers *store.PeerStore, cfg *config.ServerConfig, publicKey string) error {
	if _, err := peers.GetByPublicKey(publicKey); err == nil {
		return nil
	} else if meshnet.KindOf(err) != meshnet.KindNotFound {
		return fmt.Errorf("check for existing coordinator peer: %w", err)
	}

	addr := net.ParseIP(cfg.InternalAddress)
	if addr == nil {
		return fmt.Errorf("invalid internal_address %q", cfg.InternalAddress)
	}
	rootMask := net.CIDRMask(cfg.NetworkPrefixLen, 32)
	root, err := cidrs.Create("root", net.IPNet{IP: addr.Mask(rootMask), Mask: rootMask}, nil)
	if err != nil {
		return fmt.Errorf("create root cidr: %w", err)
	}

	infraPrefixLen := cfg.NetworkPrefixLen + 8
	if infraPrefixLen > 32 {
		infraPrefixLen = 32
	}
	infraMask := net.CIDRMask(infraPrefixLen, 32)
	infra, err := cidrs.Create("infra", net.IPNet{IP: addr.Mask(infraMask), Mask: infraMask}, &root.ID)
	if err != nil {
		return fmt.Errorf("create infra cidr: %w", err)
	}

	if _, err := peers.CreatePeer(meshnet.Peer{
		Name:       "coordinator",
		IP:         addr,
		PublicKey:  publicKey,
		IsAdmin:    true,
		IsRedeemed: true,
	}, infra); err != nil {
		return fmt.Errorf("create coordinator peer: %w", err)
	}
	slog.Info("bootstrapped network", "root_cidr", root.Network.String(), "infra_cidr", infra.Network.String())
	return nil
}
