// Command meshnetctl is the mesh member's CLI: install/up/down/fetch an
// interface, and — once connected — the admin operations a coordinator's
// operator runs over the tunnel itself. A thin dispatcher only; every
// subcommand calls straight into internal/client or internal/config, no
// business logic lives here. Grounded on the plain-flag, no-framework
// dispatch style of cmd/controlplane/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/innernet-go/meshnet/internal/client"
	"github.com/innernet-go/meshnet/internal/config"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

const defaultConfigDir = "/etc/meshnet/interfaces"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "install":
		err = runInstall(args)
	case "show":
		err = runShow(args)
	case "up":
		err = runUp(args)
	case "fetch":
		err = runFetch(args)
	case "down":
		err = runDown(args)
	case "uninstall":
		err = runUninstall(args)
	case "add-peer":
		err = runAddPeer(args)
	case "rename-peer":
		err = runRenamePeer(args)
	case "enable-peer":
		err = runSetPeerDisabled(args, false)
	case "disable-peer":
		err = runSetPeerDisabled(args, true)
	case "add-cidr":
		err = runAddCIDR(args)
	case "rename-cidr":
		err = runRenameCIDR(args)
	case "delete-cidr":
		err = runDeleteCIDR(args)
	case "list-cidrs":
		err = runListCIDRs(args)
	case "add-association":
		err = runAddAssociation(args)
	case "delete-association":
		err = runDeleteAssociation(args)
	case "list-associations":
		err = runListAssociations(args)
	case "set-listen-port":
		err = runSetListenPort(args)
	case "override-endpoint":
		err = runOverrideEndpoint(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "meshnetctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: meshnetctl <command> [flags]

commands:
  install             redeem an invitation file and bring up the interface
  show                print the last-fetched peer and CIDR list
  up                  bring up an already-installed interface (-daemon to keep fetching on an interval)
  fetch               reconcile once against the coordinator
  down                tear down the interface, keep the config
  uninstall           tear down the interface and remove its config
  add-peer            create an invitation (admin)
  rename-peer         rename a peer (admin)
  enable-peer         re-enable a disabled peer (admin)
  disable-peer        disable a peer (admin)
  add-cidr            create a CIDR (admin)
  rename-cidr         rename a CIDR (admin)
  delete-cidr         delete an empty CIDR (admin)
  list-cidrs          list all CIDRs (admin)
  add-association     associate two CIDRs (admin)
  delete-association  remove an association (admin)
  list-associations   list all associations (admin)
  set-listen-port     change this interface's WireGuard listen port
  override-endpoint   declare (or clear) this peer's own endpoint`)
}

func requireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("this command requires root privileges")
	}
	return nil
}

func interfaceFlag(fs *flag.FlagSet) *string {
	return fs.String("interface", "", "interface name (config file stem under "+defaultConfigDir+")")
}

func configPathFor(iface string) string {
	return filepath.Join(defaultConfigDir, iface+".toml")
}

func loadInstalled(iface string) (*config.InterfaceConfig, string, error) {
	if iface == "" {
		return nil, "", fmt.Errorf("-interface is required")
	}
	path := configPathFor(iface)
	cfg, err := config.LoadInterfaceConfig(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func adminClientFor(iface string) (*client.APIClient, error) {
	cfg, _, err := loadInstalled(iface)
	if err != nil {
		return nil, err
	}
	return client.NewAPIClient(cfg.Server.InternalEndpoint, cfg.Server.PublicKey), nil
}

func runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	invitePath := fs.String("invite", "", "path to the invitation file")
	iface := interfaceFlag(fs)
	listenPort := fs.Int("listen-port", 51820, "local WireGuard listen port")
	qr := fs.Bool("qr", false, "also render the invitation as a QR code next to it")
	fs.Parse(args)

	if err := requireRoot(); err != nil {
		return err
	}
	if *invitePath == "" || *iface == "" {
		return fmt.Errorf("-invite and -interface are required")
	}

	if *qr {
		if err := client.WriteInvitationQR(*invitePath, *invitePath+".png"); err != nil {
			slog.Warn("failed to render invitation qr", "error", err)
		}
	}

	driver := wireguard.NewRealDriver()
	mgr := wireguard.NewManager(*iface, driver)

	installed, err := client.Install(context.Background(), *invitePath, mgr, *listenPort)
	if err != nil {
		return err
	}

	target := configPathFor(*iface)
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := config.Save(target, installed); err != nil {
		return fmt.Errorf("save installed config: %w", err)
	}

	slog.Info("installed", "interface", *iface, "address", installed.Interface.Address)
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	iface := interfaceFlag(fs)
	fs.Parse(args)

	if *iface == "" {
		return fmt.Errorf("-interface is required")
	}
	cache, err := client.OpenCache(cachePathFor(*iface))
	if err != nil {
		return err
	}
	for _, p := range cache.Peers() {
		fmt.Printf("%-20s %-16s %s\n", p.Name, p.IP, p.PublicKey)
	}
	for _, c := range cache.CIDRs() {
		fmt.Printf("%-20s %s\n", c.Name, c.Network.String())
	}
	return nil
}

func cachePathFor(iface string) string {
	return filepath.Join(defaultConfigDir, iface+".cache.json")
}

func runUp(args []string) error {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	iface := interfaceFlag(fs)
	daemon := fs.Bool("daemon", false, "keep running, periodically re-fetching from the coordinator")
	interval := fs.Duration("interval", time.Minute, "fetch interval in daemon mode")
	fs.Parse(args)

	if err := requireRoot(); err != nil {
		return err
	}
	cfg, _, err := loadInstalled(*iface)
	if err != nil {
		return err
	}

	driver := wireguard.NewRealDriver()
	mgr := wireguard.NewManager(*iface, driver)
	if err := mgr.Install(cfg.Interface.PrivateKey, cfg.Interface.ListenPort, nil); err != nil {
		return fmt.Errorf("bring up interface: %w", err)
	}

	if !*daemon {
		return runFetchWith(*iface, cfg, mgr)
	}

	rec, err := buildReconciler(*iface, cfg, mgr, *interval)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rec.Run(ctx)
	return nil
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	iface := interfaceFlag(fs)
	fs.Parse(args)

	if err := requireRoot(); err != nil {
		return err
	}
	cfg, _, err := loadInstalled(*iface)
	if err != nil {
		return err
	}
	driver := wireguard.NewRealDriver()
	mgr := wireguard.NewManager(*iface, driver)
	return runFetchWith(*iface, cfg, mgr)
}

func runFetchWith(iface string, cfg *config.InterfaceConfig, mgr *wireguard.Manager) error {
	rec, err := buildReconciler(iface, cfg, mgr, time.Minute)
	if err != nil {
		return err
	}
	return rec.FetchCycle(context.Background())
}

// buildReconciler wires up a Reconciler against iface's installed config
// and cache file, for either a one-shot fetch or a daemon-mode Run loop.
func buildReconciler(iface string, cfg *config.InterfaceConfig, mgr *wireguard.Manager, interval time.Duration) (*client.Reconciler, error) {
	apiClient := client.NewAPIClient(cfg.Server.InternalEndpoint, cfg.Server.PublicKey)
	cache, err := client.OpenCache(cachePathFor(iface))
	if err != nil {
		return nil, err
	}
	selfPubKey, err := wireguard.PublicKeyFromPrivate(cfg.Interface.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	hosts := &client.HostsFile{Tag: "meshnet " + iface}
	return client.NewReconciler(apiClient, mgr, cache, hosts, "/etc/hosts", selfPubKey, cfg.Interface.ListenPort, interval), nil
}

func runDown(args []string) error {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	iface := interfaceFlag(fs)
	fs.Parse(args)

	if err := requireRoot(); err != nil {
		return err
	}
	if *iface == "" {
		return fmt.Errorf("-interface is required")
	}
	driver := wireguard.NewRealDriver()
	mgr := wireguard.NewManager(*iface, driver)
	return mgr.Down()
}

func runUninstall(args []string) error {
	fs := flag.NewFlagSet("uninstall", flag.ExitOnError)
	iface := interfaceFlag(fs)
	fs.Parse(args)

	if err := requireRoot(); err != nil {
		return err
	}
	if *iface == "" {
		return fmt.Errorf("-interface is required")
	}
	driver := wireguard.NewRealDriver()
	mgr := wireguard.NewManager(*iface, driver)
	if err := mgr.Down(); err != nil {
		slog.Warn("failed to tear down interface", "error", err)
	}
	if err := os.Remove(configPathFor(*iface)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove config: %w", err)
	}
	_ = os.Remove(cachePathFor(*iface))
	return nil
}

func runAddPeer(args []string) error {
	fs := flag.NewFlagSet("add-peer", flag.ExitOnError)
	iface := interfaceFlag(fs)
	name := fs.String("name", "", "peer name")
	ip := fs.String("ip", "", "assigned address")
	cidrID := fs.Int64("cidr-id", 0, "parent CIDR id")
	isAdmin := fs.Bool("admin", false, "grant admin capability")
	invitePath := fs.String("out", "", "path to write the resulting invitation file")
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	created, err := api.CreatePeer(context.Background(), map[string]any{
		"name": *name, "ip": *ip, "cidr_id": *cidrID, "is_admin": *isAdmin,
	})
	if err != nil {
		return err
	}

	fmt.Printf("created peer %q (id=%d)\n", created.Name, created.ID)
	if *invitePath != "" {
		cfg, _, err := loadInstalled(*iface)
		if err != nil {
			return fmt.Errorf("load this interface's config to build the invitation: %w", err)
		}
		invite := client.BuildInvitation(cfg.Interface.NetworkName, *ip, cfg.Interface.Prefix,
			cfg.Server.PublicKey, cfg.Server.Endpoint, cfg.Server.InternalEndpoint)
		if err := client.WriteInvitation(invite, *invitePath); err != nil {
			return fmt.Errorf("write invitation: %w", err)
		}
		fmt.Println("wrote invitation to", *invitePath)
	}
	return nil
}

func runRenamePeer(args []string) error {
	fs := flag.NewFlagSet("rename-peer", flag.ExitOnError)
	iface := interfaceFlag(fs)
	id := fs.Int64("id", 0, "peer id")
	name := fs.String("name", "", "new name")
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	return api.RenamePeer(context.Background(), *id, *name)
}

func runSetPeerDisabled(args []string, disabled bool) error {
	fs := flag.NewFlagSet("set-peer-disabled", flag.ExitOnError)
	iface := interfaceFlag(fs)
	id := fs.Int64("id", 0, "peer id")
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	return api.SetPeerDisabled(context.Background(), *id, disabled)
}

func runAddCIDR(args []string) error {
	fs := flag.NewFlagSet("add-cidr", flag.ExitOnError)
	iface := interfaceFlag(fs)
	name := fs.String("name", "", "CIDR name")
	network := fs.String("network", "", "CIDR notation, e.g. 10.42.1.0/24")
	parent := fs.Int64("parent-id", 0, "parent CIDR id (0 for none)")
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	req := map[string]any{"name": *name, "network": *network}
	if *parent != 0 {
		req["parent_id"] = *parent
	}
	created, err := api.CreateCIDR(context.Background(), req)
	if err != nil {
		return err
	}
	fmt.Printf("created cidr %q (id=%d)\n", created.Name, created.ID)
	return nil
}

func runRenameCIDR(args []string) error {
	fs := flag.NewFlagSet("rename-cidr", flag.ExitOnError)
	iface := interfaceFlag(fs)
	id := fs.Int64("id", 0, "cidr id")
	name := fs.String("name", "", "new name")
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	return api.RenameCIDR(context.Background(), *id, *name)
}

func runDeleteCIDR(args []string) error {
	fs := flag.NewFlagSet("delete-cidr", flag.ExitOnError)
	iface := interfaceFlag(fs)
	id := fs.Int64("id", 0, "cidr id")
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	return api.DeleteCIDR(context.Background(), *id)
}

func runListCIDRs(args []string) error {
	fs := flag.NewFlagSet("list-cidrs", flag.ExitOnError)
	iface := interfaceFlag(fs)
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	cidrs, err := api.ListCIDRs(context.Background())
	if err != nil {
		return err
	}
	for _, c := range cidrs {
		fmt.Printf("%-6d %-20s %s\n", c.ID, c.Name, c.Network.String())
	}
	return nil
}

func runAddAssociation(args []string) error {
	fs := flag.NewFlagSet("add-association", flag.ExitOnError)
	iface := interfaceFlag(fs)
	a := fs.Int64("cidr-a", 0, "first CIDR id")
	b := fs.Int64("cidr-b", 0, "second CIDR id")
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	_, err = api.CreateAssociation(context.Background(), *a, *b)
	return err
}

func runDeleteAssociation(args []string) error {
	fs := flag.NewFlagSet("delete-association", flag.ExitOnError)
	iface := interfaceFlag(fs)
	id := fs.Int64("id", 0, "association id")
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	return api.DeleteAssociation(context.Background(), *id)
}

func runListAssociations(args []string) error {
	fs := flag.NewFlagSet("list-associations", flag.ExitOnError)
	iface := interfaceFlag(fs)
	fs.Parse(args)

	api, err := adminClientFor(*iface)
	if err != nil {
		return err
	}
	assocs, err := api.ListAssociations(context.Background())
	if err != nil {
		return err
	}
	for _, a := range assocs {
		fmt.Printf("%-6d %d <-> %d\n", a.ID, a.CIDRID1, a.CIDRID2)
	}
	return nil
}

func runSetListenPort(args []string) error {
	fs := flag.NewFlagSet("set-listen-port", flag.ExitOnError)
	iface := interfaceFlag(fs)
	port := fs.Int("port", 0, "new listen port")
	fs.Parse(args)

	if err := requireRoot(); err != nil {
		return err
	}
	cfg, path, err := loadInstalled(*iface)
	if err != nil {
		return err
	}
	cfg.Interface.ListenPort = *port
	if err := config.Save(path, cfg); err != nil {
		return err
	}

	driver := wireguard.NewRealDriver()
	mgr := wireguard.NewManager(*iface, driver)
	return mgr.Install(cfg.Interface.PrivateKey, *port, nil)
}

func runOverrideEndpoint(args []string) error {
	fs := flag.NewFlagSet("override-endpoint", flag.ExitOnError)
	iface := interfaceFlag(fs)
	endpoint := fs.String("endpoint", "", "endpoint to declare, empty to clear")
	fs.Parse(args)

	cfg, _, err := loadInstalled(*iface)
	if err != nil {
		return err
	}
	api := client.NewAPIClient(cfg.Server.InternalEndpoint, cfg.Server.PublicKey)
	return api.OverrideEndpoint(context.Background(), *endpoint)
}
