// Command prolink-nfs pokes at a player's exported file system directly:
//
//	prolink-nfs ls 192.168.1.243:/C/PIONEER
//	prolink-nfs get 192.168.1.243:/C/PIONEER/rekordbox/export.pdb export.pdb
//	prolink-nfs mount 192.168.1.243 /mnt/cdj
//
// Paths use the host:/path form; /B is the USB slot, /C the SD slot.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/snapetech/prolink/internal/nfs"
	"github.com/snapetech/prolink/internal/nfsfs"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage:
  prolink-nfs ping <host>
  prolink-nfs rpcinfo <host>
  prolink-nfs ls <host>:<path>...
  prolink-nfs get <host>:<path> <local-path>
  prolink-nfs mount <host> <mount-point>
`)
	os.Exit(2)
}

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "per-operation deadline")
	verbose := flag.BoolP("verbose", "v", false, "debug logging")
	flag.Parse()

	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{})
	if *verbose {
		log.SetLevel(charmlog.DebugLevel)
	}

	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	switch args[0] {
	case "ping":
		if len(args) != 2 {
			usage()
		}
		if err := ping(*timeout, args[1]); err != nil {
			log.Fatal("ping", "host", args[1], "err", err)
		}
	case "rpcinfo":
		if len(args) != 2 {
			usage()
		}
		if err := rpcinfo(*timeout, args[1]); err != nil {
			log.Fatal("rpcinfo", "host", args[1], "err", err)
		}
	case "ls":
		if len(args) < 2 {
			usage()
		}
		for _, spec := range args[1:] {
			if err := ls(*timeout, spec); err != nil {
				log.Fatal("ls", "path", spec, "err", err)
			}
		}
	case "get":
		if len(args) != 3 {
			usage()
		}
		if err := get(*timeout, args[1], args[2]); err != nil {
			log.Fatal("get", "path", args[1], "err", err)
		}
	case "mount":
		if len(args) != 3 {
			usage()
		}
		if err := mount(log, *timeout, args[1], args[2]); err != nil {
			log.Fatal("mount", "err", err)
		}
	default:
		usage()
	}
}

// splitSpec parses "host:/path" into its halves.
func splitSpec(spec string) (netip.Addr, string, error) {
	host, path, ok := strings.Cut(spec, ":")
	if !ok {
		return netip.Addr{}, "", fmt.Errorf("no ':' in %q; want host:/path", spec)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, "", fmt.Errorf("parse host %q: %w", host, err)
	}
	return addr, path, nil
}

func connect(ctx context.Context, addr netip.Addr) (*nfs.Client, error) {
	return nfs.Connect(ctx, addr)
}

// ping checks the player's RPC service with a portmap NULL call.
func ping(timeout time.Duration, host string) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("parse host %q: %w", host, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pm, err := nfs.DialPortmap(addr)
	if err != nil {
		return err
	}
	defer pm.Close()
	start := time.Now()
	if err := pm.Ping(ctx); err != nil {
		return err
	}
	fmt.Printf("%s: rpc service up (%.1fms)\n", host, float64(time.Since(start).Microseconds())/1000)
	return nil
}

// rpcinfo lists the programs the player's portmapper has registered.
func rpcinfo(timeout time.Duration, host string) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("parse host %q: %w", host, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pm, err := nfs.DialPortmap(addr)
	if err != nil {
		return err
	}
	defer pm.Close()
	mappings, err := pm.Dump(ctx)
	if err != nil {
		return err
	}
	fmt.Println("   program vers proto   port")
	for _, m := range mappings {
		proto := "udp"
		if m.Proto == 6 {
			proto = "tcp"
		}
		fmt.Printf("%10d %4d %5s %6d\n", m.Prog, m.Vers, proto, m.Port)
	}
	return nil
}

func ls(timeout time.Duration, spec string) error {
	addr, path, err := splitSpec(spec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := connect(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	exports, err := client.Exports(ctx)
	if err != nil {
		return err
	}
	fmt.Println("exports:")
	for _, export := range exports {
		fmt.Printf("  %s\n", export)
	}

	if path == "" || path == "/" {
		return nil
	}
	names, err := client.ReadDir(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("%s:\n", path)
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func get(timeout time.Duration, spec, localPath string) error {
	addr, path, err := splitSpec(spec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := connect(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	data, err := client.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s: %d bytes\n", localPath, len(data))
	return nil
}

func mount(log *charmlog.Logger, timeout time.Duration, host, mountPoint string) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("parse host %q: %w", host, err)
	}
	connectCtx, cancel := context.WithTimeout(context.Background(), timeout)
	client, err := connect(connectCtx, addr)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unmount, err := nfsfs.Mount(ctx, mountPoint, client)
	if err != nil {
		return err
	}
	defer unmount()

	log.Info("mounted", "host", host, "at", mountPoint)
	<-ctx.Done()
	log.Info("unmounting")
	return nil
}
