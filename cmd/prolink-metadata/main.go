// Command prolink-metadata queries a player's proprietary TCP metadata
// service directly, bypassing the NFS path:
//
//	prolink-metadata --device 4 192.168.1.243 3 115
//
// asks player 192.168.1.243 for track id 115 on slot 3 (SD). Useful against
// players whose media cannot be browsed over NFS.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/snapetech/prolink/internal/remotedb"
)

func main() {
	deviceNum := flag.Uint8("device", 4, "device number to introduce ourselves as (1-6)")
	trackType := flag.Uint8("track-type", 1, "track type byte (1 = rekordbox)")
	timeout := flag.Duration("timeout", 30*time.Second, "request deadline")
	artworkPath := flag.String("artwork", "", "also fetch cover art into this file")
	flag.Parse()

	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{})

	args := flag.Args()
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: prolink-metadata [flags] <host> <slot> <rekordbox-id>")
		os.Exit(2)
	}
	host, err := netip.ParseAddr(args[0])
	if err != nil {
		log.Fatal("parse host", "err", err)
	}
	var slot uint8
	var rekordboxID uint32
	if _, err := fmt.Sscanf(args[1], "%d", &slot); err != nil {
		log.Fatal("parse slot", "err", err)
	}
	if _, err := fmt.Sscanf(args[2], "%d", &rekordboxID); err != nil {
		log.Fatal("parse rekordbox id", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	port, err := remotedb.LookupPort(ctx, host)
	if err != nil {
		log.Fatal("port lookup", "err", err)
	}
	log.Debug("metadata service located", "port", port)

	conn, err := remotedb.Connect(ctx, host, port, *deviceNum)
	if err != nil {
		log.Fatal("connect", "err", err)
	}
	defer conn.Close()

	entries, artworkID, err := conn.TrackMenu(slot, *trackType, rekordboxID)
	if err != nil {
		log.Fatal("track menu", "err", err)
	}
	for _, entry := range entries {
		fmt.Printf("%-16s %s\n", entry.Type, entry.Value)
	}

	if *artworkPath != "" && artworkID != 0 {
		data, err := conn.Artwork(slot, *trackType, artworkID)
		if err != nil {
			log.Fatal("artwork", "err", err)
		}
		if err := os.WriteFile(*artworkPath, data, 0o644); err != nil {
			log.Fatal("write artwork", "err", err)
		}
		fmt.Printf("artwork: %d bytes -> %s\n", len(data), *artworkPath)
	}
}
