// Command prolink-watch joins the Pro DJ Link network as a passive device
// and prints what happens: peers coming and going, track loads with resolved
// metadata, and (with --beats) per-beat timing. It can also dump cover art to
// a directory, journal plays into SQLite, and serve prometheus metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/snapetech/prolink"
	"github.com/snapetech/prolink/internal/tracklog"
)

// fileConfig is the optional YAML config; flags override it.
type fileConfig struct {
	Name        string `yaml:"name"`
	DeviceNum   uint8  `yaml:"device_num"`
	Interface   string `yaml:"interface"`
	ArtworkDir  string `yaml:"artwork_dir"`
	HistoryPath string `yaml:"history"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	name := flag.String("name", "prolink-watch", "device name to announce (max 20 bytes)")
	deviceNum := flag.Uint8("device", 4, "device number to claim (1-6)")
	ifaceName := flag.String("interface", "", "network interface (default: auto-discover)")
	joinTimeout := flag.Duration("join-timeout", 30*time.Second, "interface discovery + handshake deadline")
	artworkDir := flag.String("artwork-dir", "", "write cover art for new tracks into this directory")
	historyPath := flag.String("history", "", "journal plays into this SQLite file")
	metricsAddr := flag.String("metrics-addr", "", "serve prometheus metrics on this address (e.g. :9100)")
	showBeats := flag.Bool("beats", false, "print beat packets (noisy)")
	verbose := flag.BoolP("verbose", "v", false, "debug logging")
	flag.Parse()

	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true})
	if *verbose {
		log.SetLevel(charmlog.DebugLevel)
	}
	charmlog.SetDefault(log)

	fileCfg, err := loadFileConfig(*configPath)
	if err != nil {
		log.Fatal("config", "err", err)
	}
	cfg := prolink.Config{
		Name:          *name,
		DeviceNum:     *deviceNum,
		InterfaceName: firstOf(*ifaceName, fileCfg.Interface),
	}
	if fileCfg.Name != "" && !flag.CommandLine.Changed("name") {
		cfg.Name = fileCfg.Name
	}
	if fileCfg.DeviceNum != 0 && !flag.CommandLine.Changed("device") {
		cfg.DeviceNum = fileCfg.DeviceNum
	}
	artDir := firstOf(*artworkDir, fileCfg.ArtworkDir)
	histPath := firstOf(*historyPath, fileCfg.HistoryPath)
	promAddr := firstOf(*metricsAddr, fileCfg.MetricsAddr)

	var history *tracklog.Log
	if histPath != "" {
		history, err = tracklog.Open(histPath)
		if err != nil {
			log.Fatal("open history", "err", err)
		}
		defer history.Close()
	}

	if promAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(promAddr, mux); err != nil {
				log.Error("metrics listener", "err", err)
			}
		}()
		log.Info("serving metrics", "addr", promAddr)
	}

	joinCtx, cancel := context.WithTimeout(context.Background(), *joinTimeout)
	handle, err := prolink.Join(joinCtx, cfg)
	cancel()
	if err != nil {
		log.Fatal("join", "err", err)
	}
	log.Info("joined network", "name", cfg.Name, "device", cfg.DeviceNum)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		handle.Terminate()
	}()

	for {
		msg, err := handle.Next()
		if err != nil {
			// ErrTerminating: either our signal handler or a fatal task.
			log.Info("terminated")
			return
		}
		switch m := msg.(type) {
		case *prolink.PeerJoined:
			fmt.Printf("+ peer %q (device %d)\n", m.Name, m.DeviceNum)
		case *prolink.PeerLeft:
			fmt.Printf("- peer %q (device %d)\n", m.Name, m.DeviceNum)
		case *prolink.NewTrack:
			printTrack(m)
			if artDir != "" && len(m.Artwork) > 0 {
				saveArtwork(log, artDir, m)
			}
			if history != nil {
				recordPlay(log, history, m)
			}
		case *prolink.Beat:
			if *showBeats {
				fmt.Printf("  beat %d/4 device=%d bpm=%.2f pitch=%+.2f%%\n",
					m.BeatInBar, m.DeviceNum, m.BPM, m.Pitch)
			}
		}
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printTrack(m *prolink.NewTrack) {
	if m.Metadata == nil {
		fmt.Printf("* deck %d: track id %d (slot %d, no metadata)\n",
			m.PlayerDevice, m.RekordboxID, m.TrackSlot)
		return
	}
	md := m.Metadata
	fmt.Printf("* deck %d: %q by %q [%s / %s] %.2f BPM %s\n",
		m.PlayerDevice, md.Title, md.Artist, md.Album, md.Genre, md.Tempo,
		time.Duration(md.Duration)*time.Second)
}

func saveArtwork(log *charmlog.Logger, dir string, m *prolink.NewTrack) {
	path := filepath.Join(dir, fmt.Sprintf("%d-%d-%d.jpg",
		m.TrackDevice, m.TrackSlot, m.RekordboxID))
	if err := os.WriteFile(path, m.Artwork, 0o644); err != nil {
		log.Warn("write artwork", "path", path, "err", err)
		return
	}
	log.Debug("artwork saved", "path", path, "bytes", len(m.Artwork))
}

func recordPlay(log *charmlog.Logger, history *tracklog.Log, m *prolink.NewTrack) {
	play := tracklog.Play{
		At:          time.Now(),
		Player:      m.PlayerDevice,
		Source:      m.TrackDevice,
		Slot:        m.TrackSlot,
		RekordboxID: m.RekordboxID,
	}
	if m.Metadata != nil {
		play.Title = m.Metadata.Title
		play.Artist = m.Metadata.Artist
		play.Album = m.Metadata.Album
	}
	if err := history.Record(play); err != nil {
		log.Warn("record play", "err", err)
	}
}
