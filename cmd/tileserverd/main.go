// Command tileserverd runs the Tile Access and Composition Core as a
// standalone HTTP daemon. Configuration is flag-driven, no environment
// variables, matching the teacher's cmd/siad flag-parsing style.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cccoolll/agent-lens/api"
	"github.com/cccoolll/agent-lens/modules"
	"github.com/cccoolll/agent-lens/node"
	"github.com/cccoolll/agent-lens/persist"
)

// config holds every flag this daemon accepts, translated into a
// modules.Config plus the handful of daemon-only settings (listen address,
// metadata-service URL, log file path) that modules.Config has no business
// knowing about.
type config struct {
	addr          string
	metadataURL   string
	logFile       string
	directChunks  bool
	workerCount   int
	cacheCapacity int

	safetyMargin   time.Duration
	urlExpiry      time.Duration
	idleTTL        time.Duration
	networkTimeout time.Duration
	getTileTimeout time.Duration
	mergedTimeout  time.Duration
	healthTimeout  time.Duration

	healthDataset   string
	healthTimestamp string
	healthChannel   int
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.addr, "addr", ":9980", "address to listen on")
	flag.StringVar(&cfg.metadataURL, "metadata-url", "", "base URL of the archive-metadata service (required)")
	flag.StringVar(&cfg.logFile, "log-file", "tileserverd.log", "path to the log file")
	flag.BoolVar(&cfg.directChunks, "direct-chunks", false, "use the legacy per-chunk access path instead of archive mode")
	flag.IntVar(&cfg.workerCount, "workers", 0, "scheduler worker pool size (0 lets the scheduler pick)")
	flag.IntVar(&cfg.cacheCapacity, "cache-bytes", int(modules.DefaultByteCacheCapacity), "byte cache capacity in bytes")

	flag.DurationVar(&cfg.safetyMargin, "safety-margin", modules.DefaultSafetyMargin, "minimum signed-URL lifetime kept in reserve before refresh")
	flag.DurationVar(&cfg.urlExpiry, "url-expiry", modules.DefaultURLExpiry, "assumed signed-URL lifetime when the collaborator does not report one")
	flag.DurationVar(&cfg.idleTTL, "idle-ttl", modules.DefaultRegistryIdleTTL, "how long an archive lease may sit unused before eviction")
	flag.DurationVar(&cfg.networkTimeout, "network-timeout", modules.NetworkOpTimeout, "timeout for a single chunk-store network operation")
	flag.DurationVar(&cfg.getTileTimeout, "get-tile-timeout", modules.GetTileTimeout, "end-to-end timeout for GetTile")
	flag.DurationVar(&cfg.mergedTimeout, "get-merged-tile-timeout", modules.GetMergedTileTimeout, "end-to-end timeout for GetMergedTile")
	flag.DurationVar(&cfg.healthTimeout, "health-timeout", modules.HealthTimeout, "timeout for the health probe")

	flag.StringVar(&cfg.healthDataset, "health-dataset", "", "dataset the health probe reads from (required)")
	flag.StringVar(&cfg.healthTimestamp, "health-timestamp", "", "timestamp the health probe reads from (required)")
	flag.IntVar(&cfg.healthChannel, "health-channel", modules.BrightfieldChannel, "channel the health probe reads from")

	flag.Parse()
	return cfg
}

func (cfg config) moduleConfig() modules.Config {
	c := modules.DefaultConfig()
	c.UseDirectChunkPath = cfg.directChunks
	c.WorkerCount = cfg.workerCount
	c.ByteCacheCapacity = cfg.cacheCapacity
	c.SafetyMargin = cfg.safetyMargin
	c.DefaultURLExpiry = cfg.urlExpiry
	c.RegistryIdleTTL = cfg.idleTTL
	c.NetworkOpTimeout = cfg.networkTimeout
	c.GetTileTimeout = cfg.getTileTimeout
	c.GetMergedTileTimeout = cfg.mergedTimeout
	c.HealthTimeout = cfg.healthTimeout
	c.HealthCheckArchive = modules.ArchiveKey{
		Dataset:   cfg.healthDataset,
		Timestamp: cfg.healthTimestamp,
		Channel:   cfg.healthChannel,
	}
	return c
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tileserverd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()
	if cfg.metadataURL == "" {
		return fmt.Errorf("-metadata-url is required")
	}
	if cfg.healthDataset == "" || cfg.healthTimestamp == "" {
		return fmt.Errorf("-health-dataset and -health-timestamp are required")
	}

	log, err := persist.NewLogger(cfg.logFile)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer log.Close()

	collaborator := newHTTPCollaborator(cfg.metadataURL, http.DefaultClient)

	core, err := node.New(cfg.moduleConfig(), collaborator, http.DefaultClient, log)
	if err != nil {
		return fmt.Errorf("starting core: %w", err)
	}
	defer core.Close()

	server, err := api.NewServer(cfg.addr, core)
	if err != nil {
		return fmt.Errorf("binding %s: %w", cfg.addr, err)
	}
	log.Println("tileserverd: listening on", server.Addr())

	return server.Serve()
}
