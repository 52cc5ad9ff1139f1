// Package node wires the Tile Access and Composition Core's components
// (A-G) into one modules.TileServer, following the teacher's cmd/siad
// node-construction idiom: one constructor takes a modules.Config plus the
// external collaborators, builds every component bottom-up, and starts
// their background loops under a single threadgroup.
package node

import (
	"context"
	"net/http"
	"time"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/threadgroup"

	"github.com/cccoolll/agent-lens/modules"
	"github.com/cccoolll/agent-lens/modules/assembler"
	"github.com/cccoolll/agent-lens/modules/bytecache"
	"github.com/cccoolll/agent-lens/modules/chunkstore"
	"github.com/cccoolll/agent-lens/modules/compositor"
	"github.com/cccoolll/agent-lens/modules/registry"
	"github.com/cccoolll/agent-lens/modules/scheduler"
	"github.com/cccoolll/agent-lens/persist"
)

// Core implements modules.TileServer by wiring together the Registry,
// Chunk Store, Byte Cache, Tile Assembler, Priority Scheduler and
// Compositor components.
type Core struct {
	cfg modules.Config
	log *persist.Logger

	registry  *registry.Registry
	store     modules.ChunkStore
	cache     *bytecache.LRU
	assembler *assembler.Assembler
	scheduler *scheduler.Scheduler

	tg threadgroup.ThreadGroup
}

// New constructs every component per cfg and starts the scheduler's
// worker pool and the registry's idle-lease sweep, both under the
// returned Core's threadgroup. Call Close to stop them.
func New(cfg modules.Config, collaborator modules.MetadataCollaborator, client *http.Client, log *persist.Logger) (*Core, error) {
	if client == nil {
		client = http.DefaultClient
	}

	reg := registry.New(collaborator, log, cfg.SafetyMargin, cfg.DefaultURLExpiry, cfg.RegistryIdleTTL)

	var store modules.ChunkStore
	if cfg.UseDirectChunkPath {
		store = chunkstore.NewDirectStore(collaborator, client, log, cfg.NetworkOpTimeout)
	} else {
		store = chunkstore.NewArchiveStore(client, log, cfg.NetworkOpTimeout)
	}

	cache := bytecache.New(cfg.ByteCacheCapacity, log)
	asm := assembler.New(reg, store, cache, log)

	c := &Core{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		store:     store,
		cache:     cache,
		assembler: asm,
	}
	c.scheduler = scheduler.New(cfg.WorkerCount, c.schedulerHandler, log)

	if err := c.tg.Add(); err != nil {
		return nil, err
	}
	go func() {
		defer c.tg.Done()
		if err := c.scheduler.Run(context.Background()); err != nil {
			c.log.Println("node: scheduler loop exited:", err)
		}
	}()

	if err := c.tg.Add(); err != nil {
		return nil, err
	}
	go c.sweepLoop()

	return c, nil
}

// schedulerHandler is invoked by a scheduler worker for each dequeued
// tile job; it warms the byte cache but discards the result, since the
// scheduler is a prefetch optimization rather than a response path.
func (c *Core) schedulerHandler(ctx context.Context, tile modules.TileCoord) error {
	c.assembler.Fetch(ctx, tile)
	return nil
}

// sweepLoop periodically evicts idle archive leases from the registry,
// per spec.md §9's "acceptable: at most a few hundred live K" bound.
func (c *Core) sweepLoop() {
	defer c.tg.Done()
	ticker := time.NewTicker(c.cfg.RegistryIdleTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-c.tg.StopChan():
			return
		case <-ticker.C:
			if n := c.registry.SweepIdle(); n > 0 {
				c.log.Println("node: swept", n, "idle archive leases")
			}
		}
	}
}

// GetTile implements modules.TileServer.
func (c *Core) GetTile(ctx context.Context, tile modules.TileCoord, settings modules.ChannelSettings, priority int) ([]byte, error) {
	if err := validateTile(tile); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetTileTimeout)
	defer cancel()
	c.scheduler.Submit(tile, priority)

	pixels := c.assembler.Fetch(ctx, tile)
	return compositor.Compose([]modules.ChannelInput{{Channel: tile.Channel, Pixels: pixels, Settings: settings}})
}

// GetMergedTile implements modules.TileServer.
func (c *Core) GetMergedTile(ctx context.Context, tiles []modules.TileCoord, settings map[int]modules.ChannelSettings, priority int) ([]byte, error) {
	if len(tiles) == 0 {
		return compositor.Compose(nil)
	}
	if len(tiles) > modules.MaxChannelsPerTile {
		return nil, errors.AddContext(modules.ErrInvalidRequest, "too many channels requested")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetMergedTileTimeout)
	defer cancel()

	channels := make([]modules.ChannelInput, 0, len(tiles))
	for _, tile := range tiles {
		if err := validateTile(tile); err != nil {
			return nil, err
		}
		c.scheduler.Submit(tile, priority)

		chSettings, ok := settings[tile.Channel]
		if !ok {
			chSettings = modules.DefaultChannelSettings(tile.Channel)
		}
		pixels := c.assembler.Fetch(ctx, tile)
		channels = append(channels, modules.ChannelInput{Channel: tile.Channel, Pixels: pixels, Settings: chSettings})
	}
	return compositor.Compose(channels)
}

// Prefetch implements modules.TileServer: it submits every tile to the
// scheduler without waiting for any of them to complete.
func (c *Core) Prefetch(ctx context.Context, tiles []modules.TileCoord, priority int) int {
	accepted := 0
	for _, tile := range tiles {
		if validateTile(tile) != nil {
			continue
		}
		c.scheduler.Submit(tile, priority)
		accepted++
	}
	return accepted
}

// WarmArchive implements modules.TileServer.
func (c *Core) WarmArchive(ctx context.Context, key modules.ArchiveKey) error {
	return c.assembler.WarmArchive(ctx, key)
}

// Health implements modules.TileServer: it opens cfg.HealthCheckArchive
// and reads chunk (scale=0, y=0, x=0) within cfg.HealthTimeout.
func (c *Core) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	tile := modules.TileCoord{
		Dataset:   c.cfg.HealthCheckArchive.Dataset,
		Timestamp: c.cfg.HealthCheckArchive.Timestamp,
		Channel:   c.cfg.HealthCheckArchive.Channel,
		Scale:     0,
	}

	lease, err := c.registry.Lease(ctx, tile.ArchiveKey())
	if err != nil {
		return errors.AddContext(err, "health check: failed to obtain lease")
	}
	handle, err := c.store.Open(ctx, tile.ArchiveKey(), lease)
	if err != nil {
		return errors.AddContext(err, "health check: failed to open archive")
	}
	defer handle.Close()

	if _, err := handle.Read(ctx, 0, 0, 0); err != nil {
		return errors.AddContext(err, "health check: failed to read chunk")
	}
	return nil
}

// Close stops the scheduler's worker pool and the registry's sweep loop.
func (c *Core) Close() error {
	// The scheduler owns its own threadgroup; stop it explicitly so the
	// goroutine wrapping scheduler.Run can return and call c.tg.Done(),
	// which c.tg.Stop() below otherwise waits on forever.
	if err := c.scheduler.Stop(); err != nil {
		c.log.Println("node: error stopping scheduler:", err)
	}
	return c.tg.Stop()
}

func validateTile(tile modules.TileCoord) error {
	if tile.Scale < 0 || tile.Scale > modules.MaxScale {
		return errors.AddContext(modules.ErrInvalidRequest, "scale out of range")
	}
	if tile.Dataset == "" || tile.Timestamp == "" {
		return errors.AddContext(modules.ErrInvalidRequest, "missing dataset or timestamp")
	}
	if _, ok := modules.ChannelName[tile.Channel]; !ok {
		return errors.AddContext(modules.ErrInvalidRequest, "unknown channel")
	}
	return nil
}
