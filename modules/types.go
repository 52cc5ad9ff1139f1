package modules

import (
	"fmt"
	"time"
)

// ArchiveKey identifies one remote archive: an archive file containing one
// multi-scale chunked array for a single channel at a single timestamp of
// a dataset.
type ArchiveKey struct {
	Dataset   string
	Timestamp string
	Channel   int
}

// String returns "{dataset}/{timestamp}/{channel}", the key's identity
// string used for coalescing and logging. ArchivePath gives the
// collaborator path.
func (k ArchiveKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Dataset, k.Timestamp, k.Channel)
}

// ArchivePath returns the path passed to the metadata collaborator for
// the archive-backed access mode.
func (k ArchiveKey) ArchivePath() string {
	return fmt.Sprintf("%s/%s.zip", k.Timestamp, channelName(k.Channel))
}

// ChunkKey identifies one compressed chunk inside an archive.
type ChunkKey struct {
	Archive ArchiveKey
	Scale   int
	X, Y    uint32
}

// String returns the on-disk chunk member name, "<scale>/<y>.<x>".
func (c ChunkKey) String() string {
	return fmt.Sprintf("%d/%d.%d", c.Scale, c.Y, c.X)
}

// DirectPath returns the path passed to the metadata collaborator for the
// legacy per-chunk access mode.
func (c ChunkKey) DirectPath() string {
	return fmt.Sprintf("%s/%s/scale%d/%d.%d", c.Archive.Timestamp, channelName(c.Archive.Channel), c.Scale, c.Y, c.X)
}

// TileCoord uniquely identifies one 256x256 tile a viewer can request.
type TileCoord struct {
	Dataset   string
	Timestamp string
	Channel   int
	Scale     int
	X, Y      uint32
}

// ArchiveKey returns the archive this tile coordinate is read from.
func (t TileCoord) ArchiveKey() ArchiveKey {
	return ArchiveKey{Dataset: t.Dataset, Timestamp: t.Timestamp, Channel: t.Channel}
}

// ChunkKey returns the chunk this tile coordinate maps to. Tiles and
// chunks are 1:1 at a given scale.
func (t TileCoord) ChunkKey() ChunkKey {
	return ChunkKey{Archive: t.ArchiveKey(), Scale: t.Scale, X: t.X, Y: t.Y}
}

func channelName(channel int) string {
	if name, ok := ChannelName[channel]; ok {
		return name
	}
	return fmt.Sprintf("channel_%d", channel)
}

// URLLease is a short-lived signed URL plus its absolute expiry.
type URLLease struct {
	URL    string
	Expiry time.Time
}

// remaining returns how much longer the lease is valid, relative to now.
func (l URLLease) remaining(now time.Time) time.Duration {
	return l.Expiry.Sub(now)
}

// Color is an 8-bit-per-channel RGB color used to tint a fluorescence
// overlay.
type Color struct {
	R, G, B uint8
}

// Threshold is a pair of percentiles in [0, 100] used for intensity
// rescaling before CLAHE.
type Threshold struct {
	Low, High float64
}

// DefaultThreshold is the percentile pair rescale_intensity falls back to.
var DefaultThreshold = Threshold{Low: 2, High: 98}

// ChannelSettings carries the per-channel visual adjustments a viewer may
// request. The zero value is not valid on its own; use DefaultChannelSettings.
type ChannelSettings struct {
	Contrast   float64
	Brightness float64
	Threshold  Threshold
	Color      Color
}

// DefaultChannelSettings returns the settings documented in spec.md §4.G
// for the given channel: brightfield has no color, fluorescence channels
// take their registered default tint.
func DefaultChannelSettings(channel int) ChannelSettings {
	return ChannelSettings{
		Contrast:   0.03,
		Brightness: 1.0,
		Threshold:  DefaultThreshold,
		Color:      DefaultChannelColor[channel],
	}
}

// IsDefault reports whether s is bit-for-bit the default settings for its
// channel, used to select the Compositor's fast path.
func (s ChannelSettings) IsDefault(channel int) bool {
	d := DefaultChannelSettings(channel)
	return s.Contrast == d.Contrast &&
		s.Brightness == d.Brightness &&
		s.Threshold == d.Threshold &&
		s.Color == d.Color
}

// ChannelInput is one channel's raw decoded chunk paired with the
// settings to render it with.
type ChannelInput struct {
	Channel  int
	Pixels   []byte // ChunkSize*ChunkSize, row-major, grayscale
	Settings ChannelSettings
}

// PriorityJob is one unit of scheduled tile work. Lower Priority is
// serviced first; ties are broken by ascending Sequence to preserve FIFO
// order within a priority class.
type PriorityJob struct {
	Priority int
	Tile     TileCoord
	Sequence uint64
}

// Config gathers every knob the core takes at startup. There are no
// environment variables or persisted settings; everything arrives here.
type Config struct {
	SafetyMargin         time.Duration
	DefaultURLExpiry     time.Duration
	ByteCacheCapacity    int
	WorkerCount          int
	RegistryIdleTTL      time.Duration
	UseDirectChunkPath   bool
	NetworkOpTimeout     time.Duration
	GetTileTimeout       time.Duration
	GetMergedTileTimeout time.Duration
	HealthTimeout        time.Duration

	// HealthCheckArchive names the archive the health probe opens and
	// reads chunk (scale=0, y=0, x=0) from, per spec.md §4.H.
	HealthCheckArchive ArchiveKey
}

// DefaultConfig returns the configuration documented throughout spec.md.
func DefaultConfig() Config {
	return Config{
		SafetyMargin:         DefaultSafetyMargin,
		DefaultURLExpiry:     DefaultURLExpiry,
		ByteCacheCapacity:    DefaultByteCacheCapacity,
		WorkerCount:          0, // 0 means "let the scheduler pick min(16, 2*NumCPU)"
		RegistryIdleTTL:      DefaultRegistryIdleTTL,
		UseDirectChunkPath:   false,
		NetworkOpTimeout:     NetworkOpTimeout,
		GetTileTimeout:       GetTileTimeout,
		GetMergedTileTimeout: GetMergedTileTimeout,
		HealthTimeout:        HealthTimeout,
	}
}
