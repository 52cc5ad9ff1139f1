package modules

import "time"

// Consts that are required by multiple components.
const (
	// ChunkSize is the fixed edge length of a tile/chunk. Every cached
	// chunk and every tile served to a client is exactly ChunkSize by
	// ChunkSize pixels.
	ChunkSize = 256

	// MaxScale is the highest precomputed downsample level an archive may
	// contain. scale0 is full resolution; scaleK is 2^K downsampled.
	MaxScale = 12

	// MaxChannelsPerTile bounds how many channels a merged-tile request
	// may combine in one response.
	MaxChannelsPerTile = 5

	// DefaultSafetyMargin is the minimum remaining lifetime a URL lease
	// must have before it is handed to a caller; leases closer to expiry
	// than this are refreshed first.
	DefaultSafetyMargin = 300 * time.Second

	// DefaultURLExpiry is assumed when a signed URL's query string can't
	// be parsed for X-Amz-Date/X-Amz-Expires.
	DefaultURLExpiry = time.Hour

	// DefaultByteCacheCapacity is the byte cache's default ceiling.
	DefaultByteCacheCapacity = 256 << 20 // 256 MiB

	// DefaultPriority is used for requests that don't specify one.
	// Lower values are serviced first; viewers should pass something
	// lower for visible tiles and something higher for prefetch.
	DefaultPriority = 10

	// DefaultRegistryIdleTTL bounds how long an archive key's lease is
	// kept once nothing has asked for it, per spec.md's "acceptable: at
	// most a few hundred live K" bound.
	DefaultRegistryIdleTTL = time.Hour

	// NetworkOpTimeout bounds a single chunk-store network request (one
	// ranged GET against an archive, or one direct chunk GET). The
	// registry's lease refresh call to the collaborator is not bounded by
	// it; only the caller's context limits that call.
	NetworkOpTimeout = 50 * time.Second

	// GetTileTimeout bounds a full single-channel tile request.
	GetTileTimeout = 60 * time.Second

	// GetMergedTileTimeout bounds a full multi-channel tile request.
	GetMergedTileTimeout = 120 * time.Second

	// HealthTimeout bounds the health probe.
	HealthTimeout = 50 * time.Second
)

// ChannelName maps the fixed channel-key vocabulary to its archive member
// name. Channel 0 is the brightfield base; 11-14 are fluorescence
// overlays.
var ChannelName = map[int]string{
	0:  "BF_LED_matrix_full",
	11: "Fluorescence_405_nm_Ex",
	12: "Fluorescence_488_nm_Ex",
	13: "Fluorescence_638_nm_Ex",
	14: "Fluorescence_561_nm_Ex",
}

// DefaultChannelColor gives the fluorescence overlay color for a channel
// that doesn't specify one explicitly. Brightfield (0) has no color; it
// is always rendered as a gray base layer.
var DefaultChannelColor = map[int]Color{
	11: {153, 85, 255}, // violet
	12: {34, 255, 34},  // green
	13: {255, 0, 0},    // deep red
	14: {255, 85, 85},  // red-orange
}

// BrightfieldChannel is the channel key treated as the grayscale base
// layer rather than a colorized fluorescence overlay.
const BrightfieldChannel = 0
