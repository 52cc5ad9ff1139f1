// Package compositor implements the Compositor (spec.md §4.G): the
// per-channel brightness/contrast/threshold/color adjustment pipeline,
// screen-blend overlay compositing, and PNG encoding. A bit-identical
// fast path skips the adjustment pipeline entirely when every channel
// uses its default settings, matching spec.md's "return the input as
// grayscale PNG" requirement for the brightfield-only default case.
package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/cccoolll/agent-lens/modules"
)

// Compose renders channels into an encoded PNG, applying each channel's
// settings per spec.md §4.G's pipeline and screen-blending the results
// together. If channels is empty, a 256x256 black RGB PNG is returned.
func Compose(channels []modules.ChannelInput) ([]byte, error) {
	if len(channels) == 0 {
		return encodeBlack()
	}

	if allDefault(channels) {
		return composeFast(channels)
	}

	rgb := newAccumulator()
	for _, ch := range brightfieldFirst(channels) {
		adj := adjust(ch.Pixels, ch.Settings)
		blendChannel(rgb, ch.Channel, adj, ch.Settings.Color)
	}
	return encode(rgb)
}

// brightfieldFirst returns channels with the brightfield channel (if any)
// moved to the front, every other channel kept in its original relative
// order. get_merged_tile's input is an order-independent set of channel
// keys (spec.md §4.G/§9), and the brightfield channel must establish the
// gray base before any fluorescence overlay screen-blends onto it — so the
// blend result must not depend on the order the caller happened to list
// channels in.
func brightfieldFirst(channels []modules.ChannelInput) []modules.ChannelInput {
	out := make([]modules.ChannelInput, 0, len(channels))
	for _, ch := range channels {
		if ch.Channel == modules.BrightfieldChannel {
			out = append(out, ch)
		}
	}
	for _, ch := range channels {
		if ch.Channel != modules.BrightfieldChannel {
			out = append(out, ch)
		}
	}
	return out
}

// adjust runs the linear-scale → (optional) rescale+CLAHE pipeline for
// one channel, per spec.md §4.G steps 1-2.
func adjust(src []byte, settings modules.ChannelSettings) []byte {
	out := make([]byte, len(src))
	for i, v := range src {
		out[i] = clampToByte(float64(v) * settings.Brightness)
	}

	defaultThreshold := modules.DefaultThreshold
	contrastIsDefault := settings.Contrast == modules.DefaultChannelSettings(0).Contrast
	thresholdIsDefault := settings.Threshold == defaultThreshold
	if !contrastIsDefault || !thresholdIsDefault {
		out = rescaleIntensity(out, settings.Threshold.Low, settings.Threshold.High)
		out = clahe(out, modules.ChunkSize, modules.ChunkSize, settings.Contrast)
	}
	return out
}

// rgbAccumulator holds the in-progress composite in [0,1] floating-point
// per channel, matching spec.md §4.G's screen-blend arithmetic before the
// final clamp-and-scale-to-u8 step.
type rgbAccumulator struct {
	r, g, b  []float64
	hasBase  bool
}

func newAccumulator() *rgbAccumulator {
	n := modules.ChunkSize * modules.ChunkSize
	return &rgbAccumulator{r: make([]float64, n), g: make([]float64, n), b: make([]float64, n)}
}

// blendChannel folds one channel's adjusted pixels into acc, per
// spec.md §4.G steps 3-4: brightfield initializes the gray base, every
// other channel screen-blends (or, absent a base, takes the per-pixel
// max) its colorized layer on top.
func blendChannel(acc *rgbAccumulator, channel int, adj []byte, c modules.Color) {
	if channel == modules.BrightfieldChannel {
		for i, v := range adj {
			g := float64(v) / 255.0
			acc.r[i], acc.g[i], acc.b[i] = g, g, g
		}
		acc.hasBase = true
		return
	}

	cr, cg, cb := float64(c.R)/255.0, float64(c.G)/255.0, float64(c.B)/255.0
	for i, v := range adj {
		norm := float64(v) / 255.0
		lr, lg, lb := norm*cr, norm*cg, norm*cb
		if acc.hasBase {
			acc.r[i] = 1 - (1-acc.r[i])*(1-lr)
			acc.g[i] = 1 - (1-acc.g[i])*(1-lg)
			acc.b[i] = 1 - (1-acc.b[i])*(1-lb)
		} else {
			acc.r[i] = maxFloat(acc.r[i], lr)
			acc.g[i] = maxFloat(acc.g[i], lg)
			acc.b[i] = maxFloat(acc.b[i], lb)
		}
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// composeFast composes directly from raw u8 data using the same
// screen-blend rule, without running the linear/CLAHE pipeline. Required
// to be bit-identical to the general path's default-settings output.
func composeFast(channels []modules.ChannelInput) ([]byte, error) {
	acc := newAccumulator()
	for _, ch := range brightfieldFirst(channels) {
		blendChannel(acc, ch.Channel, ch.Pixels, ch.Settings.Color)
	}
	return encode(acc)
}

// allDefault reports whether every channel's settings are exactly its
// channel's documented defaults, selecting the fast path.
func allDefault(channels []modules.ChannelInput) bool {
	for _, ch := range channels {
		if !ch.Settings.IsDefault(ch.Channel) {
			return false
		}
	}
	return true
}

func encode(acc *rgbAccumulator) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, modules.ChunkSize, modules.ChunkSize))
	for y := 0; y < modules.ChunkSize; y++ {
		for x := 0; x < modules.ChunkSize; x++ {
			i := y*modules.ChunkSize + x
			img.Set(x, y, color.RGBA{
				R: clampToByte(acc.r[i] * 255.0),
				G: clampToByte(acc.g[i] * 255.0),
				B: clampToByte(acc.b[i] * 255.0),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeBlack() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, modules.ChunkSize, modules.ChunkSize))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
