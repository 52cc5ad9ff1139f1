package compositor

import "math"

// claheTiles is the grid CLAHE divides an image into along each axis,
// matching skimage.exposure.equalize_adapthist's default kernel_size of
// image_shape/8.
const claheTiles = 8

// clahe applies contrast-limited adaptive histogram equalization to a
// width*height grayscale image, with clipLimit in [0, 1] analogous to
// skimage's clip_limit. Hand-rolled per DESIGN.md's justification (no
// pack or ecosystem CLAHE-for-Go library was found); the algorithm is the
// textbook tile-histogram-clip-redistribute-then-bilinearly-interpolate
// approach skimage itself implements in C.
func clahe(src []byte, width, height int, clipLimit float64) []byte {
	tilesX, tilesY := claheTiles, claheTiles
	tileW := (width + tilesX - 1) / tilesX
	tileH := (height + tilesY - 1) / tilesY

	// mappings[ty][tx] is the 256-entry equalization lookup table for
	// tile (tx, ty).
	mappings := make([][][256]byte, tilesY)
	for ty := 0; ty < tilesY; ty++ {
		mappings[ty] = make([][256]byte, tilesX)
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := minInt(x0+tileW, width), minInt(y0+tileH, height)
			mappings[ty][tx] = buildTileMapping(src, width, x0, y0, x1, y1, clipLimit)
		}
	}

	out := make([]byte, len(src))
	for y := 0; y < height; y++ {
		// Tile-center-relative position for bilinear interpolation
		// between the four nearest tile mappings.
		fty := float64(y)/float64(tileH) - 0.5
		ty0 := clampInt(int(math.Floor(fty)), 0, tilesY-1)
		ty1 := clampInt(ty0+1, 0, tilesY-1)
		wy := fty - math.Floor(fty)
		if fty < 0 {
			wy = 0
		}

		for x := 0; x < width; x++ {
			ftx := float64(x)/float64(tileW) - 0.5
			tx0 := clampInt(int(math.Floor(ftx)), 0, tilesX-1)
			tx1 := clampInt(tx0+1, 0, tilesX-1)
			wx := ftx - math.Floor(ftx)
			if ftx < 0 {
				wx = 0
			}

			v := src[y*width+x]
			v00 := float64(mappings[ty0][tx0][v])
			v01 := float64(mappings[ty0][tx1][v])
			v10 := float64(mappings[ty1][tx0][v])
			v11 := float64(mappings[ty1][tx1][v])

			top := v00*(1-wx) + v01*wx
			bottom := v10*(1-wx) + v11*wx
			out[y*width+x] = clampToByte(top*(1-wy) + bottom*wy)
		}
	}
	return out
}

// buildTileMapping computes the clipped-histogram-equalization lookup
// table for the sub-rectangle [x0,x1)x[y0,y1) of src (stride width).
func buildTileMapping(src []byte, width, x0, y0, x1, y1 int, clipLimit float64) [256]byte {
	var hist [256]int
	pixelCount := 0
	for y := y0; y < y1; y++ {
		row := y * width
		for x := x0; x < x1; x++ {
			hist[src[row+x]]++
			pixelCount++
		}
	}
	if pixelCount == 0 {
		var identity [256]byte
		for i := range identity {
			identity[i] = byte(i)
		}
		return identity
	}

	clipCount := int(clipLimit * float64(pixelCount) / 256.0)
	if clipCount < 1 {
		clipCount = 1
	}

	excess := 0
	for i, c := range hist {
		if c > clipCount {
			excess += c - clipCount
			hist[i] = clipCount
		}
	}
	redistribute := excess / 256
	remainder := excess % 256
	for i := range hist {
		hist[i] += redistribute
		if i < remainder {
			hist[i]++
		}
	}

	var mapping [256]byte
	cdf := 0
	for i, c := range hist {
		cdf += c
		mapping[i] = clampToByte(float64(cdf) * 255.0 / float64(pixelCount))
	}
	return mapping
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
