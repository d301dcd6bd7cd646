package transforms

import "math"

// Interpolation modes for resampling. Label volumes must use ModeNearest:
// smooth interpolation silently invents intermediate label values.
const (
	ModeNearest  = "nearest"
	ModeBilinear = "bilinear"
	ModeArea     = "area"
)

func smoothMode(mode string) bool {
	return mode != ModeNearest
}

// resample interpolates every channel of v to the target spatial extents.
// Output coordinates map to input coordinates with the usual half-voxel
// offset so volumes keep their physical center.
func resample(v *Volume, outZ, outY, outX int, mode string) *Volume {
	inZ, inY, inX := v.Spatial()
	if inZ == outZ && inY == outY && inX == outX {
		return v.Clone()
	}

	channels := v.Channels()
	shape := []int{outZ, outY, outX}
	if len(v.Shape) == 4 {
		shape = []int{channels, outZ, outY, outX}
	}
	out := NewVolume(shape...)
	out.Spacing = v.Spacing

	scaleZ := float64(inZ) / float64(outZ)
	scaleY := float64(inY) / float64(outY)
	scaleX := float64(inX) / float64(outX)

	for c := 0; c < channels; c++ {
		src := v.channel(c)
		dst := out.channel(c)
		i := 0
		for z := 0; z < outZ; z++ {
			sz := (float64(z)+0.5)*scaleZ - 0.5
			for y := 0; y < outY; y++ {
				sy := (float64(y)+0.5)*scaleY - 0.5
				for x := 0; x < outX; x++ {
					sx := (float64(x)+0.5)*scaleX - 0.5
					if smoothMode(mode) {
						dst[i] = trilinear(src, inZ, inY, inX, sz, sy, sx)
					} else {
						dst[i] = nearest(src, inZ, inY, inX, sz, sy, sx)
					}
					i++
				}
			}
		}
	}
	return out
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

func nearest(src []float32, nz, ny, nx int, z, y, x float64) float32 {
	zi := clampInt(int(math.Round(z)), 0, nz-1)
	yi := clampInt(int(math.Round(y)), 0, ny-1)
	xi := clampInt(int(math.Round(x)), 0, nx-1)
	return src[(zi*ny+yi)*nx+xi]
}

func trilinear(src []float32, nz, ny, nx int, z, y, x float64) float32 {
	z0 := int(math.Floor(z))
	y0 := int(math.Floor(y))
	x0 := int(math.Floor(x))
	fz := z - float64(z0)
	fy := y - float64(y0)
	fx := x - float64(x0)

	z0c := clampInt(z0, 0, nz-1)
	z1c := clampInt(z0+1, 0, nz-1)
	y0c := clampInt(y0, 0, ny-1)
	y1c := clampInt(y0+1, 0, ny-1)
	x0c := clampInt(x0, 0, nx-1)
	x1c := clampInt(x0+1, 0, nx-1)

	at := func(zi, yi, xi int) float64 {
		return float64(src[(zi*ny+yi)*nx+xi])
	}

	c00 := at(z0c, y0c, x0c)*(1-fx) + at(z0c, y0c, x1c)*fx
	c01 := at(z0c, y1c, x0c)*(1-fx) + at(z0c, y1c, x1c)*fx
	c10 := at(z1c, y0c, x0c)*(1-fx) + at(z1c, y0c, x1c)*fx
	c11 := at(z1c, y1c, x0c)*(1-fx) + at(z1c, y1c, x1c)*fx

	c0 := c00*(1-fy) + c01*fy
	c1 := c10*(1-fy) + c11*fy

	return float32(c0*(1-fz) + c1*fz)
}
