package transforms

import (
	"fmt"
	"math"
	"math/rand"
)

// Random transforms draw from an explicitly seeded *rand.Rand handed in by
// the pipeline builder. Construction never draws; all randomness happens per
// record in Apply. One draw decides application for the whole record, so all
// keys stay aligned.

// RandFlipd flips all keys along the configured spatial axes with
// probability Prob.
type RandFlipd struct {
	Keys        []string
	Prob        float64
	SpatialAxes []int // 0=Z 1=Y 2=X
	Rand        *rand.Rand
}

func (t *RandFlipd) Name() string { return "RandFlipd" }

func (t *RandFlipd) Apply(rec *Record) error {
	if t.Rand.Float64() >= t.Prob {
		return nil
	}
	axes := t.SpatialAxes
	if len(axes) == 0 {
		axes = []int{0, 1, 2}
	}
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		for _, axis := range axes {
			if axis < 0 || axis > 2 {
				return fmt.Errorf("spatial axis %d out of range", axis)
			}
			flipAxis(v, axis)
		}
	}
	return nil
}

func flipAxis(v *Volume, axis int) {
	z, y, x := v.Spatial()
	n := z * y * x
	for c := 0; c < v.Channels(); c++ {
		src := v.Data[c*n : (c+1)*n]
		for zi := 0; zi < z; zi++ {
			for yi := 0; yi < y; yi++ {
				for xi := 0; xi < x; xi++ {
					mz, my, mx := zi, yi, xi
					switch axis {
					case 0:
						mz = z - 1 - zi
						if mz <= zi {
							continue
						}
					case 1:
						my = y - 1 - yi
						if my <= yi {
							continue
						}
					default:
						mx = x - 1 - xi
						if mx <= xi {
							continue
						}
					}
					i := (zi*y+yi)*x + xi
					j := (mz*y+my)*x + mx
					src[i], src[j] = src[j], src[i]
				}
			}
		}
	}
}

// RandRotate90d rotates all keys by a random multiple of 90 degrees in the
// plane of the two configured spatial axes.
type RandRotate90d struct {
	Keys []string
	Prob float64
	MaxK int
	Axes [2]int
	Rand *rand.Rand
}

func (t *RandRotate90d) Name() string { return "RandRotate90d" }

func (t *RandRotate90d) Apply(rec *Record) error {
	if t.Rand.Float64() >= t.Prob {
		return nil
	}
	maxK := t.MaxK
	if maxK <= 0 {
		maxK = 3
	}
	k := t.Rand.Intn(maxK) + 1
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		for i := 0; i < k; i++ {
			v = rotate90(v, t.Axes[0], t.Axes[1])
		}
		rec.Set(key, v)
	}
	return nil
}

// rotate90 rotates one quarter turn from spatial axis a toward axis b.
func rotate90(v *Volume, a, b int) *Volume {
	dims := [3]int{}
	dims[0], dims[1], dims[2] = v.Spatial()

	outDims := dims
	outDims[a], outDims[b] = dims[b], dims[a]

	shape := []int{outDims[0], outDims[1], outDims[2]}
	if len(v.Shape) == 4 {
		shape = append([]int{v.Channels()}, shape...)
	}
	out := NewVolume(shape...)
	out.Spacing = v.Spacing

	n := dims[0] * dims[1] * dims[2]
	for c := 0; c < v.Channels(); c++ {
		src := v.Data[c*n : (c+1)*n]
		dst := out.Data[c*n : (c+1)*n]
		var q [3]int
		for q[0] = 0; q[0] < outDims[0]; q[0]++ {
			for q[1] = 0; q[1] < outDims[1]; q[1]++ {
				for q[2] = 0; q[2] < outDims[2]; q[2]++ {
					p := q
					p[a] = q[b]
					p[b] = dims[b] - 1 - q[a]
					dst[(q[0]*outDims[1]+q[1])*outDims[2]+q[2]] =
						src[(p[0]*dims[1]+p[1])*dims[2]+p[2]]
				}
			}
		}
	}
	return out
}

// RandZoomd zooms all keys by one random factor, then center-crops or
// zero-pads back to the original extents so shapes stay stable. Modes is
// parallel to Keys; label columns must stay nearest.
type RandZoomd struct {
	Keys    []string
	Modes   []string
	Prob    float64
	MinZoom float64
	MaxZoom float64
	Rand    *rand.Rand
}

func (t *RandZoomd) Name() string { return "RandZoomd" }

func (t *RandZoomd) Apply(rec *Record) error {
	if t.Rand.Float64() >= t.Prob {
		return nil
	}
	if len(t.Modes) != len(t.Keys) {
		return fmt.Errorf("got %d modes for %d keys", len(t.Modes), len(t.Keys))
	}
	minZoom, maxZoom := t.MinZoom, t.MaxZoom
	if minZoom == 0 {
		minZoom = 0.9
	}
	if maxZoom == 0 {
		maxZoom = 1.1
	}
	zoom := minZoom + t.Rand.Float64()*(maxZoom-minZoom)

	for i, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		z, y, x := v.Spatial()
		zz := max(1, int(float64(z)*zoom+0.5))
		zy := max(1, int(float64(y)*zoom+0.5))
		zx := max(1, int(float64(x)*zoom+0.5))
		zoomed := resample(v, zz, zy, zx, t.Modes[i])
		rec.Set(key, fitTo(zoomed, z, y, x))
	}
	return nil
}

// fitTo center-crops or zero-pads v to the target spatial extents.
func fitTo(v *Volume, tz, ty, tx int) *Volume {
	z, y, x := v.Spatial()
	if z == tz && y == ty && x == tx {
		return v
	}
	shape := []int{tz, ty, tx}
	if len(v.Shape) == 4 {
		shape = append([]int{v.Channels()}, shape...)
	}
	out := NewVolume(shape...)
	out.Spacing = v.Spacing

	// source and destination offsets per axis
	offset := func(src, dst int) (int, int, int) {
		if src >= dst {
			return (src - dst) / 2, 0, dst
		}
		return 0, (dst - src) / 2, src
	}
	sz, dz, nz := offset(z, tz)
	sy, dy, ny := offset(y, ty)
	sx, dx, nx := offset(x, tx)

	for c := 0; c < v.Channels(); c++ {
		src := v.channel(c)
		dst := out.channel(c)
		for zi := 0; zi < nz; zi++ {
			for yi := 0; yi < ny; yi++ {
				srcRow := ((sz+zi)*y+sy+yi)*x + sx
				dstRow := ((dz+zi)*ty+dy+yi)*tx + dx
				copy(dst[dstRow:dstRow+nx], src[srcRow:srcRow+nx])
			}
		}
	}
	return out
}

// RandSpatialCropd crops all keys to ROISize at one random position. The
// ROI clamps to the volume extents.
type RandSpatialCropd struct {
	Keys    []string
	ROISize []int // Z, Y, X
	Rand    *rand.Rand
}

func (t *RandSpatialCropd) Name() string { return "RandSpatialCropd" }

func (t *RandSpatialCropd) Apply(rec *Record) error {
	if len(t.ROISize) != 3 {
		return fmt.Errorf("roi_size must have 3 entries, got %d", len(t.ROISize))
	}
	var b box
	first := true
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		if first {
			z, y, x := v.Spatial()
			rz := min(t.ROISize[0], z)
			ry := min(t.ROISize[1], y)
			rx := min(t.ROISize[2], x)
			b.z0 = t.Rand.Intn(z - rz + 1)
			b.y0 = t.Rand.Intn(y - ry + 1)
			b.x0 = t.Rand.Intn(x - rx + 1)
			b.z1, b.y1, b.x1 = b.z0+rz, b.y0+ry, b.x0+rx
			first = false
		}
		rec.Set(key, cropBox(v, b))
	}
	return nil
}

// SpatialPadd zero-pads all keys symmetrically to at least SpatialSize.
type SpatialPadd struct {
	Keys        []string
	SpatialSize []int // Z, Y, X
}

func (t *SpatialPadd) Name() string { return "SpatialPadd" }

func (t *SpatialPadd) Apply(rec *Record) error {
	if len(t.SpatialSize) != 3 {
		return fmt.Errorf("spatial_size must have 3 entries, got %d", len(t.SpatialSize))
	}
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		z, y, x := v.Spatial()
		rec.Set(key, fitTo(v, max(z, t.SpatialSize[0]), max(y, t.SpatialSize[1]), max(x, t.SpatialSize[2])))
	}
	return nil
}

// RandShiftIntensityd adds one uniform offset from [-Offsets, Offsets] to
// all keys with probability Prob.
type RandShiftIntensityd struct {
	Keys    []string
	Prob    float64
	Offsets float64
	Rand    *rand.Rand
}

func (t *RandShiftIntensityd) Name() string { return "RandShiftIntensityd" }

func (t *RandShiftIntensityd) Apply(rec *Record) error {
	if t.Rand.Float64() >= t.Prob {
		return nil
	}
	shift := float32((t.Rand.Float64()*2 - 1) * t.Offsets)
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		for i := range v.Data {
			v.Data[i] += shift
		}
	}
	return nil
}

// RandScaleIntensityd multiplies all keys by 1 + f with f drawn uniformly
// from [-Factors, Factors].
type RandScaleIntensityd struct {
	Keys    []string
	Prob    float64
	Factors float64
	Rand    *rand.Rand
}

func (t *RandScaleIntensityd) Name() string { return "RandScaleIntensityd" }

func (t *RandScaleIntensityd) Apply(rec *Record) error {
	if t.Rand.Float64() >= t.Prob {
		return nil
	}
	scale := float32(1 + (t.Rand.Float64()*2-1)*t.Factors)
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		for i := range v.Data {
			v.Data[i] *= scale
		}
	}
	return nil
}

// RandGaussianNoised adds per-voxel gaussian noise to all keys.
type RandGaussianNoised struct {
	Keys []string
	Prob float64
	Mean float64
	Std  float64
	Rand *rand.Rand
}

func (t *RandGaussianNoised) Name() string { return "RandGaussianNoised" }

func (t *RandGaussianNoised) Apply(rec *Record) error {
	if t.Rand.Float64() >= t.Prob {
		return nil
	}
	std := t.Std
	if std == 0 {
		std = 0.1
	}
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		for i := range v.Data {
			v.Data[i] += float32(t.Rand.NormFloat64()*std + t.Mean)
		}
	}
	return nil
}

// RandAdjustContrastd applies gamma correction with gamma drawn uniformly
// from [GammaLow, GammaHigh], preserving each volume's value range.
type RandAdjustContrastd struct {
	Keys      []string
	Prob      float64
	GammaLow  float64
	GammaHigh float64
	Rand      *rand.Rand
}

func (t *RandAdjustContrastd) Name() string { return "RandAdjustContrastd" }

func (t *RandAdjustContrastd) Apply(rec *Record) error {
	if t.Rand.Float64() >= t.Prob {
		return nil
	}
	lo, hi := t.GammaLow, t.GammaHigh
	if lo == 0 && hi == 0 {
		lo, hi = 0.5, 4.5
	}
	gamma := lo + t.Rand.Float64()*(hi-lo)
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		vmin := float64(v.Min())
		span := float64(v.Max()) - vmin
		if span == 0 {
			continue
		}
		for i, x := range v.Data {
			v.Data[i] = float32(math.Pow((float64(x)-vmin)/span, gamma)*span + vmin)
		}
	}
	return nil
}
