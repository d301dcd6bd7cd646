package transforms

import (
	"fmt"

	"github.com/kbressem/ai-template/nifti"
)

// LoadImaged reads the NIfTI volume for every key from the record's source
// paths. Loaded volumes are 3D; EnsureChannelFirstd adds the channel axis.
type LoadImaged struct {
	Keys []string
}

func (t *LoadImaged) Name() string { return "LoadImaged" }

func (t *LoadImaged) Apply(rec *Record) error {
	for _, key := range t.Keys {
		path, ok := rec.Paths[key]
		if !ok {
			return fmt.Errorf("no source path for key %q", key)
		}
		img, err := nifti.Read(path)
		if err != nil {
			return err
		}
		v := &Volume{
			Data:    img.Data,
			Shape:   []int{img.Dims[2], img.Dims[1], img.Dims[0]},
			Spacing: img.Spacing,
		}
		rec.Set(key, v)
	}
	return nil
}

// EnsureChannelFirstd guarantees a leading channel dimension on every key.
type EnsureChannelFirstd struct {
	Keys []string
}

func (t *EnsureChannelFirstd) Name() string { return "EnsureChannelFirstd" }

func (t *EnsureChannelFirstd) Apply(rec *Record) error {
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		if err := v.validate(); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		if len(v.Shape) == 3 {
			v.Shape = append([]int{1}, v.Shape...)
		}
	}
	return nil
}

// Spacingd resamples every key to the target voxel spacing. Modes is
// parallel to Keys; image columns interpolate smoothly while label columns
// must use nearest so discrete values survive.
type Spacingd struct {
	Keys   []string
	Modes  []string
	Pixdim [3]float64 // target spacing along X, Y, Z
}

func (t *Spacingd) Name() string { return "Spacingd" }

func (t *Spacingd) Apply(rec *Record) error {
	if len(t.Modes) != len(t.Keys) {
		return fmt.Errorf("got %d modes for %d keys", len(t.Modes), len(t.Keys))
	}
	for i, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		z, y, x := v.Spatial()
		outX := scaledDim(x, v.Spacing[0], t.Pixdim[0])
		outY := scaledDim(y, v.Spacing[1], t.Pixdim[1])
		outZ := scaledDim(z, v.Spacing[2], t.Pixdim[2])
		out := resample(v, outZ, outY, outX, t.Modes[i])
		out.Spacing = t.Pixdim
		rec.Set(key, out)
	}
	return nil
}

func scaledDim(dim int, oldSpacing, newSpacing float64) int {
	out := int(float64(dim)*oldSpacing/newSpacing + 0.5)
	if out < 1 {
		out = 1
	}
	return out
}

// ScaleIntensityd linearly rescales each key into [Minv, Maxv]. Flat
// volumes map to Minv.
type ScaleIntensityd struct {
	Keys []string
	Minv float64
	Maxv float64
}

func (t *ScaleIntensityd) Name() string { return "ScaleIntensityd" }

func (t *ScaleIntensityd) Apply(rec *Record) error {
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		lo := float64(v.Min())
		hi := float64(v.Max())
		span := hi - lo
		for i, x := range v.Data {
			if span == 0 {
				v.Data[i] = float32(t.Minv)
				continue
			}
			v.Data[i] = float32((float64(x)-lo)/span*(t.Maxv-t.Minv) + t.Minv)
		}
	}
	return nil
}

// MapLabelValued remaps label values through the ordered
// (original, target) pairs from the config. Values without a pair pass
// through unchanged; an empty mapping is the identity.
type MapLabelValued struct {
	Keys         []string
	OrigLabels   []int
	TargetLabels []int
}

func (t *MapLabelValued) Name() string { return "MapLabelValued" }

func (t *MapLabelValued) Apply(rec *Record) error {
	if len(t.OrigLabels) != len(t.TargetLabels) {
		return fmt.Errorf("got %d original labels for %d targets", len(t.OrigLabels), len(t.TargetLabels))
	}
	mapping := make(map[float32]float32, len(t.OrigLabels))
	for i, o := range t.OrigLabels {
		mapping[float32(o)] = float32(t.TargetLabels[i])
	}
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		for i, x := range v.Data {
			if mapped, ok := mapping[x]; ok {
				v.Data[i] = mapped
			}
		}
	}
	return nil
}

// NormalizeIntensityd shifts each channel of each key to zero mean and unit
// variance. Constant channels become all zero.
type NormalizeIntensityd struct {
	Keys []string
}

func (t *NormalizeIntensityd) Name() string { return "NormalizeIntensityd" }

func (t *NormalizeIntensityd) Apply(rec *Record) error {
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		for c := 0; c < v.Channels(); c++ {
			ch := v.channel(c)
			sub := Volume{Data: ch, Shape: []int{len(ch)}}
			mean := sub.Mean()
			std := sub.Std()
			for i, x := range ch {
				if std == 0 {
					ch[i] = 0
					continue
				}
				ch[i] = float32((float64(x) - mean) / std)
			}
		}
	}
	return nil
}

// EnsureTyped verifies every key carries a well-formed volume. The original
// pipeline used this step to coerce arrays to tensors; here volumes already
// share one representation so only the shape contract is checked.
type EnsureTyped struct {
	Keys []string
}

func (t *EnsureTyped) Name() string { return "EnsureTyped" }

func (t *EnsureTyped) Apply(rec *Record) error {
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		if err := v.validate(); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

// ConcatItemsd concatenates the channel-first volumes under Keys along the
// channel axis and stores the result under To. Source keys stay in the
// record.
type ConcatItemsd struct {
	Keys []string
	To   string
}

func (t *ConcatItemsd) Name() string {
	return fmt.Sprintf("ConcatItemsd(%s)", t.To)
}

func (t *ConcatItemsd) Apply(rec *Record) error {
	if len(t.Keys) == 0 {
		return fmt.Errorf("no keys to concatenate")
	}
	var refZ, refY, refX int
	channels := 0
	for i, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		if len(v.Shape) != 4 {
			return fmt.Errorf("key %q is not channel-first (shape %v)", key, v.Shape)
		}
		z, y, x := v.Spatial()
		if i == 0 {
			refZ, refY, refX = z, y, x
		} else if z != refZ || y != refY || x != refX {
			return fmt.Errorf("key %q spatial shape [%d %d %d] does not match [%d %d %d]",
				key, z, y, x, refZ, refY, refX)
		}
		channels += v.Channels()
	}

	out := NewVolume(channels, refZ, refY, refX)
	off := 0
	for _, key := range t.Keys {
		v := rec.Volumes[key]
		copy(out.Data[off:], v.Data)
		off += len(v.Data)
		out.Spacing = v.Spacing
	}
	rec.Set(t.To, out)
	return nil
}

// CropForegroundd crops every key to the bounding box of the nonzero voxels
// in SourceKey, expanded by Margin voxels on every side and clamped to the
// volume. A source with no foreground leaves the record unchanged.
type CropForegroundd struct {
	Keys      []string
	SourceKey string
	Margin    int
}

func (t *CropForegroundd) Name() string { return "CropForegroundd" }

func (t *CropForegroundd) Apply(rec *Record) error {
	src, err := rec.Get(t.SourceKey)
	if err != nil {
		return err
	}
	box, ok := foregroundBox(src)
	if !ok {
		return nil
	}
	box = box.expand(t.Margin, src)

	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		z, y, x := v.Spatial()
		sz, sy, sx := src.Spatial()
		if z != sz || y != sy || x != sx {
			return fmt.Errorf("key %q spatial shape [%d %d %d] does not match source %q [%d %d %d]",
				key, z, y, x, t.SourceKey, sz, sy, sx)
		}
		rec.Set(key, cropBox(v, box))
	}
	return nil
}

type box struct {
	z0, z1, y0, y1, x0, x1 int // half-open
}

func (b box) expand(margin int, v *Volume) box {
	z, y, x := v.Spatial()
	return box{
		z0: max(0, b.z0-margin), z1: min(z, b.z1+margin),
		y0: max(0, b.y0-margin), y1: min(y, b.y1+margin),
		x0: max(0, b.x0-margin), x1: min(x, b.x1+margin),
	}
}

// foregroundBox scans the first channel of v for nonzero voxels.
func foregroundBox(v *Volume) (box, bool) {
	z, y, x := v.Spatial()
	src := v.channel(0)
	b := box{z0: z, z1: 0, y0: y, y1: 0, x0: x, x1: 0}
	found := false
	i := 0
	for zi := 0; zi < z; zi++ {
		for yi := 0; yi < y; yi++ {
			for xi := 0; xi < x; xi++ {
				if src[i] != 0 {
					found = true
					b.z0 = min(b.z0, zi)
					b.z1 = max(b.z1, zi+1)
					b.y0 = min(b.y0, yi)
					b.y1 = max(b.y1, yi+1)
					b.x0 = min(b.x0, xi)
					b.x1 = max(b.x1, xi+1)
				}
				i++
			}
		}
	}
	return b, found
}

func cropBox(v *Volume, b box) *Volume {
	_, y, x := v.Spatial()
	channels := v.Channels()
	outZ := b.z1 - b.z0
	outY := b.y1 - b.y0
	outX := b.x1 - b.x0

	shape := []int{outZ, outY, outX}
	if len(v.Shape) == 4 {
		shape = []int{channels, outZ, outY, outX}
	}
	out := NewVolume(shape...)
	out.Spacing = v.Spacing
	for c := 0; c < channels; c++ {
		src := v.channel(c)
		dst := out.channel(c)
		i := 0
		for zi := b.z0; zi < b.z1; zi++ {
			for yi := b.y0; yi < b.y1; yi++ {
				row := (zi*y + yi) * x
				copy(dst[i:i+outX], src[row+b.x0:row+b.x1])
				i += outX
			}
		}
	}
	return out
}

// AsDiscreted converts a key to discrete class maps: optional channel-wise
// arg-max followed by one-hot expansion to ToOnehot channels.
type AsDiscreted struct {
	Keys     []string
	Argmax   bool
	ToOnehot int
}

func (t *AsDiscreted) Name() string { return "AsDiscreted" }

func (t *AsDiscreted) Apply(rec *Record) error {
	for _, key := range t.Keys {
		v, err := rec.Get(key)
		if err != nil {
			return err
		}
		if t.Argmax {
			v = argmaxChannels(v)
		}
		if t.ToOnehot > 0 {
			if v.Channels() != 1 {
				return fmt.Errorf("key %q: one-hot needs a single channel, got %d", key, v.Channels())
			}
			v = oneHot(v, t.ToOnehot)
		}
		rec.Set(key, v)
	}
	return nil
}

// argmaxChannels collapses the channel axis to the index of the largest
// value per voxel.
func argmaxChannels(v *Volume) *Volume {
	z, y, x := v.Spatial()
	out := NewVolume(1, z, y, x)
	out.Spacing = v.Spacing
	n := z * y * x
	channels := v.Channels()
	for i := 0; i < n; i++ {
		best := 0
		bestVal := v.Data[i]
		for c := 1; c < channels; c++ {
			if val := v.Data[c*n+i]; val > bestVal {
				best = c
				bestVal = val
			}
		}
		out.Data[i] = float32(best)
	}
	return out
}

// oneHot expands a single-channel class map into classes channels. Values
// outside [0, classes) are left all zero.
func oneHot(v *Volume, classes int) *Volume {
	z, y, x := v.Spatial()
	out := NewVolume(classes, z, y, x)
	out.Spacing = v.Spacing
	n := z * y * x
	for i := 0; i < n; i++ {
		c := int(v.Data[i])
		if c >= 0 && c < classes && float32(c) == v.Data[i] {
			out.Data[c*n+i] = 1
		}
	}
	return out
}
