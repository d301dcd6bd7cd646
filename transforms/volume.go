package transforms

import (
	"fmt"
	"math"
	"sort"
)

// Volume is a dense float32 image or label volume. Shape is either
// [Z, Y, X] straight from the loader or [C, Z, Y, X] once
// EnsureChannelFirstd ran; Data is laid out with x the fastest varying
// axis, matching the on-disk NIfTI order. Spacing holds the voxel size
// along X, Y, Z.
type Volume struct {
	Data    []float32
	Shape   []int
	Spacing [3]float64
}

// NewVolume allocates a zero volume with the given shape.
func NewVolume(shape ...int) *Volume {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Volume{
		Data:    make([]float32, n),
		Shape:   append([]int(nil), shape...),
		Spacing: [3]float64{1, 1, 1},
	}
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	out := &Volume{
		Data:    make([]float32, len(v.Data)),
		Shape:   append([]int(nil), v.Shape...),
		Spacing: v.Spacing,
	}
	copy(out.Data, v.Data)
	return out
}

// NumElems returns the number of voxels across all channels.
func (v *Volume) NumElems() int {
	n := 1
	for _, d := range v.Shape {
		n *= d
	}
	return n
}

// Channels returns the channel count (1 for channel-less volumes).
func (v *Volume) Channels() int {
	if len(v.Shape) == 4 {
		return v.Shape[0]
	}
	return 1
}

// Spatial returns the Z, Y, X extents.
func (v *Volume) Spatial() (z, y, x int) {
	s := v.Shape
	if len(s) == 4 {
		s = s[1:]
	}
	return s[0], s[1], s[2]
}

// channel returns the sub-slice holding channel c.
func (v *Volume) channel(c int) []float32 {
	z, y, x := v.Spatial()
	n := z * y * x
	return v.Data[c*n : (c+1)*n]
}

func (v *Volume) validate() error {
	if len(v.Shape) != 3 && len(v.Shape) != 4 {
		return fmt.Errorf("volume must be 3D or channel-first 4D, got shape %v", v.Shape)
	}
	if len(v.Data) != v.NumElems() {
		return fmt.Errorf("volume data length %d does not match shape %v", len(v.Data), v.Shape)
	}
	return nil
}

// Min returns the smallest voxel value.
func (v *Volume) Min() float32 {
	m := float32(math.Inf(1))
	for _, x := range v.Data {
		if x < m {
			m = x
		}
	}
	return m
}

// Max returns the largest voxel value.
func (v *Volume) Max() float32 {
	m := float32(math.Inf(-1))
	for _, x := range v.Data {
		if x > m {
			m = x
		}
	}
	return m
}

// Mean returns the mean voxel value.
func (v *Volume) Mean() float64 {
	if len(v.Data) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v.Data {
		sum += float64(x)
	}
	return sum / float64(len(v.Data))
}

// Std returns the population standard deviation of the voxel values.
func (v *Volume) Std() float64 {
	if len(v.Data) == 0 {
		return 0
	}
	mean := v.Mean()
	var sum float64
	for _, x := range v.Data {
		d := float64(x) - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v.Data)))
}

// Unique returns the sorted distinct voxel values. Intended for label
// volumes with a handful of classes; do not call on raw images.
func (v *Volume) Unique() []float32 {
	set := map[float32]bool{}
	for _, x := range v.Data {
		set[x] = true
	}
	out := make([]float32, 0, len(set))
	for x := range set {
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
