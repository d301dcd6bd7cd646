package transforms

import (
	"math"
	"testing"
)

func TestVolumeCloneIsIndependent(t *testing.T) {
	v := NewVolume(2, 2, 2)
	v.Data[0] = 1
	c := v.Clone()
	c.Data[0] = 5
	c.Shape[0] = 9
	if v.Data[0] != 1 {
		t.Fatalf("clone shares data with original")
	}
	if v.Shape[0] != 2 {
		t.Fatalf("clone shares shape with original")
	}
}

func TestVolumeChannelsAndSpatial(t *testing.T) {
	v3 := NewVolume(4, 5, 6)
	if v3.Channels() != 1 {
		t.Fatalf("3D volume should report 1 channel, got %d", v3.Channels())
	}
	z, y, x := v3.Spatial()
	if z != 4 || y != 5 || x != 6 {
		t.Fatalf("unexpected spatial extents %d %d %d", z, y, x)
	}

	v4 := NewVolume(3, 4, 5, 6)
	if v4.Channels() != 3 {
		t.Fatalf("4D volume should report 3 channels, got %d", v4.Channels())
	}
	z, y, x = v4.Spatial()
	if z != 4 || y != 5 || x != 6 {
		t.Fatalf("unexpected spatial extents %d %d %d", z, y, x)
	}
	if len(v4.channel(1)) != 4*5*6 {
		t.Fatalf("channel slice has %d elements", len(v4.channel(1)))
	}
}

func TestVolumeStats(t *testing.T) {
	v := &Volume{Data: []float32{1, 2, 3, 4}, Shape: []int{1, 1, 4}}
	if v.Min() != 1 || v.Max() != 4 {
		t.Fatalf("min/max = %v/%v", v.Min(), v.Max())
	}
	if v.Mean() != 2.5 {
		t.Fatalf("mean = %v", v.Mean())
	}
	want := math.Sqrt(1.25)
	if math.Abs(v.Std()-want) > 1e-9 {
		t.Fatalf("std = %v, want %v", v.Std(), want)
	}
}

func TestVolumeUniqueSorted(t *testing.T) {
	v := &Volume{Data: []float32{3, 0, 1, 0, 3, 1}, Shape: []int{1, 2, 3}}
	got := v.Unique()
	want := []float32{0, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("unique = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unique = %v, want %v", got, want)
		}
	}
}

func TestVolumeValidate(t *testing.T) {
	v := &Volume{Data: make([]float32, 8), Shape: []int{2, 2, 2}}
	if err := v.validate(); err != nil {
		t.Fatalf("valid volume rejected: %v", err)
	}
	bad := &Volume{Data: make([]float32, 7), Shape: []int{2, 2, 2}}
	if err := bad.validate(); err == nil {
		t.Fatal("mismatched data length accepted")
	}
	bad2 := &Volume{Data: make([]float32, 4), Shape: []int{2, 2}}
	if err := bad2.validate(); err == nil {
		t.Fatal("2D shape accepted")
	}
}
