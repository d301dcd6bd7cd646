package nifti

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
)

func gradientImage() *Image {
	img := &Image{
		Dims:    [3]int{4, 3, 2},
		Spacing: [3]float64{1.5, 1.5, 3.0},
	}
	img.Data = make([]float32, img.Len())
	for i := range img.Data {
		img.Data[i] = float32(i) * 0.5
	}
	return img
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"vol.nii", "vol.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			img := gradientImage()
			path := filepath.Join(t.TempDir(), name)
			if err := Write(path, img); err != nil {
				t.Fatal(err)
			}
			got, err := Read(path)
			if err != nil {
				t.Fatal(err)
			}
			if got.Dims != img.Dims {
				t.Fatalf("dims = %v, want %v", got.Dims, img.Dims)
			}
			if got.Spacing != img.Spacing {
				t.Fatalf("spacing = %v, want %v", got.Spacing, img.Spacing)
			}
			for i := range img.Data {
				if got.Data[i] != img.Data[i] {
					t.Fatalf("voxel %d = %v, want %v", i, got.Data[i], img.Data[i])
				}
			}
		})
	}
}

func TestAtIndexing(t *testing.T) {
	img := gradientImage()
	// x fastest varying: (x, y, z) -> (z*Y + y)*X + x
	if img.At(1, 0, 0) != img.Data[1] {
		t.Fatal("x is not the fastest varying axis")
	}
	if img.At(0, 1, 0) != img.Data[4] {
		t.Fatal("y stride wrong")
	}
	if img.At(0, 0, 1) != img.Data[12] {
		t.Fatal("z stride wrong")
	}
}

// encodeWith writes a header and raw voxel payload for decoder tests.
func encodeWith(t *testing.T, order binary.ByteOrder, mutate func(*header), payload []byte) []byte {
	t.Helper()
	hdr := header{
		SizeofHdr: headerSize,
		Datatype:  typeFloat32,
		Bitpix:    32,
		VoxOffset: headerSize + 4,
		SclSlope:  1,
	}
	hdr.Dim[0] = 3
	hdr.Dim[1], hdr.Dim[2], hdr.Dim[3] = 2, 1, 1
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	hdr.Pixdim[1], hdr.Pixdim[2], hdr.Pixdim[3] = 1, 1, 1
	copy(hdr.Magic[:], magicN1)
	if mutate != nil {
		mutate(&hdr)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, order, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(payload)
	return buf.Bytes()
}

func TestDecodeBigEndian(t *testing.T) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:], math.Float32bits(1.5))
	binary.BigEndian.PutUint32(payload[4:], math.Float32bits(-2))

	img, err := Decode(bytes.NewReader(encodeWith(t, binary.BigEndian, nil, payload)))
	if err != nil {
		t.Fatal(err)
	}
	if img.Data[0] != 1.5 || img.Data[1] != -2 {
		t.Fatalf("data = %v", img.Data)
	}
}

func TestDecodeInt16WithScaling(t *testing.T) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:], uint16(int16(100)))
	neg := int16(-50)
	binary.LittleEndian.PutUint16(payload[2:], uint16(neg))

	raw := encodeWith(t, binary.LittleEndian, func(h *header) {
		h.Datatype = typeInt16
		h.Bitpix = 16
		h.SclSlope = 2
		h.SclInter = 10
	}, payload)

	img, err := Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if img.Data[0] != 210 || img.Data[1] != -90 {
		t.Fatalf("data = %v, want [210 -90]", img.Data)
	}
}

func TestDecodeUint8(t *testing.T) {
	raw := encodeWith(t, binary.LittleEndian, func(h *header) {
		h.Datatype = typeUint8
		h.Bitpix = 8
	}, []byte{0, 255})
	img, err := Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if img.Data[0] != 0 || img.Data[1] != 255 {
		t.Fatalf("data = %v", img.Data)
	}
}

func TestDecodeTrailingSingletonTimeDim(t *testing.T) {
	payload := make([]byte, 8)
	raw := encodeWith(t, binary.LittleEndian, func(h *header) {
		h.Dim[0] = 4
		h.Dim[4] = 1
	}, payload)
	if _, err := Decode(bytes.NewReader(raw)); err != nil {
		t.Fatalf("4D volume with one timepoint rejected: %v", err)
	}
}

func TestDecodeRejectsMultiTimepoint(t *testing.T) {
	raw := encodeWith(t, binary.LittleEndian, func(h *header) {
		h.Dim[0] = 4
		h.Dim[4] = 3
	}, make([]byte, 24))
	if _, err := Decode(bytes.NewReader(raw)); err == nil {
		t.Fatal("multi-timepoint volume accepted")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := encodeWith(t, binary.LittleEndian, func(h *header) {
		copy(h.Magic[:], "ni1\x00") // two-file form
	}, make([]byte, 8))
	if _, err := Decode(bytes.NewReader(raw)); err == nil {
		t.Fatal("two-file magic accepted")
	}
}

func TestDecodeRejectsUnknownDatatype(t *testing.T) {
	raw := encodeWith(t, binary.LittleEndian, func(h *header) {
		h.Datatype = 1536 // complex128
	}, make([]byte, 8))
	if _, err := Decode(bytes.NewReader(raw)); err == nil {
		t.Fatal("unsupported datatype accepted")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	raw := make([]byte, headerSize+16)
	for i := range raw {
		raw[i] = byte(i)
	}
	if _, err := Decode(bytes.NewReader(raw)); err == nil {
		t.Fatal("garbage header accepted")
	}
}

func TestWriteRejectsLengthMismatch(t *testing.T) {
	img := gradientImage()
	img.Data = img.Data[:3]
	if err := Write(filepath.Join(t.TempDir(), "bad.nii"), img); err == nil {
		t.Fatal("mismatched data length accepted")
	}
}
