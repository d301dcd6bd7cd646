// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz). Only the subset needed for the segmentation pipeline is
// implemented: 3D volumes (a trailing singleton time dimension is accepted),
// the common scalar datatypes, scl_slope/scl_inter rescaling and voxel
// spacing from pixdim. Voxel data is always surfaced as float32 with x the
// fastest varying axis, as stored on disk.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

const (
	headerSize = 348
	magicN1    = "n+1"
)

// NIfTI-1 datatype codes.
const (
	typeUint8   = 2
	typeInt16   = 4
	typeInt32   = 8
	typeFloat32 = 16
	typeFloat64 = 64
	typeInt8    = 256
	typeUint16  = 512
)

// Image is a decoded volume. Data holds X*Y*Z voxels, x fastest.
type Image struct {
	Data    []float32
	Dims    [3]int     // X, Y, Z
	Spacing [3]float64 // voxel size along X, Y, Z
}

// Len returns the number of voxels.
func (img *Image) Len() int { return img.Dims[0] * img.Dims[1] * img.Dims[2] }

// At returns the voxel at (x, y, z) without bounds checking.
func (img *Image) At(x, y, z int) float32 {
	return img.Data[(z*img.Dims[1]+y)*img.Dims[0]+x]
}

type header struct {
	SizeofHdr    int32
	DataTypeName [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte
	Dim          [8]int16
	IntentP1     float32
	IntentP2     float32
	IntentP3     float32
	IntentCode   int16
	Datatype     int16
	Bitpix       int16
	SliceStart   int16
	Pixdim       [8]float32
	VoxOffset    float32
	SclSlope     float32
	SclInter     float32
	SliceEnd     int16
	SliceCode    byte
	XyztUnits    byte
	CalMax       float32
	CalMin       float32
	SliceDur     float32
	Toffset      float32
	Glmax        int32
	Glmin        int32
	Descrip      [80]byte
	AuxFile      [24]byte
	QformCode    int16
	SformCode    int16
	QuaternB     float32
	QuaternC     float32
	QuaternD     float32
	QoffsetX     float32
	QoffsetY     float32
	QoffsetZ     float32
	SrowX        [4]float32
	SrowY        [4]float32
	SrowZ        [4]float32
	IntentName   [16]byte
	Magic        [4]byte
}

// Read decodes the volume at path. Gzip compression is inferred from the
// .gz suffix.
func Read(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open nifti %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open nifti %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	img, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode nifti %s: %w", path, err)
	}
	return img, nil
}

// Decode reads a NIfTI-1 stream.
func Decode(r io.Reader) (*Image, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var hdr header
	order := binary.ByteOrder(binary.LittleEndian)
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, err
	}
	if hdr.SizeofHdr != headerSize {
		order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
			return nil, err
		}
		if hdr.SizeofHdr != headerSize {
			return nil, fmt.Errorf("not a NIfTI-1 header (sizeof_hdr=%d)", hdr.SizeofHdr)
		}
	}
	if string(hdr.Magic[:3]) != magicN1 {
		return nil, fmt.Errorf("unsupported magic %q (two-file NIfTI not supported)", hdr.Magic[:3])
	}

	ndim := int(hdr.Dim[0])
	if ndim < 3 || ndim > 4 {
		return nil, fmt.Errorf("unsupported dimensionality %d", ndim)
	}
	if ndim == 4 && hdr.Dim[4] > 1 {
		return nil, fmt.Errorf("4D volumes with %d timepoints not supported", hdr.Dim[4])
	}
	dims := [3]int{int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])}
	for i, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("non-positive dim[%d]=%d", i+1, d)
		}
	}

	// skip the extension bytes between header end and voxel data
	offset := int64(hdr.VoxOffset)
	if offset < headerSize {
		offset = headerSize + 4
	}
	if _, err := io.CopyN(io.Discard, r, offset-headerSize); err != nil {
		return nil, fmt.Errorf("skip to voxel data: %w", err)
	}

	n := dims[0] * dims[1] * dims[2]
	data, err := readVoxels(r, order, int(hdr.Datatype), n)
	if err != nil {
		return nil, err
	}

	// scl_slope == 0 means no scaling in NIfTI-1
	if hdr.SclSlope != 0 && (hdr.SclSlope != 1 || hdr.SclInter != 0) {
		for i := range data {
			data[i] = data[i]*hdr.SclSlope + hdr.SclInter
		}
	}

	img := &Image{Data: data, Dims: dims}
	for i := 0; i < 3; i++ {
		s := float64(hdr.Pixdim[i+1])
		if s <= 0 || math.IsNaN(s) {
			s = 1
		}
		img.Spacing[i] = s
	}
	return img, nil
}

func readVoxels(r io.Reader, order binary.ByteOrder, datatype, n int) ([]float32, error) {
	bytesPer := map[int]int{
		typeUint8: 1, typeInt8: 1,
		typeInt16: 2, typeUint16: 2,
		typeInt32: 4, typeFloat32: 4,
		typeFloat64: 8,
	}[datatype]
	if bytesPer == 0 {
		return nil, fmt.Errorf("unsupported datatype %d", datatype)
	}

	buf := make([]byte, n*bytesPer)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read %d voxels: %w", n, err)
	}

	out := make([]float32, n)
	switch datatype {
	case typeUint8:
		for i := range out {
			out[i] = float32(buf[i])
		}
	case typeInt8:
		for i := range out {
			out[i] = float32(int8(buf[i]))
		}
	case typeInt16:
		for i := range out {
			out[i] = float32(int16(order.Uint16(buf[i*2:])))
		}
	case typeUint16:
		for i := range out {
			out[i] = float32(order.Uint16(buf[i*2:]))
		}
	case typeInt32:
		for i := range out {
			out[i] = float32(int32(order.Uint32(buf[i*4:])))
		}
	case typeFloat32:
		for i := range out {
			out[i] = math.Float32frombits(order.Uint32(buf[i*4:]))
		}
	case typeFloat64:
		for i := range out {
			out[i] = float32(math.Float64frombits(order.Uint64(buf[i*8:])))
		}
	}
	return out, nil
}

// Write encodes img as a single-file float32 NIfTI-1 volume at path,
// gzipping when path ends in .gz.
func Write(path string, img *Image) error {
	if len(img.Data) != img.Len() {
		return fmt.Errorf("write nifti %s: data length %d does not match dims %v", path, len(img.Data), img.Dims)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create nifti %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if err := Encode(w, img); err != nil {
		return fmt.Errorf("write nifti %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("write nifti %s: %w", path, err)
		}
	}
	return nil
}

// Encode writes a NIfTI-1 stream.
func Encode(w io.Writer, img *Image) error {
	hdr := header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  typeFloat32,
		Bitpix:    32,
		VoxOffset: headerSize + 4,
		SclSlope:  1,
	}
	hdr.Dim[0] = 3
	for i := 0; i < 3; i++ {
		hdr.Dim[i+1] = int16(img.Dims[i])
		hdr.Pixdim[i+1] = float32(img.Spacing[i])
		if hdr.Pixdim[i+1] <= 0 {
			hdr.Pixdim[i+1] = 1
		}
	}
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	copy(hdr.Magic[:], magicN1)

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	// no header extensions
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, img.Data)
}
