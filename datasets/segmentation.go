package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/kbressem/ai-template/config"
	"github.com/kbressem/ai-template/transforms"
)

// SegmentationDataset indexes one split CSV and applies a preprocessing
// pipeline per record. The CSV header must contain every image and label
// column; each row holds file paths relative to data_dir.
type SegmentationDataset struct {
	// BatchSize used by Yield.
	BatchSize int

	cfg      *config.Config
	pipeline *transforms.Compose

	// rows[i] maps column key to absolute file path
	rows []map[string]string

	// order is the traversal order over rows; Shuffle permutes it
	order  []int
	cursor int
}

// NewSegmentationDataset indexes the split CSV at csvPath and serves records
// through the given pipeline.
func NewSegmentationDataset(cfg *config.Config, csvPath string, pipeline *transforms.Compose) (*SegmentationDataset, error) {
	if !filepath.IsAbs(csvPath) {
		csvPath = filepath.Join(cfg.Data.DataDir, csvPath)
	}
	rows, err := readSplitCSV(csvPath, cfg.Data.Cols(), cfg.Data.DataDir)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("split %s lists no records", csvPath)
	}

	ds := &SegmentationDataset{
		BatchSize: cfg.Training.BatchSize,
		cfg:       cfg,
		pipeline:  pipeline,
		rows:      rows,
		order:     make([]int, len(rows)),
	}
	if ds.BatchSize <= 0 {
		ds.BatchSize = 1
	}
	for i := range ds.order {
		ds.order[i] = i
	}
	return ds, nil
}

// Len returns the number of records in the split.
func (d *SegmentationDataset) Len() int { return len(d.rows) }

// Example builds record i and runs it through the pipeline.
func (d *SegmentationDataset) Example(i int) (*transforms.Record, error) {
	if i < 0 || i >= len(d.rows) {
		return nil, fmt.Errorf("example index %d out of range [0, %d)", i, len(d.rows))
	}
	rec := transforms.NewRecord(d.rows[i])
	if err := d.pipeline.Apply(rec); err != nil {
		return nil, fmt.Errorf("example %d: %w", i, err)
	}
	return rec, nil
}

// Order returns a copy of the current traversal order.
func (d *SegmentationDataset) Order() []int {
	return append([]int(nil), d.order...)
}

// Shuffle permutes the traversal order with an explicit seed.
func (d *SegmentationDataset) Shuffle(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

// Batch applies the pipeline to every index and flattens the canonical
// image and label volumes into contiguous buffers. All records in a batch
// must share identical image and label shapes.
func (d *SegmentationDataset) Batch(indices []int) (*BatchFlat, error) {
	batch := &BatchFlat{}
	for _, idx := range indices {
		rec, err := d.Example(idx)
		if err != nil {
			return nil, err
		}
		img, err := rec.Get(transforms.KeyImage)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", idx, err)
		}
		lab, err := rec.Get(transforms.KeyLabel)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", idx, err)
		}
		if err := batch.append(img, lab); err != nil {
			return nil, fmt.Errorf("example %d: %w", idx, err)
		}
	}
	return batch, nil
}

// Yield returns the next mini-batch as gomlx tensors, io.EOF once the epoch
// is exhausted.
func (d *SegmentationDataset) Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error) {
	if d.cursor >= len(d.order) {
		return nil, nil, nil, io.EOF
	}
	end := min(d.cursor+d.BatchSize, len(d.order))
	indices := d.order[d.cursor:end]
	d.cursor = end

	batch, err := d.Batch(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	in, lab, err := batch.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{in}, []*tensors.Tensor{lab}, nil
}

// Restart begins a new epoch.
func (d *SegmentationDataset) Restart() error {
	d.cursor = 0
	return nil
}

// Name identifies the dataset in logs.
func (d *SegmentationDataset) Name() string { return "SegmentationDataset" }

// BatchFlat stores a batch in flat contiguous buffers, one row per example.
type BatchFlat struct {
	Images []float32
	Labels []float32

	Count      int
	ImageShape []int // per-example channel-first shape
	LabelShape []int
}

func (b *BatchFlat) append(img, lab *transforms.Volume) error {
	if b.Count == 0 {
		b.ImageShape = append([]int(nil), img.Shape...)
		b.LabelShape = append([]int(nil), lab.Shape...)
	} else {
		if !shapeEqual(b.ImageShape, img.Shape) {
			return fmt.Errorf("image shape %v does not match batch shape %v", img.Shape, b.ImageShape)
		}
		if !shapeEqual(b.LabelShape, lab.Shape) {
			return fmt.Errorf("label shape %v does not match batch shape %v", lab.Shape, b.LabelShape)
		}
	}
	b.Images = append(b.Images, img.Data...)
	b.Labels = append(b.Labels, lab.Data...)
	b.Count++
	return nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Rows returns the batch as per-example slices, one flattened image and
// label row per example.
func (b *BatchFlat) Rows() (images, labels [][]float32) {
	if b.Count == 0 {
		return nil, nil
	}
	imgN := len(b.Images) / b.Count
	labN := len(b.Labels) / b.Count
	images = make([][]float32, b.Count)
	labels = make([][]float32, b.Count)
	for i := 0; i < b.Count; i++ {
		images[i] = b.Images[i*imgN : (i+1)*imgN]
		labels[i] = b.Labels[i*labN : (i+1)*labN]
	}
	return images, labels
}

// ToGomlxTensors converts the batch to gomlx tensors of shape
// [batch, voxels].
func (b *BatchFlat) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	if b.Count == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	images, labels := b.Rows()
	return tensors.FromAnyValue(images), tensors.FromAnyValue(labels), nil
}
