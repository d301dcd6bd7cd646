package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/kbressem/ai-template/transforms"
)

// This package feeds preprocessed segmentation records into the training
// loop. Datasets are lazy: construction only indexes the split CSV, and
// volumes are read from disk when a record passes through its pipeline's
// load step. Batches are flattened into contiguous float32 buffers and
// convert to gomlx tensors at the training-loop boundary.
//
// Dataset matches the gomlx train.Dataset contract through Yield/Restart so
// a dataset can be handed to a gomlx training loop directly.
type Dataset interface {
	Len() int

	// Example applies the pipeline to record i and returns the transformed
	// record with the canonical image/label keys set.
	Example(i int) (*transforms.Record, error)

	// Batch assembles the given records into flat image and label buffers.
	Batch(indices []int) (*BatchFlat, error)

	// Shuffle reorders example traversal with an explicit seed.
	Shuffle(seed int64)

	// Yield returns the next mini-batch as gomlx tensors, io.EOF at the end
	// of an epoch. Restart begins a new epoch.
	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
	Restart() error
}
