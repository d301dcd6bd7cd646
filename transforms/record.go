package transforms

import "fmt"

// Canonical record keys the training engine consumes. ConcatItemsd renames
// the per-column channels to these at the end of every pipeline.
const (
	KeyImage = "image"
	KeyLabel = "label"
	KeyPred  = "pred"
)

// Record is a dictionary-style sample: per-channel volumes addressed by the
// column keys from the config, plus the source paths the loader consumes.
// Transforms mutate the record in place; each record is built fresh per
// sample so pipelines stay stateless.
type Record struct {
	Paths   map[string]string
	Volumes map[string]*Volume
}

// NewRecord returns a record with the given source paths.
func NewRecord(paths map[string]string) *Record {
	return &Record{
		Paths:   paths,
		Volumes: map[string]*Volume{},
	}
}

// Get returns the volume under key or an error naming the missing key.
func (r *Record) Get(key string) (*Volume, error) {
	v, ok := r.Volumes[key]
	if !ok {
		return nil, fmt.Errorf("record has no volume for key %q", key)
	}
	return v, nil
}

// Set stores a volume under key, replacing any previous value.
func (r *Record) Set(key string, v *Volume) {
	if r.Volumes == nil {
		r.Volumes = map[string]*Volume{}
	}
	r.Volumes[key] = v
}
