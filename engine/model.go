package engine

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/kbressem/ai-template/transforms"
)

// ModelConfig holds the hyperparameters of the per-voxel classifier.
type ModelConfig struct {
	// InChannels is the number of image channels per voxel.
	InChannels int

	// OutChannels is the number of segmentation classes.
	OutChannels int

	// HiddenSizes lists the hidden layer sizes. Empty means one hidden
	// layer of 32 units.
	HiddenSizes []int

	// LearningRate for mini-batch SGD.
	LearningRate float64

	// VoxelsPerStep caps how many voxels one training step samples from a
	// volume. Zero means 4096.
	VoxelsPerStep int

	// Seed controls weight init and voxel sampling.
	Seed int64
}

// Model is a small per-voxel softmax classifier: the image channels at each
// voxel feed an MLP that emits class logits. It trades spatial context for
// a dependency-free trainable model with deterministic behavior under a
// fixed seed.
type Model struct {
	Config ModelConfig

	// layerSizes includes input size, hidden sizes, then output size.
	layerSizes []int

	// weights[l] is a matrix of shape [out][in] for layer l -> l+1
	weights [][][]float32

	// biases[l] is a vector of length out for layer l -> l+1
	biases [][]float32

	rng *rand.Rand
}

// NewModel creates a model with Xavier-initialized weights.
func NewModel(cfg ModelConfig) (*Model, error) {
	if cfg.InChannels <= 0 {
		return nil, errors.New("model needs at least one input channel")
	}
	if cfg.OutChannels < 2 {
		return nil, errors.New("model needs at least two output channels")
	}
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{32}
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.VoxelsPerStep == 0 {
		cfg.VoxelsPerStep = 4096
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	sizes := make([]int, 0, 2+len(cfg.HiddenSizes))
	sizes = append(sizes, cfg.InChannels)
	sizes = append(sizes, cfg.HiddenSizes...)
	sizes = append(sizes, cfg.OutChannels)
	m.layerSizes = sizes

	L := len(sizes) - 1
	m.weights = make([][][]float32, L)
	m.biases = make([][]float32, L)
	for l := 0; l < L; l++ {
		in := sizes[l]
		out := sizes[l+1]
		mat := make([][]float32, out)
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		for j := 0; j < out; j++ {
			row := make([]float32, in)
			for i := 0; i < in; i++ {
				row[i] = (m.rng.Float32()*2.0 - 1.0) * limit * 0.5
			}
			mat[j] = row
		}
		m.weights[l] = mat
		m.biases[l] = make([]float32, out)
	}
	return m, nil
}

func activationReLU(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

func activationReLUDeriv(preact []float32) []float32 {
	d := make([]float32, len(preact))
	for i := range preact {
		if preact[i] > 0 {
			d[i] = 1.0
		}
	}
	return d
}

// forwardSingle runs one voxel's feature vector through the network,
// returning pre-activations per layer and activations per layer (with
// acts[0] the input). The final layer is linear; callers apply softmax.
func (m *Model) forwardSingle(input []float32) (preActs, acts [][]float32, err error) {
	if len(input) != m.layerSizes[0] {
		return nil, nil, fmt.Errorf("input has %d features, model expects %d", len(input), m.layerSizes[0])
	}
	L := len(m.weights)
	acts = make([][]float32, L+1)
	acts[0] = input
	preActs = make([][]float32, L)
	for l := 0; l < L; l++ {
		inVec := acts[l]
		outDim := len(m.biases[l])
		pre := make([]float32, outDim)
		W := m.weights[l]
		b := m.biases[l]
		for j := 0; j < outDim; j++ {
			sum := b[j]
			row := W[j]
			for i := range inVec {
				sum += row[i] * inVec[i]
			}
			pre[j] = sum
		}
		preActs[l] = pre

		act := make([]float32, outDim)
		copy(act, pre)
		if l < L-1 {
			activationReLU(act)
		}
		acts[l+1] = act
	}
	return preActs, acts, nil
}

func softmax(logits []float32) []float64 {
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v - maxv))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// voxelFeatures extracts the per-channel values at voxel i of a
// channel-first volume.
func voxelFeatures(img *transforms.Volume, i, voxels int, buf []float32) []float32 {
	for c := 0; c < img.Channels(); c++ {
		buf[c] = img.Data[c*voxels+i]
	}
	return buf
}

// TrainStep samples voxels from one (image, label) pair, accumulates
// cross-entropy gradients and applies one averaged SGD update. It returns
// the mean loss over the sampled voxels.
func (m *Model) TrainStep(img, lab *transforms.Volume) (float64, error) {
	if img.Channels() != m.Config.InChannels {
		return 0, fmt.Errorf("image has %d channels, model expects %d", img.Channels(), m.Config.InChannels)
	}
	z, y, x := img.Spatial()
	voxels := z * y * x
	lz, ly, lx := lab.Spatial()
	if lz*ly*lx != voxels {
		return 0, fmt.Errorf("label volume has %d voxels, image has %d", lz*ly*lx, voxels)
	}

	n := m.Config.VoxelsPerStep
	if n > voxels {
		n = voxels
	}

	// gradient accumulators, same shapes as weights and biases
	L := len(m.weights)
	gradW := make([][][]float32, L)
	gradB := make([][]float32, L)
	for l := 0; l < L; l++ {
		outDim := len(m.biases[l])
		inDim := len(m.weights[l][0])
		gradW[l] = make([][]float32, outDim)
		for j := 0; j < outDim; j++ {
			gradW[l][j] = make([]float32, inDim)
		}
		gradB[l] = make([]float32, outDim)
	}

	features := make([]float32, m.Config.InChannels)
	var totalLoss float64
	counted := 0
	for s := 0; s < n; s++ {
		i := m.rng.Intn(voxels)
		cls := int(lab.Data[i])
		if cls < 0 || cls >= m.Config.OutChannels {
			continue
		}
		in := voxelFeatures(img, i, voxels, features)
		preacts, acts, err := m.forwardSingle(in)
		if err != nil {
			return 0, err
		}

		logits := acts[len(acts)-1]
		probs := softmax(logits)
		totalLoss += -math.Log(math.Max(probs[cls], 1e-12))
		counted++

		// dLoss/dLogit for softmax cross-entropy
		delta := make([]float32, len(logits))
		for j := range logits {
			delta[j] = float32(probs[j])
		}
		delta[cls] -= 1

		for l := L - 1; l >= 0; l-- {
			inAct := acts[l]
			outDim := len(delta)
			for j := 0; j < outDim; j++ {
				gradB[l][j] += delta[j]
				for i2 := range inAct {
					gradW[l][j][i2] += delta[j] * inAct[i2]
				}
			}
			if l > 0 {
				prevLen := len(m.weights[l][0])
				newDelta := make([]float32, prevLen)
				for i2 := 0; i2 < prevLen; i2++ {
					var sum float32
					for j := 0; j < outDim; j++ {
						sum += m.weights[l][j][i2] * delta[j]
					}
					newDelta[i2] = sum
				}
				deriv := activationReLUDeriv(preacts[l-1])
				for i2 := range newDelta {
					newDelta[i2] *= deriv[i2]
				}
				delta = newDelta
			}
		}
	}
	if counted == 0 {
		return 0, nil
	}

	lr := float32(m.Config.LearningRate)
	inv := float32(1.0 / float64(counted))
	for l := 0; l < L; l++ {
		for j := range m.biases[l] {
			m.biases[l][j] -= lr * gradB[l][j] * inv
			for i2 := range m.weights[l][j] {
				m.weights[l][j][i2] -= lr * gradW[l][j][i2] * inv
			}
		}
	}
	return totalLoss / float64(counted), nil
}

// Predict returns per-voxel class logits as a channel-first volume with
// OutChannels channels.
func (m *Model) Predict(img *transforms.Volume) (*transforms.Volume, error) {
	if img.Channels() != m.Config.InChannels {
		return nil, fmt.Errorf("image has %d channels, model expects %d", img.Channels(), m.Config.InChannels)
	}
	z, y, x := img.Spatial()
	voxels := z * y * x
	out := transforms.NewVolume(m.Config.OutChannels, z, y, x)
	out.Spacing = img.Spacing

	features := make([]float32, m.Config.InChannels)
	for i := 0; i < voxels; i++ {
		in := voxelFeatures(img, i, voxels, features)
		_, acts, err := m.forwardSingle(in)
		if err != nil {
			return nil, err
		}
		logits := acts[len(acts)-1]
		for c, v := range logits {
			out.Data[c*voxels+i] = v
		}
	}
	return out, nil
}

// modelSnapshot is the gob-encoded on-disk form of a model.
type modelSnapshot struct {
	Config     ModelConfig
	LayerSizes []int
	Weights    [][][]float32
	Biases     [][]float32
}

// Save writes the model weights to path with gob.
func (m *Model) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save model %s: %w", path, err)
	}
	defer f.Close()
	snap := modelSnapshot{
		Config:     m.Config,
		LayerSizes: m.layerSizes,
		Weights:    m.weights,
		Biases:     m.biases,
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		return fmt.Errorf("save model %s: %w", path, err)
	}
	return nil
}

// LoadModel restores a model saved with Save.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	defer f.Close()
	var snap modelSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return &Model{
		Config:     snap.Config,
		layerSizes: snap.LayerSizes,
		weights:    snap.Weights,
		biases:     snap.Biases,
		rng:        rand.New(rand.NewSource(snap.Config.Seed)),
	}, nil
}
