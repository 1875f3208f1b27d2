// distribution.go - Diagonale Gauss-Verteilung ueber VAE-Latents
//
// Die Parameter des Encoders enthalten Mittelwert und log-Varianz
// hintereinander entlang der Kanal-Achse.
package diffusion

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"
	"gonum.org/v1/gonum/floats"

	"github.com/ollama/ortdiffusion/ml"
)

const (
	minLogVar = -30
	maxLogVar = 20
)

// DiagonalGaussian is a normal distribution with independent dimensions.
type DiagonalGaussian struct {
	shape  []int64
	dtype  ml.DType
	device ml.Device

	mean     []float64
	logvar   []float64
	std      []float64
	variance []float64
}

// NewDiagonalGaussian splits params along dim 1 into mean and log-variance.
func NewDiagonalGaussian(params *ml.Tensor) (*DiagonalGaussian, error) {
	if params.Rank() < 2 || params.Dim(1)%2 != 0 {
		return nil, fmt.Errorf("latent parameters of shape %v cannot be split along dim 1", params.Shape())
	}

	values, err := params.Float32s()
	if err != nil {
		return nil, err
	}

	shape := params.Shape()
	dims := make([]int, len(shape))
	for i := range shape {
		dims[i] = int(shape[i])
	}

	half := dims[1] / 2
	mean, err := chunk(values, dims, 0, half)
	if err != nil {
		return nil, err
	}
	logvar, err := chunk(values, dims, half, dims[1])
	if err != nil {
		return nil, err
	}

	g := DiagonalGaussian{
		shape:    shape,
		dtype:    params.DType(),
		device:   params.Device(),
		mean:     mean,
		logvar:   logvar,
		std:      make([]float64, len(logvar)),
		variance: make([]float64, len(logvar)),
	}
	g.shape[1] = int64(half)

	for i, v := range g.logvar {
		v = min(max(v, minLogVar), maxLogVar)
		g.logvar[i] = v
		g.std[i] = math.Exp(0.5 * v)
		g.variance[i] = math.Exp(v)
	}
	return &g, nil
}

// chunk copies the channels [from, to) of a row-major tensor.
func chunk(values []float32, dims []int, from, to int) ([]float64, error) {
	var t tensor.Tensor = tensor.New(tensor.WithShape(dims...), tensor.WithBacking(values))

	s := make([]tensor.Slice, len(dims))
	s[1] = tensor.S(from, to)
	t, err := t.Slice(s...)
	if err != nil {
		return nil, err
	}
	t = tensor.Materialize(t)

	if err := t.Reshape(t.Shape().TotalSize()); err != nil {
		return nil, err
	}
	f32, err := native.VectorF32(t.(*tensor.Dense))
	if err != nil {
		return nil, err
	}

	f64 := make([]float64, len(f32))
	for i, v := range f32 {
		f64[i] = float64(v)
	}
	return f64, nil
}

// Shape is the shape of a sample, half the channels of the parameters.
func (g *DiagonalGaussian) Shape() []int64 {
	shape := make([]int64, len(g.shape))
	copy(shape, g.shape)
	return shape
}

func (g *DiagonalGaussian) tensor(values []float64) (*ml.Tensor, error) {
	f32 := make([]float32, len(values))
	for i, v := range values {
		f32[i] = float32(v)
	}
	t, err := ml.FromFloat32s(f32, g.shape...)
	if err != nil {
		return nil, err
	}
	t, err = t.Cast(g.dtype)
	if err != nil {
		return nil, err
	}
	return t.To(g.device), nil
}

// Mean returns the distribution mean.
func (g *DiagonalGaussian) Mean() (*ml.Tensor, error) { return g.tensor(g.mean) }

// Mode equals the mean for a normal distribution.
func (g *DiagonalGaussian) Mode() (*ml.Tensor, error) { return g.tensor(g.mean) }

// Std returns the standard deviation.
func (g *DiagonalGaussian) Std() (*ml.Tensor, error) { return g.tensor(g.std) }

// Sample draws mean + std * N(0, 1) using rng.
func (g *DiagonalGaussian) Sample(rng *rand.Rand) (*ml.Tensor, error) {
	noise := make([]float64, len(g.mean))
	for i := range noise {
		noise[i] = rng.NormFloat64()
	}

	floats.Mul(noise, g.std)
	floats.Add(noise, g.mean)
	return g.tensor(noise)
}

// KL returns the divergence from the standard normal per batch element.
func (g *DiagonalGaussian) KL() []float64 {
	batch := int(g.shape[0])
	if batch == 0 {
		return nil
	}

	n := len(g.mean) / batch
	kl := make([]float64, batch)
	for b := range batch {
		mean := g.mean[b*n : (b+1)*n]
		kl[b] = 0.5 * (floats.Dot(mean, mean) +
			floats.Sum(g.variance[b*n:(b+1)*n]) -
			float64(n) -
			floats.Sum(g.logvar[b*n:(b+1)*n]))
	}
	return kl
}

// NLL returns the negative log-likelihood of sample per batch element.
func (g *DiagonalGaussian) NLL(sample *ml.Tensor) ([]float64, error) {
	values, err := sample.Float32s()
	if err != nil {
		return nil, err
	}
	if len(values) != len(g.mean) {
		return nil, fmt.Errorf("sample of shape %v does not match distribution %v", sample.Shape(), g.shape)
	}

	batch := int(g.shape[0])
	if batch == 0 {
		return nil, nil
	}

	n := len(g.mean) / batch
	nll := make([]float64, batch)
	for b := range batch {
		var sum float64
		for i := b * n; i < (b+1)*n; i++ {
			d := float64(values[i]) - g.mean[i]
			sum += math.Log(2*math.Pi) + g.logvar[i] + d*d/g.variance[i]
		}
		nll[b] = 0.5 * sum
	}
	return nll, nil
}
