// vae.go - VAE-Fassade ueber Encoder und Decoder
package diffusion

import (
	"fmt"

	"github.com/ollama/ortdiffusion/ml"
)

// VAE combines the decoder with an optional encoder. Configuration,
// device and dtype are the decoder's.
type VAE struct {
	Encoder *VAEEncoder
	Decoder *VAEDecoder
}

func (v *VAE) Config() map[string]any { return v.Decoder.Config() }
func (v *VAE) Device() ml.Device      { return v.Decoder.Device() }
func (v *VAE) DType() ml.DType        { return v.Decoder.DType() }

func (v *VAE) ScalingFactor() float64 { return v.Decoder.ScalingFactor() }

func (v *VAE) Decode(latents *ml.Tensor) (*VAEDecoderOutput, error) {
	return v.Decoder.Forward(latents)
}

func (v *VAE) Encode(sample *ml.Tensor) (*VAEEncoderOutput, error) {
	if v.Encoder == nil {
		return nil, fmt.Errorf("%w: pipeline has no VAE encoder", ErrUnsupported)
	}
	return v.Encoder.Forward(sample)
}

func (v *VAE) To(device ml.Device, dtype ml.DType) error {
	if err := v.Decoder.To(device, dtype); err != nil {
		return err
	}
	if v.Encoder != nil {
		return v.Encoder.To(device, dtype)
	}
	return nil
}
