// vae_encoder.go - VAE-Encoder und -Decoder Subnetze
package diffusion

import (
	"encoding/json"
	"log/slog"

	"github.com/ollama/ortdiffusion/ml"
)

// DefaultScalingFactor is used for exports that predate the scaling_factor
// configuration field.
const DefaultScalingFactor = 0.18215

func scalingFactorDefault(p *Part) {
	if _, ok := p.config["scaling_factor"]; !ok {
		slog.Warn("the scaling_factor attribute is missing from the VAE configuration, re-export the model with a newer exporter",
			"subnetwork", p.name, "default", DefaultScalingFactor)
		p.setDefault("scaling_factor", json.Number("0.18215"))
	}
}

// VAEEncoder maps images into the latent space.
type VAEEncoder struct {
	*Part
}

func NewVAEEncoder(session ml.Session, useIOBinding *bool) (*VAEEncoder, error) {
	p, err := NewPart(VAEEncoderSubfolder, session, useIOBinding)
	if err != nil {
		return nil, err
	}
	scalingFactorDefault(p)
	return &VAEEncoder{Part: p}, nil
}

// ScalingFactor scales latents to unit variance.
func (e *VAEEncoder) ScalingFactor() float64 {
	f, _ := e.ConfigFloat("scaling_factor")
	return f
}

type VAEEncoderOutput struct {
	// Latents is set by exports that sample inside the graph.
	Latents *ml.Tensor
	// LatentDist is set by exports that return the distribution parameters.
	LatentDist *DiagonalGaussian
	*Outputs
}

func (e *VAEEncoder) Forward(sample *ml.Tensor) (*VAEEncoderOutput, error) {
	outputs, err := e.Run(map[string]*ml.Tensor{"sample": sample}, nil)
	if err != nil {
		return nil, err
	}

	var out VAEEncoderOutput
	outputs.Rename("latent_sample", "latents")
	out.Latents, _ = outputs.Get("latents")

	if params, ok := outputs.Pop("latent_parameters"); ok {
		if out.LatentDist, err = NewDiagonalGaussian(params); err != nil {
			return nil, err
		}
	}
	out.Outputs = outputs
	return &out, nil
}

// VAEDecoder maps latents back to images.
type VAEDecoder struct {
	*Part
}

func NewVAEDecoder(session ml.Session, useIOBinding *bool) (*VAEDecoder, error) {
	p, err := NewPart(VAEDecoderSubfolder, session, useIOBinding)
	if err != nil {
		return nil, err
	}
	scalingFactorDefault(p)
	return &VAEDecoder{Part: p}, nil
}

func (d *VAEDecoder) ScalingFactor() float64 {
	f, _ := d.ConfigFloat("scaling_factor")
	return f
}

type VAEDecoderOutput struct {
	// Sample is the decoded image.
	Sample *ml.Tensor
	*Outputs
}

func (d *VAEDecoder) Forward(latentSample *ml.Tensor) (*VAEDecoderOutput, error) {
	outputs, err := d.Run(map[string]*ml.Tensor{"latent_sample": latentSample}, nil)
	if err != nil {
		return nil, err
	}

	outputs.Rename("latent_sample", "latents")
	return &VAEDecoderOutput{Sample: outputs.First(), Outputs: outputs}, nil
}
