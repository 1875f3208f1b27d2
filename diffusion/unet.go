// unet.go - UNet-Subnetz (Rauschvorhersage)
package diffusion

import (
	"log/slog"
	"slices"

	"github.com/ollama/ortdiffusion/ml"
)

// UNet predicts the noise residual of a latent sample.
type UNet struct {
	*Part
}

func NewUNet(session ml.Session, useIOBinding *bool) (*UNet, error) {
	p, err := NewPart(UNetSubfolder, session, useIOBinding)
	if err != nil {
		return nil, err
	}

	if _, ok := p.config["time_cond_proj_dim"]; !ok {
		slog.Warn("the time_cond_proj_dim attribute is missing from the UNet configuration, re-export the model with a newer exporter")
		p.setDefault("time_cond_proj_dim", nil)
	}
	return &UNet{Part: p}, nil
}

// UNetInput holds the arguments of one denoising step. Nil tensors are not
// passed to the model.
type UNetInput struct {
	Sample              *ml.Tensor
	Timestep            *ml.Tensor
	EncoderHiddenStates *ml.Tensor

	// SDXL conditioning
	TextEmbeds *ml.Tensor
	TimeIDs    *ml.Tensor

	// guidance embedding of latent consistency models
	TimestepCond *ml.Tensor

	CrossAttention map[string]*ml.Tensor
	AddedCond      map[string]*ml.Tensor
}

func (in UNetInput) tensors() (map[string]*ml.Tensor, error) {
	timestep := in.Timestep
	if timestep != nil && timestep.Rank() == 0 {
		var err error
		if timestep, err = timestep.Reshape(1); err != nil {
			return nil, err
		}
	}

	inputs := map[string]*ml.Tensor{
		"sample":                in.Sample,
		"timestep":              timestep,
		"encoder_hidden_states": in.EncoderHiddenStates,
		"text_embeds":           in.TextEmbeds,
		"time_ids":              in.TimeIDs,
		"timestep_cond":         in.TimestepCond,
	}
	for k, v := range in.CrossAttention {
		inputs[k] = v
	}
	for k, v := range in.AddedCond {
		inputs[k] = v
	}
	for k, v := range inputs {
		if v == nil {
			delete(inputs, k)
		}
	}
	return inputs, nil
}

type UNetOutput struct {
	// Sample is the first model output, the predicted noise.
	Sample *ml.Tensor
	*Outputs
}

// LatentChannels is the channel count of the predicted sample.
func (u *UNet) LatentChannels() int64 {
	if n, ok := u.ConfigInt("out_channels"); ok {
		return n
	}
	return 4
}

func (u *UNet) Forward(in UNetInput) (*UNetOutput, error) {
	inputs, err := in.tensors()
	if err != nil {
		return nil, err
	}

	var shapes map[string][]int64
	if u.UseIOBinding() && in.Sample != nil && in.Sample.Rank() > 1 && len(u.outputNames) > 0 {
		// output shape follows the sample, no symbolic resolution needed
		shape := slices.Clone(in.Sample.Shape())
		shape[1] = u.LatentChannels()
		shapes = map[string][]int64{u.outputNames[0]: shape}
	}

	outputs, err := u.Run(inputs, shapes)
	if err != nil {
		return nil, err
	}
	return &UNetOutput{Sample: outputs.First(), Outputs: outputs}, nil
}
