// text_encoder.go - Text-Encoder (CLIP) Subnetz
package diffusion

import (
	"fmt"

	"github.com/ollama/ortdiffusion/ml"
)

// TextEncoder turns token ids into prompt embeddings.
type TextEncoder struct {
	*Part
}

// NewTextEncoder wraps session. name is the subfolder, text_encoder or
// text_encoder_2.
func NewTextEncoder(name string, session ml.Session, useIOBinding *bool) (*TextEncoder, error) {
	p, err := NewPart(name, session, useIOBinding)
	if err != nil {
		return nil, err
	}
	return &TextEncoder{Part: p}, nil
}

type TextEncoderOutput struct {
	LastHiddenState *ml.Tensor
	// TextEmbeds is the pooled projection, only exported by projection
	// encoders.
	TextEmbeds *ml.Tensor
	// HiddenStates holds the output of every layer followed by the last
	// hidden state when requested.
	HiddenStates []*ml.Tensor
	*Outputs
}

// NumHiddenLayers is the layer count from the configuration.
func (e *TextEncoder) NumHiddenLayers() int {
	n, _ := e.ConfigInt("num_hidden_layers")
	return int(n)
}

func (e *TextEncoder) Forward(inputIDs *ml.Tensor, outputHiddenStates bool) (*TextEncoderOutput, error) {
	outputs, err := e.Run(map[string]*ml.Tensor{"input_ids": inputIDs}, nil)
	if err != nil {
		return nil, err
	}

	out := TextEncoderOutput{Outputs: outputs}
	for i := range e.NumHiddenLayers() {
		name := fmt.Sprintf("hidden_states.%d", i)
		t, ok := outputs.Pop(name)
		if outputHiddenStates {
			if !ok {
				return nil, fmt.Errorf("%s: model has no output %q", e.name, name)
			}
			out.HiddenStates = append(out.HiddenStates, t)
		}
	}

	out.LastHiddenState, _ = outputs.Get("last_hidden_state")
	out.TextEmbeds, _ = outputs.Get("text_embeds")
	if outputHiddenStates {
		out.HiddenStates = append(out.HiddenStates, out.LastHiddenState)
	}
	return &out, nil
}
