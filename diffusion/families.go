// families.go - Registry der Pipeline-Klassen und Task-Zuordnung
//
// Jede Klasse kennt ihren diffusers-Namen, ihre Modellfamilie, ihren Task
// und die Argumente, die ihr Generator akzeptiert.
package diffusion

import (
	"fmt"

	"github.com/agnivade/levenshtein"
)

type Task string

const (
	TaskTextToImage  Task = "text-to-image"
	TaskImageToImage Task = "image-to-image"
	TaskInpainting   Task = "inpainting"
)

var Tasks = []Task{TaskTextToImage, TaskImageToImage, TaskInpainting}

// Model families.
const (
	FamilyStableDiffusion   = "stable-diffusion"
	FamilyStableDiffusionXL = "stable-diffusion-xl"
	FamilyLatentConsistency = "latent-consistency"
)

// Class describes one pipeline class.
type Class struct {
	// Name is the ONNX Runtime class name
	Name string
	// DiffusersName is the name used in model_index.json
	DiffusersName string
	Family        string
	Task          Task
	// MainInput is the primary argument of the generator
	MainInput string
	// Accepts lists the generator arguments in declaration order
	Accepts []string
}

var (
	sdAccepts = []string{
		"vae", "text_encoder", "tokenizer", "unet", "scheduler",
		"safety_checker", "feature_extractor", "image_encoder",
	}
	sdxlAccepts = []string{
		"vae", "text_encoder", "text_encoder_2", "tokenizer", "tokenizer_2", "unet", "scheduler",
		"image_encoder", "feature_extractor", "force_zeros_for_empty_prompt", "add_watermarker",
	}
	sdxlRefinerAccepts = []string{
		"vae", "text_encoder", "text_encoder_2", "tokenizer", "tokenizer_2", "unet", "scheduler",
		"image_encoder", "feature_extractor", "requires_aesthetics_score", "force_zeros_for_empty_prompt",
		"add_watermarker",
	}
)

var (
	StableDiffusion = &Class{
		Name:          "ORTStableDiffusionPipeline",
		DiffusersName: "StableDiffusionPipeline",
		Family:        FamilyStableDiffusion,
		Task:          TaskTextToImage,
		MainInput:     "prompt",
		Accepts:       sdAccepts,
	}
	StableDiffusionImg2Img = &Class{
		Name:          "ORTStableDiffusionImg2ImgPipeline",
		DiffusersName: "StableDiffusionImg2ImgPipeline",
		Family:        FamilyStableDiffusion,
		Task:          TaskImageToImage,
		MainInput:     "image",
		Accepts:       sdAccepts,
	}
	StableDiffusionInpaint = &Class{
		Name:          "ORTStableDiffusionInpaintPipeline",
		DiffusersName: "StableDiffusionInpaintPipeline",
		Family:        FamilyStableDiffusion,
		Task:          TaskInpainting,
		MainInput:     "prompt",
		Accepts:       sdAccepts,
	}
	StableDiffusionXL = &Class{
		Name:          "ORTStableDiffusionXLPipeline",
		DiffusersName: "StableDiffusionXLPipeline",
		Family:        FamilyStableDiffusionXL,
		Task:          TaskTextToImage,
		MainInput:     "prompt",
		Accepts:       sdxlAccepts,
	}
	StableDiffusionXLImg2Img = &Class{
		Name:          "ORTStableDiffusionXLImg2ImgPipeline",
		DiffusersName: "StableDiffusionXLImg2ImgPipeline",
		Family:        FamilyStableDiffusionXL,
		Task:          TaskImageToImage,
		MainInput:     "prompt",
		Accepts:       sdxlRefinerAccepts,
	}
	StableDiffusionXLInpaint = &Class{
		Name:          "ORTStableDiffusionXLInpaintPipeline",
		DiffusersName: "StableDiffusionXLInpaintPipeline",
		Family:        FamilyStableDiffusionXL,
		Task:          TaskInpainting,
		MainInput:     "image",
		Accepts:       sdxlRefinerAccepts,
	}
	LatentConsistency = &Class{
		Name:          "ORTLatentConsistencyModelPipeline",
		DiffusersName: "LatentConsistencyModelPipeline",
		Family:        FamilyLatentConsistency,
		Task:          TaskTextToImage,
		MainInput:     "prompt",
		Accepts:       sdAccepts,
	}
	LatentConsistencyImg2Img = &Class{
		Name:          "ORTLatentConsistencyModelImg2ImgPipeline",
		DiffusersName: "LatentConsistencyModelImg2ImgPipeline",
		Family:        FamilyLatentConsistency,
		Task:          TaskImageToImage,
		MainInput:     "image",
		Accepts:       sdAccepts,
	}
)

// Classes lists every supported pipeline class.
var Classes = []*Class{
	StableDiffusion,
	StableDiffusionImg2Img,
	StableDiffusionInpaint,
	StableDiffusionXL,
	StableDiffusionXLImg2Img,
	StableDiffusionXLInpaint,
	LatentConsistency,
	LatentConsistencyImg2Img,
}

func (c *Class) String() string { return c.Name }

// LookupClass finds a class by its name or its diffusers name.
func LookupClass(name string) (*Class, error) {
	for _, c := range Classes {
		if c.Name == name || c.DiffusersName == name {
			return c, nil
		}
	}

	if s := suggest(name); s != "" {
		return nil, fmt.Errorf("%w %q, did you mean %q?", ErrUnknownPipelineClass, name, s)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownPipelineClass, name)
}

// suggest returns the closest known class name within a small edit
// distance.
func suggest(name string) string {
	best, bestDistance := "", len(name)/3+1
	for _, c := range Classes {
		for _, candidate := range []string{c.DiffusersName, c.Name} {
			if d := levenshtein.ComputeDistance(name, candidate); d < bestDistance {
				best, bestDistance = candidate, d
			}
		}
	}
	return best
}

// ForTask returns the class of the same family as className that performs
// task. SDXL img2img checkpoints can thus be used for text-to-image.
func ForTask(task Task, className string) (*Class, error) {
	c, err := LookupClass(className)
	if err != nil {
		return nil, err
	}

	for _, candidate := range Classes {
		if candidate.Family == c.Family && candidate.Task == task {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s pipeline for %s (%s)", ErrUnknownPipelineClass, task, className, c.Family)
}

// TaskClasses maps each family to its class for task.
func TaskClasses(task Task) map[string]*Class {
	classes := make(map[string]*Class)
	for _, c := range Classes {
		if c.Task == task {
			classes[c.Family] = c
		}
	}
	return classes
}
