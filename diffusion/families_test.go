package diffusion

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/ortdiffusion/ml"
)

func TestLookupClass(t *testing.T) {
	tests := []struct {
		name    string
		want    *Class
		suggest string
	}{
		{name: "ORTStableDiffusionPipeline", want: StableDiffusion},
		{name: "StableDiffusionPipeline", want: StableDiffusion},
		{name: "StableDiffusionXLInpaintPipeline", want: StableDiffusionXLInpaint},
		{name: "ORTLatentConsistencyModelImg2ImgPipeline", want: LatentConsistencyImg2Img},
		{name: "StableDifusionXLPipeline", suggest: "StableDiffusionXLPipeline"},
		{name: "FluxPipeline"},
		{name: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LookupClass(tt.name)
			if tt.want != nil {
				require.NoError(t, err)
				if got != tt.want {
					t.Fatalf("klasse = %s, erwartet %s", got, tt.want)
				}
				return
			}

			if !errors.Is(err, ErrUnknownPipelineClass) {
				t.Fatalf("fehler = %v, erwartet ErrUnknownPipelineClass", err)
			}
			if hasSuggestion := strings.Contains(err.Error(), "did you mean"); hasSuggestion != (tt.suggest != "") {
				t.Errorf("vorschlag in %q, erwartet %q", err, tt.suggest)
			}
			if tt.suggest != "" && !strings.Contains(err.Error(), tt.suggest) {
				t.Errorf("fehler %q nennt %q nicht", err, tt.suggest)
			}
		})
	}
}

func TestForTask(t *testing.T) {
	tests := []struct {
		task  Task
		class string
		want  *Class
	}{
		{TaskTextToImage, "StableDiffusionXLImg2ImgPipeline", StableDiffusionXL},
		{TaskImageToImage, "ORTStableDiffusionPipeline", StableDiffusionImg2Img},
		{TaskInpainting, "StableDiffusionPipeline", StableDiffusionInpaint},
		{TaskImageToImage, "LatentConsistencyModelPipeline", LatentConsistencyImg2Img},
	}

	for _, tt := range tests {
		got, err := ForTask(tt.task, tt.class)
		require.NoError(t, err)
		if got != tt.want {
			t.Errorf("ForTask(%s, %s) = %s, erwartet %s", tt.task, tt.class, got, tt.want)
		}
	}

	// latent consistency has no inpainting pipeline
	_, err := ForTask(TaskInpainting, "LatentConsistencyModelPipeline")
	require.ErrorIs(t, err, ErrUnknownPipelineClass)
}

func TestTaskClasses(t *testing.T) {
	got := TaskClasses(TaskImageToImage)
	want := map[string]*Class{
		FamilyStableDiffusion:   StableDiffusionImg2Img,
		FamilyStableDiffusionXL: StableDiffusionXLImg2Img,
		FamilyLatentConsistency: LatentConsistencyImg2Img,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("klassen (-want +got):\n%s", diff)
	}
}

func TestTimeIDs(t *testing.T) {
	ids := TimeIDs{
		OriginalSize:               Size{1024, 1024},
		CropsCoordsTopLeft:         Size{0, 8},
		TargetSize:                 Size{768, 512},
		AestheticScore:             6,
		NegativeAestheticScore:     2.5,
		NegativeOriginalSize:       Size{512, 512},
		NegativeCropsCoordsTopLeft: Size{4, 4},
		NegativeTargetSize:         Size{256, 256},
	}

	t.Run("text-to-image", func(t *testing.T) {
		p := newTestPipeline(t, StableDiffusionXL)
		pos, neg, err := p.TimeIDs(ids, ml.DTypeF32)
		require.NoError(t, err)
		require.Nil(t, neg)
		if diff := cmp.Diff([]int64{1, 6}, pos.Shape()); diff != "" {
			t.Errorf("shape (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]float32{1024, 1024, 0, 8, 768, 512}, float32s(t, pos)); diff != "" {
			t.Errorf("werte (-want +got):\n%s", diff)
		}
	})

	t.Run("aesthetics", func(t *testing.T) {
		p := newTestPipeline(t, StableDiffusionXLImg2Img, WithRequiresAestheticsScore(true))
		pos, neg, err := p.TimeIDs(ids, ml.DTypeF16)
		require.NoError(t, err)
		require.Equal(t, ml.DTypeF16, pos.DType())
		if diff := cmp.Diff([]float32{1024, 1024, 0, 8, 6}, float32s(t, pos)); diff != "" {
			t.Errorf("positiv (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]float32{512, 512, 4, 4, 2.5}, float32s(t, neg)); diff != "" {
			t.Errorf("negativ (-want +got):\n%s", diff)
		}
	})

	t.Run("ohne aesthetics", func(t *testing.T) {
		p := newTestPipeline(t, StableDiffusionXLInpaint)
		pos, neg, err := p.TimeIDs(ids, ml.DTypeF32)
		require.NoError(t, err)
		if diff := cmp.Diff([]float32{1024, 1024, 0, 8, 768, 512}, float32s(t, pos)); diff != "" {
			t.Errorf("positiv (-want +got):\n%s", diff)
		}
		// the negative ids keep the positive crop offset
		if diff := cmp.Diff([]float32{512, 512, 0, 8, 256, 256}, float32s(t, neg)); diff != "" {
			t.Errorf("negativ (-want +got):\n%s", diff)
		}
	})

	t.Run("stable diffusion", func(t *testing.T) {
		p := newTestPipeline(t, StableDiffusion)
		_, _, err := p.TimeIDs(ids, ml.DTypeF32)
		require.ErrorIs(t, err, ErrUnsupported)
	})
}
