// time_ids.go - Zusaetzliche Zeit-Konditionierung fuer SDXL
package diffusion

import (
	"fmt"

	"github.com/ollama/ortdiffusion/ml"
)

// Size is a (height, width) pair.
type Size [2]float32

// TimeIDs are the micro-conditioning values of SDXL pipelines.
type TimeIDs struct {
	OriginalSize       Size
	CropsCoordsTopLeft Size
	TargetSize         Size

	// used by img2img and inpainting
	AestheticScore             float32
	NegativeAestheticScore     float32
	NegativeOriginalSize       Size
	NegativeCropsCoordsTopLeft Size
	NegativeTargetSize         Size
}

func timeIDsTensor(values []float32, dtype ml.DType) (*ml.Tensor, error) {
	t, err := ml.FromFloat32s(values, 1, int64(len(values)))
	if err != nil {
		return nil, err
	}
	return t.Cast(dtype)
}

// AddTimeIDs builds the text-to-image time ids: original size, crop
// offset and target size.
func AddTimeIDs(ids TimeIDs, dtype ml.DType) (*ml.Tensor, error) {
	return timeIDsTensor([]float32{
		ids.OriginalSize[0], ids.OriginalSize[1],
		ids.CropsCoordsTopLeft[0], ids.CropsCoordsTopLeft[1],
		ids.TargetSize[0], ids.TargetSize[1],
	}, dtype)
}

// AddTimeIDsWithAesthetics builds positive and negative time ids for
// img2img and inpainting. With requiresAestheticsScore the target size is
// replaced by the aesthetic score.
func AddTimeIDsWithAesthetics(ids TimeIDs, requiresAestheticsScore bool, dtype ml.DType) (pos, neg *ml.Tensor, err error) {
	var p, n []float32
	if requiresAestheticsScore {
		p = []float32{
			ids.OriginalSize[0], ids.OriginalSize[1],
			ids.CropsCoordsTopLeft[0], ids.CropsCoordsTopLeft[1],
			ids.AestheticScore,
		}
		n = []float32{
			ids.NegativeOriginalSize[0], ids.NegativeOriginalSize[1],
			ids.NegativeCropsCoordsTopLeft[0], ids.NegativeCropsCoordsTopLeft[1],
			ids.NegativeAestheticScore,
		}
	} else {
		p = []float32{
			ids.OriginalSize[0], ids.OriginalSize[1],
			ids.CropsCoordsTopLeft[0], ids.CropsCoordsTopLeft[1],
			ids.TargetSize[0], ids.TargetSize[1],
		}
		// the negative ids reuse the positive crop offset
		n = []float32{
			ids.NegativeOriginalSize[0], ids.NegativeOriginalSize[1],
			ids.CropsCoordsTopLeft[0], ids.CropsCoordsTopLeft[1],
			ids.NegativeTargetSize[0], ids.NegativeTargetSize[1],
		}
	}

	if pos, err = timeIDsTensor(p, dtype); err != nil {
		return nil, nil, err
	}
	if neg, err = timeIDsTensor(n, dtype); err != nil {
		return nil, nil, err
	}
	return pos, neg, nil
}

// TimeIDs builds the time ids for the pipeline class. neg is nil for
// text-to-image.
func (p *Pipeline) TimeIDs(ids TimeIDs, dtype ml.DType) (pos, neg *ml.Tensor, err error) {
	if p.class == nil || p.class.Family != FamilyStableDiffusionXL {
		return nil, nil, fmt.Errorf("%w: time ids are specific to %s pipelines", ErrUnsupported, FamilyStableDiffusionXL)
	}

	if p.class.Task == TaskTextToImage {
		pos, err = AddTimeIDs(ids, dtype)
		return pos, nil, err
	}
	return AddTimeIDsWithAesthetics(ids, p.requiresAestheticsScore, dtype)
}
