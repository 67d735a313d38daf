package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Predict stylizes img with eng using the Stretch resize mode and returns an
// image of the same size as img.
func (p *Pipeline) Predict(ctx context.Context, eng Engine, img image.Image) (*image.NRGBA, error) {
	return p.PredictMode(ctx, eng, img, Stretch)
}

// PredictMode is Predict with an explicit resize mode.
func (p *Pipeline) PredictMode(ctx context.Context, eng Engine, img image.Image, mode ResizeMode) (*image.NRGBA, error) {
	b := img.Bounds()
	original := Size{Height: b.Dy(), Width: b.Dx()}

	input, pad, resized, err := p.Preprocess(img, mode)
	if err != nil {
		return nil, err
	}

	output, err := eng.Forward(ctx, input)
	if err != nil {
		if errors.Is(err, ErrInference) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if output == nil {
		return nil, fmt.Errorf("%w: engine returned no output", ErrInference)
	}

	if mode != Letterbox {
		// Only letterboxed outputs carry a region to crop.
		pad, resized = Size{}, Size{}
	}
	return p.Postprocess(output.DropBatch(), original, pad, resized)
}
