package pipeline

import (
	"context"
	"fmt"
)

// Engine runs a single forward pass of a style network.
type Engine interface {
	Forward(ctx context.Context, input *Tensor) (*Tensor, error)
}

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(shape ...int64) *Tensor {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return &Tensor{
		Shape: append([]int64(nil), shape...),
		Data:  make([]float32, n),
	}
}

// DropBatch returns a view without a leading batch dimension of size 1.
// Tensors without one are returned unchanged.
func (t *Tensor) DropBatch() *Tensor {
	if len(t.Shape) == 4 && t.Shape[0] == 1 {
		return &Tensor{Shape: t.Shape[1:], Data: t.Data}
	}
	return t
}

// chw returns channel, height and width of a (C,H,W) or (1,C,H,W) tensor.
func (t *Tensor) chw() (int, int, int, error) {
	s := t.DropBatch().Shape
	if len(s) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: expected CHW tensor, got shape %v", ErrInference, t.Shape)
	}
	c, h, w := int(s[0]), int(s[1]), int(s[2])
	if c <= 0 || h <= 0 || w <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: empty output shape %v", ErrInference, t.Shape)
	}
	if c*h*w != len(t.Data) {
		return 0, 0, 0, fmt.Errorf("%w: shape %v does not match %d values", ErrInference, t.Shape, len(t.Data))
	}
	return c, h, w, nil
}
