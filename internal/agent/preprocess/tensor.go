package preprocess

import (
	"fmt"
	"image"
	"image/draw"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Dims are the height and width of an image before resizing.
type Dims struct {
	Height int
	Width  int
}

// BatchSize is the leading dimension, or 0 for an empty tensor.
func (t *Tensor) BatchSize() int {
	if t == nil || len(t.Shape) == 0 {
		return 0
	}
	return int(t.Shape[0])
}

// toCHW converts img to a [1,3,H,W] RGB tensor of raw 0..255 values.
func toCHW(img image.Image) *Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	rgba, ok := img.(*image.NRGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+4*w]
		for x := 0; x < w; x++ {
			i := y*w + x
			data[i] = float32(row[4*x])
			data[plane+i] = float32(row[4*x+1])
			data[2*plane+i] = float32(row[4*x+2])
		}
	}
	return &Tensor{Shape: []int64{1, 3, int64(h), int64(w)}, Data: data}
}

// Concat joins tensors of identical trailing shape along the batch axis.
func Concat(parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat: no tensors")
	}
	inner := parts[0].Shape[1:]
	var batch int64
	size := 0
	for i, p := range parts {
		if len(p.Shape) != len(parts[0].Shape) {
			return nil, fmt.Errorf("concat: tensor %d has rank %d, want %d", i, len(p.Shape), len(parts[0].Shape))
		}
		for d := range inner {
			if p.Shape[d+1] != inner[d] {
				return nil, fmt.Errorf("concat: tensor %d has shape %v, want [* %v]", i, p.Shape, inner)
			}
		}
		batch += p.Shape[0]
		size += len(p.Data)
	}
	data := make([]float32, 0, size)
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	shape := append([]int64{batch}, inner...)
	return &Tensor{Shape: shape, Data: data}, nil
}
