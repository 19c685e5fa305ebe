package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
)

// Overrides disable individual spec steps for one call. A step runs only
// when the spec declares it and it is not disabled here.
type Overrides struct {
	DisableAutoOrient bool
	DisableContrast   bool
	DisableGrayscale  bool
	DisableStaticCrop bool
}

// Pipeline is immutable and safe for concurrent use.
type Pipeline struct {
	spec              Spec
	method            constants.ResizeMethod
	width, height     int
	disableAutoOrient bool
	workers           int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAutoOrientDisabled turns auto-orient off for every call.
func WithAutoOrientDisabled(disabled bool) Option {
	return func(p *Pipeline) { p.disableAutoOrient = disabled }
}

// WithWorkers bounds batch parallelism. n < 1 means one worker.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// NewPipeline returns a pipeline producing width x height tensors.
func NewPipeline(spec Spec, method constants.ResizeMethod, width, height int, opts ...Option) *Pipeline {
	p := &Pipeline{
		spec:    spec,
		method:  method,
		width:   width,
		height:  height,
		workers: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	return p
}

// Size returns the output width and height.
func (p *Pipeline) Size() (width, height int) {
	return p.width, p.height
}

// Preprocess decodes one encoded image and returns a [1,3,H,W] tensor and
// the image dimensions after static crop.
func (p *Pipeline) Preprocess(raw []byte, o Overrides) (*Tensor, Dims, error) {
	orient := !(o.DisableAutoOrient || !p.spec.AutoOrient.IsEnabled() || p.disableAutoOrient)
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(orient))
	if err != nil {
		return nil, Dims{}, fmt.Errorf("decode image: %w", err)
	}
	return p.PreprocessImage(img, o)
}

// PreprocessImage runs every step after decoding on an already decoded image.
func (p *Pipeline) PreprocessImage(img image.Image, o Overrides) (*Tensor, Dims, error) {
	if img.Bounds().Empty() {
		return nil, Dims{}, fmt.Errorf("empty image")
	}
	working, dims := p.prepare(img, o)
	return toCHW(p.resize(working)), dims, nil
}

// PreprocessBatch preprocesses every image on a bounded worker pool and
// concatenates the results along the batch axis in input order.
func (p *Pipeline) PreprocessBatch(ctx context.Context, raws [][]byte, o Overrides) (*Tensor, []Dims, error) {
	if len(raws) == 0 {
		return nil, nil, fmt.Errorf("preprocess batch: no images")
	}
	tensors := make([]*Tensor, len(raws))
	dims := make([]Dims, len(raws))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, d, err := p.Preprocess(raw, o)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			tensors[i], dims[i] = t, d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	batch, err := Concat(tensors)
	if err != nil {
		return nil, nil, err
	}
	return batch, dims, nil
}

// prepare applies static crop, contrast and grayscale in that order.
func (p *Pipeline) prepare(img image.Image, o Overrides) (image.Image, Dims) {
	if c := p.spec.StaticCrop; c != nil && c.IsEnabled() && !o.DisableStaticCrop {
		img = staticCrop(img, c)
	}
	b := img.Bounds()
	dims := Dims{Height: b.Dy(), Width: b.Dx()}

	if c := p.spec.Contrast; c != nil && c.IsEnabled() && !o.DisableContrast {
		img = adjustContrast(img, c.Type)
	}
	if p.spec.Grayscale.IsEnabled() && !o.DisableGrayscale {
		img = imaging.Grayscale(img)
	}
	return img, dims
}

func staticCrop(img image.Image, c *CropStep) image.Image {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	rect := image.Rect(
		b.Min.X+int(c.XMin/100*w),
		b.Min.Y+int(c.YMin/100*h),
		b.Min.X+int(c.XMax/100*w),
		b.Min.Y+int(c.YMax/100*h),
	).Intersect(b)
	if rect.Empty() {
		return img
	}
	return imaging.Crop(img, rect)
}

func (p *Pipeline) resize(img image.Image) *image.NRGBA {
	switch p.method {
	case constants.ResizeFitBlackEdges:
		return letterbox(img, p.width, p.height, color.Black)
	case constants.ResizeFitWhiteEdges:
		return letterbox(img, p.width, p.height, color.White)
	default:
		return imaging.Resize(img, p.width, p.height, imaging.CatmullRom)
	}
}

// letterbox scales img to fit inside width x height keeping its aspect ratio,
// centres it and fills the border with pad.
func letterbox(img image.Image, width, height int, pad color.Color) *image.NRGBA {
	b := img.Bounds()
	imgRatio := float64(b.Dx()) / float64(b.Dy())
	boxRatio := float64(width) / float64(height)

	nw, nh := width, height
	if imgRatio >= boxRatio {
		nh = int(float64(width) / imgRatio)
	} else {
		nw = int(float64(height) * imgRatio)
	}
	nw, nh = max(nw, 1), max(nh, 1)

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	top := (height - nh) / 2
	left := (width - nw) / 2
	return imaging.Paste(imaging.New(width, height, pad), resized, image.Pt(left, top))
}
