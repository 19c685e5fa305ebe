package preprocess

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// at returns channel c of pixel (x, y) of batch item n.
func at(t *Tensor, n, c, y, x int) float32 {
	h, w := int(t.Shape[2]), int(t.Shape[3])
	return t.Data[n*3*h*w+c*h*w+y*w+x]
}

func mustSpec(t *testing.T, raw string) Spec {
	t.Helper()
	s, err := ParseSpec(raw)
	require.NoError(t, err)
	return s
}

func TestLetterboxBlackEdges(t *testing.T) {
	spec := mustSpec(t, `{"resize":{"format":"Fit (black edges) in","width":640,"height":480}}`)
	p := NewPipeline(spec, spec.ResizePolicy(), 640, 480)

	tensor, dims, err := p.Preprocess(encodePNG(t, solid(1000, 500, color.White)), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 480, 640}, tensor.Shape)
	assert.Equal(t, Dims{Height: 500, Width: 1000}, dims)

	// 1000x500 scales to 640x320, leaving 80 rows of padding above and below.
	for _, y := range []int{0, 79, 400, 479} {
		for c := 0; c < 3; c++ {
			assert.Zero(t, at(tensor, 0, c, y, 320), "row %d channel %d", y, c)
		}
	}
	for _, y := range []int{80, 240, 399} {
		assert.InDelta(t, 255, at(tensor, 0, 0, y, 0), 1, "row %d", y)
		assert.InDelta(t, 255, at(tensor, 0, 0, y, 639), 1, "row %d", y)
	}
}

func TestLetterboxWhiteEdgesOnTallImage(t *testing.T) {
	p := NewPipeline(Spec{}, constants.ResizeFitWhiteEdges, 640, 480)

	tensor, _, err := p.PreprocessImage(solid(200, 400, color.Black), Overrides{})
	require.NoError(t, err)
	// 200x400 scales to 240x480, centred between 200-column borders.
	assert.Equal(t, float32(255), at(tensor, 0, 0, 240, 0))
	assert.Equal(t, float32(255), at(tensor, 0, 2, 240, 199))
	assert.InDelta(t, 0, at(tensor, 0, 0, 240, 200), 1)
	assert.InDelta(t, 0, at(tensor, 0, 0, 240, 439), 1)
	assert.Equal(t, float32(255), at(tensor, 0, 1, 240, 440))
}

func TestStretchProducesTargetShapeInRGBOrder(t *testing.T) {
	p := NewPipeline(Spec{}, constants.ResizeStretch, 64, 32)

	tensor, dims, err := p.PreprocessImage(solid(100, 100, color.NRGBA{R: 200, G: 100, B: 50, A: 255}), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 32, 64}, tensor.Shape)
	assert.Len(t, tensor.Data, 3*32*64)
	assert.Equal(t, Dims{Height: 100, Width: 100}, dims)
	assert.InDelta(t, 200, at(tensor, 0, 0, 10, 10), 1)
	assert.InDelta(t, 100, at(tensor, 0, 1, 10, 10), 1)
	assert.InDelta(t, 50, at(tensor, 0, 2, 10, 10), 1)
}

func TestBatchPreservesInputOrder(t *testing.T) {
	p := NewPipeline(Spec{}, constants.ResizeStretch, 16, 16, WithWorkers(4))

	var raws [][]byte
	for i := 0; i < 12; i++ {
		raws = append(raws, encodePNG(t, solid(20+i, 30, color.NRGBA{R: uint8(i * 10), A: 255})))
	}
	tensor, dims, err := p.PreprocessBatch(context.Background(), raws, Overrides{})
	require.NoError(t, err)
	require.Equal(t, []int64{12, 3, 16, 16}, tensor.Shape)
	require.Len(t, dims, 12)
	for i := 0; i < 12; i++ {
		assert.InDelta(t, float32(i*10), at(tensor, i, 0, 8, 8), 1, "batch item %d", i)
		assert.Equal(t, 20+i, dims[i].Width)
	}
}

func TestSingleAndBatchDifferOnlyInBatchSize(t *testing.T) {
	p := NewPipeline(Spec{}, constants.ResizeFitBlackEdges, 32, 24, WithWorkers(2))
	raw := encodePNG(t, solid(50, 20, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))

	single, _, err := p.Preprocess(raw, Overrides{})
	require.NoError(t, err)
	batch, _, err := p.PreprocessBatch(context.Background(), [][]byte{raw, raw, raw}, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), single.Shape[0])
	assert.Equal(t, int64(3), batch.Shape[0])
	assert.Equal(t, single.Shape[1:], batch.Shape[1:])
	n := len(single.Data)
	for i := 0; i < 3; i++ {
		assert.Equal(t, single.Data, batch.Data[i*n:(i+1)*n])
	}

	one, _, err := p.PreprocessBatch(context.Background(), [][]byte{raw}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, single, one)
}

func TestBatchFailsOnUndecodableImage(t *testing.T) {
	p := NewPipeline(Spec{}, constants.ResizeStretch, 8, 8, WithWorkers(2))
	_, _, err := p.PreprocessBatch(context.Background(), [][]byte{encodePNG(t, solid(4, 4, color.White)), []byte("nope")}, Overrides{})
	assert.ErrorContains(t, err, "image 1")
}

func TestGrayscaleOverride(t *testing.T) {
	spec := mustSpec(t, `{"grayscale":{"enabled":true}}`)
	p := NewPipeline(spec, constants.ResizeStretch, 8, 8)
	red := solid(8, 8, color.NRGBA{R: 255, A: 255})

	tensor, _, err := p.PreprocessImage(red, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, at(tensor, 0, 0, 4, 4), at(tensor, 0, 1, 4, 4))
	assert.Equal(t, at(tensor, 0, 1, 4, 4), at(tensor, 0, 2, 4, 4))

	tensor, _, err = p.PreprocessImage(red, Overrides{DisableGrayscale: true})
	require.NoError(t, err)
	assert.Equal(t, float32(255), at(tensor, 0, 0, 4, 4))
	assert.Equal(t, float32(0), at(tensor, 0, 1, 4, 4))
}

func TestDisabledStepInSpecDoesNotRun(t *testing.T) {
	spec := mustSpec(t, `{"grayscale":{"enabled":false}}`)
	p := NewPipeline(spec, constants.ResizeStretch, 8, 8)

	tensor, _, err := p.PreprocessImage(solid(8, 8, color.NRGBA{R: 255, A: 255}), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, float32(255), at(tensor, 0, 0, 4, 4))
}

func TestStaticCropReportsCroppedDims(t *testing.T) {
	spec := mustSpec(t, `{"static-crop":{"enabled":true,"x_min":10,"y_min":25,"x_max":60,"y_max":75}}`)
	p := NewPipeline(spec, constants.ResizeStretch, 8, 8)
	img := solid(100, 200, color.White)

	_, dims, err := p.PreprocessImage(img, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, Dims{Height: 100, Width: 50}, dims)

	_, dims, err = p.PreprocessImage(img, Overrides{DisableStaticCrop: true})
	require.NoError(t, err)
	assert.Equal(t, Dims{Height: 200, Width: 100}, dims)
}

func TestContrastStretching(t *testing.T) {
	img := solid(10, 10, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	for y := 5; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.NRGBA{R: 150, G: 150, B: 150, A: 255})
		}
	}
	out := adjustContrast(img, constants.ContrastStretching)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), out.NRGBAAt(0, 9).R)

	spec := mustSpec(t, `{"contrast":{"enabled":true,"type":"Contrast Stretching"}}`)
	p := NewPipeline(spec, constants.ResizeStretch, 10, 10)
	tensor, _, err := p.PreprocessImage(img, Overrides{DisableContrast: true})
	require.NoError(t, err)
	assert.InDelta(t, 100, at(tensor, 0, 0, 0, 0), 1)
}

func TestHistogramEqualizationSpreadsValues(t *testing.T) {
	img := solid(4, 4, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	for x := 0; x < 4; x++ {
		img.Set(x, 3, color.NRGBA{R: 20, G: 20, B: 20, A: 255})
	}
	out := adjustContrast(img, constants.ContrastHistogramEqualization)
	assert.Equal(t, uint8(255), out.NRGBAAt(0, 3).R)
	assert.Greater(t, out.NRGBAAt(0, 0).R, uint8(10))

	// Clipping keeps the adaptive variant from blowing two levels apart.
	adaptive := adjustContrast(img, constants.ContrastAdaptiveEqualization)
	assert.Greater(t, adaptive.NRGBAAt(0, 3).R, adaptive.NRGBAAt(0, 0).R)
	assert.Less(t, adaptive.NRGBAAt(0, 3).R, uint8(128))
}

func TestParseSpecAcceptsStringDimensions(t *testing.T) {
	spec := mustSpec(t, `{"auto-orient":{"enabled":true},"resize":{"enabled":true,"format":"Stretch to","width":"416","height":416}}`)
	require.NotNil(t, spec.Resize)
	assert.Equal(t, FlexInt(416), spec.Resize.Width)
	assert.Equal(t, FlexInt(416), spec.Resize.Height)
	assert.True(t, spec.AutoOrient.IsEnabled())
	assert.False(t, spec.Grayscale.IsEnabled())
}

func TestConcatRejectsMismatchedShapes(t *testing.T) {
	a := &Tensor{Shape: []int64{1, 3, 2, 2}, Data: make([]float32, 12)}
	b := &Tensor{Shape: []int64{1, 3, 4, 4}, Data: make([]float32, 48)}
	_, err := Concat([]*Tensor{a, b})
	assert.Error(t, err)
}

// rotatedJPEG encodes a w x h JPEG tagged with EXIF orientation 6, which
// displays rotated 90 degrees clockwise.
func rotatedJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var enc bytes.Buffer
	require.NoError(t, jpeg.Encode(&enc, solid(w, h, color.NRGBA{R: 200, G: 100, B: 50, A: 255}), nil))

	tiff := []byte{
		'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x06, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	size := len(payload) + 2

	out := []byte{0xff, 0xd8, 0xff, 0xe1, byte(size >> 8), byte(size)}
	out = append(out, payload...)
	return append(out, enc.Bytes()[2:]...)
}

func TestAutoOrientDecision(t *testing.T) {
	raw := rotatedJPEG(t, 40, 20)
	upright := Dims{Height: 40, Width: 20}
	asStored := Dims{Height: 20, Width: 40}

	cases := []struct {
		name          string
		spec          string
		override      bool
		globalDisable bool
		want          Dims
	}{
		{"declared and allowed", `{"auto-orient":{"enabled":true}}`, false, false, upright},
		{"not declared", `{}`, false, false, asStored},
		{"disabled in spec", `{"auto-orient":{"enabled":false}}`, false, false, asStored},
		{"disabled for the call", `{"auto-orient":{"enabled":true}}`, true, false, asStored},
		{"disabled process-wide", `{"auto-orient":{"enabled":true}}`, false, true, asStored},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPipeline(mustSpec(t, tc.spec), constants.ResizeStretch, 16, 16,
				WithAutoOrientDisabled(tc.globalDisable))
			tensor, dims, err := p.Preprocess(raw, Overrides{DisableAutoOrient: tc.override})
			require.NoError(t, err)
			assert.Equal(t, tc.want, dims)
			assert.Equal(t, []int64{1, 3, 16, 16}, tensor.Shape)
		})
	}
}
