package lesion

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

// meanSigmoid is a deterministic stand-in for the network: the sigmoid of the
// scaled mean activation.
type meanSigmoid struct {
	calls int
	last  []float32
}

func (m *meanSigmoid) Predict(input []float32) (float32, error) {
	m.calls++
	m.last = input
	var sum float64
	for _, v := range input {
		sum += float64(v)
	}
	mean := sum / float64(len(input))
	return float32(1 / (1 + math.Exp(-mean/32))), nil
}

type constant float32

func (c constant) Predict([]float32) (float32, error) { return float32(c), nil }

type failing struct{}

func (failing) Predict([]float32) (float32, error) { return 0, errors.New("session closed") }

func grayJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	err := jpeg.Encode(&buf, solid(w, h, color.Gray{Y: 128}), &jpeg.Options{Quality: 90})
	test.That(t, err, test.ShouldBeNil)
	return buf.Bytes()
}

func TestClassifyMidGrayJPEG(t *testing.T) {
	img, format, err := DecodeBytes(grayJPEG(t, 256, 256))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, format, test.ShouldEqual, "jpeg")

	model := &meanSigmoid{}
	pipeline := NewPipeline(model, InputSize, NormalizeCaffe)

	first, err := pipeline.Predict(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Probability, test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, first.Probability, test.ShouldBeLessThanOrEqualTo, 1)
	test.That(t, first.Label, test.ShouldEqual, LabelFor(first.Probability))
	test.That(t, model.last, test.ShouldHaveLength, 256*256*3)

	second, err := pipeline.Predict(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Float32bits(second.Probability), test.ShouldEqual, math.Float32bits(first.Probability))
	test.That(t, model.calls, test.ShouldEqual, 2)
}

func TestClassifySequentialUploadsAreBitIdentical(t *testing.T) {
	upload := grayJPEG(t, 640, 480)
	pipeline := NewPipeline(&meanSigmoid{}, InputSize, NormalizeCaffe)

	var probs []float32
	for i := 0; i < 2; i++ {
		img, _, err := DecodeBytes(upload)
		test.That(t, err, test.ShouldBeNil)
		p, err := pipeline.Classify(img)
		test.That(t, err, test.ShouldBeNil)
		probs = append(probs, p)
	}
	test.That(t, math.Float32bits(probs[0]), test.ShouldEqual, math.Float32bits(probs[1]))
}

func TestPredictAppliesThreshold(t *testing.T) {
	img := solid(10, 10, color.White)

	p, err := NewPipeline(constant(0.5), 0, NormalizeCaffe).Predict(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Label, test.ShouldEqual, Malignant)
	test.That(t, p.Percentage(), test.ShouldAlmostEqual, 50, 1e-4)

	p, err = NewPipeline(constant(0.1234), 0, NormalizeCaffe).Predict(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Label, test.ShouldEqual, Benign)
}

func TestClassifyErrors(t *testing.T) {
	_, err := NewPipeline(failing{}, InputSize, NormalizeCaffe).Classify(solid(4, 4, color.White))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "forward pass failed")

	_, err = NewPipeline(constant(0.9), InputSize, NormalizeCaffe).Classify(image.NewRGBA(image.Rectangle{}))
	test.That(t, errors.Is(err, ErrUnsupportedImage), test.ShouldBeTrue)
}

func TestDecodeRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 317, 149))
	for y := 0; y < 149; y++ {
		for x := 0; x < 317; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}

	var pngBuf, jpgBuf bytes.Buffer
	test.That(t, png.Encode(&pngBuf, src), test.ShouldBeNil)
	test.That(t, jpeg.Encode(&jpgBuf, src, nil), test.ShouldBeNil)

	for format, b := range map[string][]byte{"png": pngBuf.Bytes(), "jpeg": jpgBuf.Bytes()} {
		img, got, err := DecodeBytes(b)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, format)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 317)
		test.That(t, img.Bounds().Dy(), test.ShouldEqual, 149)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := DecodeBytes([]byte("GIF89a definitely not supported"))
	test.That(t, errors.Is(err, ErrUnsupportedImage), test.ShouldBeTrue)

	_, _, err = DecodeBytes(nil)
	test.That(t, errors.Is(err, ErrUnsupportedImage), test.ShouldBeTrue)
}

// pngHeader returns a PNG that declares w x h RGBA pixels but carries no
// image data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8
	ihdr[9] = 6

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	crc := crc32.NewIEEE()
	crc.Write([]byte("IHDR"))
	crc.Write(ihdr)
	buf.WriteString("IHDR")
	buf.Write(ihdr)
	binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

func TestDecodeRejectsOversizedDimensions(t *testing.T) {
	_, _, err := DecodeBytes(pngHeader(20000, 20000))
	test.That(t, errors.Is(err, ErrUnsupportedImage), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "20000x20000")

	_, _, err = DecodeBytes(pngHeader(8193, 8193))
	test.That(t, errors.Is(err, ErrUnsupportedImage), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exceeds")

	// within the cap the header passes and decoding fails on the missing data
	_, _, err = DecodeBytes(pngHeader(64, 64))
	test.That(t, errors.Is(err, ErrUnsupportedImage), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldNotContainSubstring, "exceeds")
}
