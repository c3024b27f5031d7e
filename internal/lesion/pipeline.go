// Package lesion holds the inference contract shared by every front end:
// decode, preprocess, forward pass and the malignant/benign decision.
package lesion

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/pkg/errors"
)

// ErrUnsupportedImage is returned for uploads that are not a decodable JPEG or PNG.
var ErrUnsupportedImage = errors.New("unsupported or corrupt image")

// Predictor runs the forward pass on a flattened NHWC input and returns
// P(malignant).
type Predictor interface {
	Predict(input []float32) (float32, error)
}

type Pipeline struct {
	predictor Predictor
	size      int
	norm      Normalization
}

// NewPipeline binds the preprocessing recipe of a model to its predictor.
func NewPipeline(predictor Predictor, size int, norm Normalization) *Pipeline {
	if size <= 0 {
		size = InputSize
	}
	return &Pipeline{
		predictor: predictor,
		size:      size,
		norm:      norm,
	}
}

// Classify returns the raw malignant probability for img. Any decodable image
// yields a number; nothing is flagged for inputs that are not lesions.
func (p *Pipeline) Classify(img image.Image) (float32, error) {
	if img.Bounds().Empty() {
		return 0, errors.Wrap(ErrUnsupportedImage, "image has no pixels")
	}
	tensor := Preprocess(img, p.size, p.norm)
	prob, err := p.predictor.Predict(tensor.Data)
	if err != nil {
		return 0, errors.Wrap(err, "forward pass failed")
	}
	return prob, nil
}

// Predict classifies img and applies the decision rule.
func (p *Pipeline) Predict(img image.Image) (Prediction, error) {
	prob, err := p.Classify(img)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Probability: prob, Label: LabelFor(prob)}, nil
}

// MaxPixels caps the decoded area of an upload. Decoding allocates the full
// pixel buffer, so the cap is checked against the header before decoding.
const MaxPixels = 64 << 20

// Decode reads a JPEG or PNG image, keeping its pixel dimensions.
func Decode(r io.Reader) (image.Image, string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to read image")
	}
	return DecodeBytes(b)
}

// DecodeBytes is Decode over an in-memory upload.
func DecodeBytes(b []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, "", errors.Wrap(ErrUnsupportedImage, err.Error())
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", errors.Wrapf(ErrUnsupportedImage, "%dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, "", errors.Wrap(ErrUnsupportedImage, err.Error())
	}
	return img, format, nil
}
