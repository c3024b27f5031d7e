package lesion

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// InputSize is the spatial resolution the classifier was trained on.
const InputSize = 256

// Normalization is the input recipe of the backbone the classifier was
// trained with. It is a property of the model artifact, not a user setting.
type Normalization string

const (
	// NormalizeCaffe flips RGB to BGR and subtracts the ImageNet channel means
	// without scaling.
	NormalizeCaffe Normalization = "caffe"
	// NormalizeTorch scales to [0,1] then standardizes with ImageNet mean/std.
	NormalizeTorch Normalization = "torch"
	// NormalizeTF scales to [-1,1].
	NormalizeTF Normalization = "tf"
	// NormalizeNone passes raw 0-255 values, for graphs that rescale internally.
	NormalizeNone Normalization = "none"
)

var (
	caffeMean = [3]float32{103.939, 116.779, 123.68} // BGR
	torchMean = [3]float32{0.485, 0.456, 0.406}
	torchStd  = [3]float32{0.229, 0.224, 0.225}
)

// ParseNormalization validates a recipe name. Empty means NormalizeCaffe.
func ParseNormalization(name string) (Normalization, error) {
	switch n := Normalization(name); n {
	case "":
		return NormalizeCaffe, nil
	case NormalizeCaffe, NormalizeTorch, NormalizeTF, NormalizeNone:
		return n, nil
	default:
		return "", errors.Errorf("unknown normalization %q", name)
	}
}

// Tensor is a dense float32 tensor in NHWC layout.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Preprocess stretches img to size×size (aspect ratio is not kept), lays the
// pixels out as a (1, size, size, 3) tensor and normalizes them.
func Preprocess(img image.Image, size int, norm Normalization) *Tensor {
	resized := resize.Resize(uint(size), uint(size), dropAlpha(img), resize.Bicubic)
	bounds := resized.Bounds()

	data := make([]float32, size*size*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			r, g, b := normalizePixel(float32(c.R), float32(c.G), float32(c.B), norm)
			data[i], data[i+1], data[i+2] = r, g, b
			i += 3
		}
	}

	return &Tensor{
		Shape: []int64{1, int64(size), int64(size), 3},
		Data:  data,
	}
}

// dropAlpha makes img opaque by discarding its alpha channel. Transparent
// pixels keep their colour instead of turning black.
func dropAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return out
}

func normalizePixel(r, g, b float32, norm Normalization) (float32, float32, float32) {
	switch norm {
	case NormalizeTorch:
		return (r/255 - torchMean[0]) / torchStd[0],
			(g/255 - torchMean[1]) / torchStd[1],
			(b/255 - torchMean[2]) / torchStd[2]
	case NormalizeTF:
		return r/127.5 - 1, g/127.5 - 1, b/127.5 - 1
	case NormalizeNone:
		return r, g, b
	default:
		return b - caffeMean[0], g - caffeMean[1], r - caffeMean[2]
	}
}
