package model

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/lesion-api/internal/lesion"
)

// Metadata describes an exported classifier. It is read from a JSON sidecar
// shipped next to the .onnx file.
type Metadata struct {
	InputName      string   `json:"input_name"`
	OutputName     string   `json:"output_name"`
	InputShape     []int64  `json:"input_shape"`
	OutputShape    []int64  `json:"output_shape"`
	ImageSize      int      `json:"image_size"`
	Normalization  string   `json:"normalization"`
	MalignantIndex int      `json:"malignant_index"`
	Classes        []string `json:"classes"`
}

// DefaultMetadata matches the binary classifier: one sigmoid output on a
// 256×256 RGB input.
func DefaultMetadata() Metadata {
	return Metadata{
		InputName:     "input",
		OutputName:    "output",
		InputShape:    []int64{1, lesion.InputSize, lesion.InputSize, 3},
		OutputShape:   []int64{1, 1},
		ImageSize:     lesion.InputSize,
		Normalization: string(lesion.NormalizeCaffe),
		Classes:       []string{lesion.Benign.String(), lesion.Malignant.String()},
	}
}

// LoadMetadata reads the sidecar at path. A missing file, or an empty path,
// yields DefaultMetadata; fields left out of the file take their defaults.
func LoadMetadata(path string) (Metadata, error) {
	metadata := DefaultMetadata()
	if path == "" {
		return metadata, nil
	}

	metaFile, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return metadata, nil
	}
	if err != nil {
		return Metadata{}, errors.Wrap(err, "failed to read metadata")
	}

	var parsed Metadata
	if err := json.Unmarshal(metaFile, &parsed); err != nil {
		return Metadata{}, errors.Wrap(err, "failed to parse metadata")
	}
	if parsed.InputName != "" {
		metadata.InputName = parsed.InputName
	}
	if parsed.OutputName != "" {
		metadata.OutputName = parsed.OutputName
	}
	if len(parsed.InputShape) > 0 {
		metadata.InputShape = parsed.InputShape
	}
	if len(parsed.OutputShape) > 0 {
		metadata.OutputShape = parsed.OutputShape
	}
	if parsed.ImageSize > 0 {
		metadata.ImageSize = parsed.ImageSize
	}
	if parsed.Normalization != "" {
		metadata.Normalization = parsed.Normalization
	}
	if len(parsed.Classes) > 0 {
		metadata.Classes = parsed.Classes
	}
	metadata.MalignantIndex = parsed.MalignantIndex

	return metadata, metadata.Validate()
}

// Validate checks that the metadata describes a model the pipeline can feed.
func (m Metadata) Validate() error {
	if _, err := lesion.ParseNormalization(m.Normalization); err != nil {
		return err
	}
	want := []int64{1, int64(m.ImageSize), int64(m.ImageSize), 3}
	if len(m.InputShape) != len(want) {
		return errors.Errorf("input shape %v is not NHWC", m.InputShape)
	}
	for i := range want {
		if m.InputShape[i] != want[i] {
			return errors.Errorf("input shape %v does not match image size %d", m.InputShape, m.ImageSize)
		}
	}
	outputs := m.outputSize()
	if m.MalignantIndex < 0 || int64(m.MalignantIndex) >= outputs {
		return errors.Errorf("malignant index %d outside output of %d values", m.MalignantIndex, outputs)
	}
	return nil
}

// InputSize is the number of float32 values the model consumes.
func (m Metadata) InputSize() int {
	return int(product(m.InputShape))
}

func (m Metadata) outputSize() int64 {
	return product(m.OutputShape)
}

func product(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, dim := range shape {
		n *= dim
	}
	return n
}
