package lesion

import "github.com/pkg/errors"

// Threshold is the probability at and above which a lesion is called malignant.
const Threshold = 0.5

type Label int

const (
	Benign Label = iota
	Malignant
)

func (l Label) String() string {
	if l == Malignant {
		return "malignant"
	}
	return "benign"
}

// MarshalText lets a Label appear as its name in JSON.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Label) UnmarshalText(text []byte) error {
	switch string(text) {
	case "benign":
		*l = Benign
	case "malignant":
		*l = Malignant
	default:
		return errors.Errorf("unknown label %q", text)
	}
	return nil
}

// LabelFor applies the decision rule: p >= Threshold is malignant.
func LabelFor(p float32) Label {
	if p >= Threshold {
		return Malignant
	}
	return Benign
}

// Prediction is the outcome of classifying one image.
type Prediction struct {
	Probability float32 `json:"probability"`
	Label       Label   `json:"label"`
}

// Percentage is Probability expressed in percent.
func (p Prediction) Percentage() float32 {
	return p.Probability * 100
}
