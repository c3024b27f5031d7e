package model

import (
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/lesion-api/internal/artifact"
)

// ErrInputSize is returned when Predict is handed a tensor of the wrong length.
var ErrInputSize = errors.New("input does not match model input shape")

// ErrClosed is returned by Predict once the session has been released.
var ErrClosed = errors.New("model server is closed")

// Server owns one ONNX Runtime session for the lifetime of the process.
// The session reuses its input and output tensors, so runs are serialized.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// UseLibrary points ONNX Runtime at the shared library to load. It must be
// called before NewServer; an empty path keeps the platform default.
func UseLibrary(path string) {
	if path != "" {
		ort.SetSharedLibraryPath(path)
	}
}

// NewServer loads the model at modelPath described by the sidecar at
// metadataPath. A file that is not a binary artifact (for example a saved
// download warning page) is rejected before ONNX Runtime is touched.
func NewServer(modelPath, metadataPath string) (*Server, error) {
	if err := artifact.Sniff(modelPath); err != nil {
		return nil, errors.Wrap(err, "refusing to load model")
	}

	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "failed to initialize ONNX environment")
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create ONNX session")
	}

	return &Server{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Predict runs one forward pass and returns P(malignant).
func (s *Server) Predict(inputData []float32) (float32, error) {
	if len(inputData) != s.Metadata.InputSize() {
		return 0, errors.Wrapf(ErrInputSize, "expected %d values, got %d", s.Metadata.InputSize(), len(inputData))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return 0, ErrClosed
	}
	copy(s.inputTensor.GetData(), inputData)
	if err := s.session.Run(); err != nil {
		return 0, errors.Wrap(err, "inference failed")
	}
	return s.outputTensor.GetData()[s.Metadata.MalignantIndex], nil
}

// Close releases the session, its tensors and the ONNX environment.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return ort.DestroyEnvironment()
}
