package scoring

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/quipu/debitcheck/internal/features"
)

// Default tensor names for sklearn models exported with skl2onnx
// (zipmap disabled so probabilities come back as a plain tensor).
const (
	defaultONNXInput  = "float_input"
	defaultONNXOutput = "probabilities"
)

var ortInitOnce sync.Once

// ONNXScorer runs a sklearn-exported .onnx classifier through the
// onnxruntime shared library. The session is created at load and held
// until Close.
type ONNXScorer struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	numInputs  int64
}

// NewONNXScorer loads the model at modelPath. libraryPath points at
// libonnxruntime; empty means the platform default lookup. numInputs is
// the model's expected feature count.
func NewONNXScorer(modelPath, libraryPath, inputName, outputName string, numInputs int) (*ONNXScorer, error) {
	if inputName == "" {
		inputName = defaultONNXInput
	}
	if outputName == "" {
		outputName = defaultONNXOutput
	}

	var initErr error
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputName}, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXScorer{
		session:    session,
		inputName:  inputName,
		outputName: outputName,
		numInputs:  int64(numInputs),
	}, nil
}

// Score runs one inference. The positive-class probability is the second
// column of the probabilities tensor.
func (s *ONNXScorer) Score(ctx context.Context, vec *features.Vector) (float64, error) {
	if int64(vec.Len()) != s.numInputs {
		return 0, fmt.Errorf("vector has %d features, model expects %d: %w",
			vec.Len(), s.numInputs, ErrSchemaMismatch)
	}

	values := vec.Values()
	input32 := make([]float32, len(values))
	for i, v := range values {
		input32[i] = float32(v)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, s.numInputs), input32)
	if err != nil {
		return 0, fmt.Errorf("build input tensor: %v: %w", err, ErrInference)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2))
	if err != nil {
		return 0, fmt.Errorf("build output tensor: %v: %w", err, ErrInference)
	}
	defer outputTensor.Destroy()

	// onnxruntime sessions are not safe for concurrent Run calls.
	s.mu.Lock()
	err = s.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor})
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("run onnx session: %v: %w", err, ErrInference)
	}

	probs := outputTensor.GetData()
	if len(probs) != 2 {
		return 0, fmt.Errorf("probabilities tensor has %d values, want 2: %w",
			len(probs), ErrInference)
	}
	return float64(probs[1]), nil
}

// Close destroys the session. The shared onnxruntime environment stays
// initialized for the process lifetime.
func (s *ONNXScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		return err
	}
	return nil
}
