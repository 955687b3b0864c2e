package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mbd888/fraudscope/internal/traces"
	ort "github.com/yalue/onnxruntime_go"
)

// Default tensor names produced by the training export.
const (
	DefaultONNXInput  = "input"
	DefaultONNXOutput = "probabilities"
)

var ortInit sync.Mutex

// ONNX runs an exported classifier through ONNX Runtime. The output tensor
// is [1, 2] class probabilities; column 1 is fraud.
type ONNX struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	width   int

	mu sync.Mutex
}

// LoadONNX creates a session for modelPath with a [1, width] float32 input.
func LoadONNX(bundleDir, modelPath, inputName, outputName string, width int) (*ONNX, error) {
	if width <= 0 {
		return nil, errors.New("feature width must be positive")
	}
	if inputName == "" {
		inputName = DefaultONNXInput
	}
	if outputName == "" {
		outputName = DefaultONNXOutput
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}
	if err := initRuntime(bundleDir); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(width)))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNX{session: session, input: input, output: output, width: width}, nil
}

func initRuntime(bundleDir string) error {
	ortInit.Lock()
	defer ortInit.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	libPath := resolveSharedLibraryPath(bundleDir)
	if libPath == "" {
		return errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

func (o *ONNX) PredictProba(ctx context.Context, x []float32) (float64, error) {
	_, span := traces.StartSpan(ctx, "model.PredictProba", traces.FeatureCount(len(x)))
	defer span.End()

	if len(x) != o.width {
		err := fmt.Errorf("%w: got %d, want %d", ErrInputSize, len(x), o.width)
		traces.Fail(span, err)
		return 0, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return 0, ErrModelNotLoaded
	}

	copy(o.input.GetData(), x)
	if err := o.session.Run(); err != nil {
		traces.Fail(span, err)
		return 0, fmt.Errorf("onnx run: %w", err)
	}
	probs := o.output.GetData()
	if len(probs) < 2 {
		return 0, fmt.Errorf("onnx output has %d values, want 2", len(probs))
	}
	return float64(probs[1]), nil
}

// Close destroys the session. In-flight runs finish first.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	err := errors.Join(o.session.Destroy(), o.input.Destroy(), o.output.Destroy())
	o.session = nil
	return err
}

// resolveSharedLibraryPath prefers ONNXRUNTIME_SHARED_LIBRARY_PATH, then
// searches the bundle directory and common install locations.
func resolveSharedLibraryPath(bundleDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.so",
		"onnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		"/usr/local/lib",
		"/usr/lib",
		"/opt/homebrew/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
