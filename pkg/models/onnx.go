package models

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"
)

// ortInitOnce ensures ONNX Runtime is initialized only once
var ortInitOnce sync.Once
var ortInitErr error

// ONNXNetwork runs an exported frame classification network with ONNX
// Runtime. The model takes (1, bins, frames) float32 input and returns
// (1, classes, frames) logits. It cannot be trained.
type ONNXNetwork struct {
	inputName  string
	outputName string
	classes    int
	device     string
	session    *ort.DynamicAdvancedSession
}

// NewONNXNetwork returns a network with no model loaded. Call LoadFile first.
func NewONNXNetwork(inputName, outputName string, classes int, device string) *ONNXNetwork {
	return &ONNXNetwork{inputName: inputName, outputName: outputName, classes: classes, device: device}
}

// getONNXLibPath returns the path to the ONNX Runtime shared library.
func getONNXLibPath() string {
	// Check environment variable first
	if path := os.Getenv("ONNXRUNTIME_LIB_PATH"); path != "" {
		return path
	}

	candidates := []string{
		"/opt/homebrew/lib/libonnxruntime.dylib",          // macOS ARM (Homebrew)
		"/usr/local/lib/libonnxruntime.dylib",             // macOS Intel (Homebrew)
		"/usr/lib/libonnxruntime.so",                      // Linux
		"/usr/local/lib/libonnxruntime.so",                // Linux (manual install)
		"C:\\Program Files\\onnxruntime\\onnxruntime.dll", // Windows
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Fallback - let the library try to find it
	return "onnxruntime"
}

func initORT() error {
	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(getONNXLibPath())
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", ortInitErr)
	}
	return nil
}

// ONNXModelInfo lists the input and output tensors of an .onnx file.
type ONNXModelInfo struct {
	Inputs  []ort.InputOutputInfo
	Outputs []ort.InputOutputInfo
}

// InspectONNX reads the tensor names and shapes of the .onnx file at path.
func InspectONNX(path string) (*ONNXModelInfo, error) {
	if err := initORT(); err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}
	return &ONNXModelInfo{Inputs: inputs, Outputs: outputs}, nil
}

// Check reports whether the model has the named input and output, and that
// the input is rank 3 like (1, bins, frames).
func (m *ONNXModelInfo) Check(inputName, outputName string) error {
	find := func(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, []string, bool) {
		var names []string
		for _, info := range infos {
			if info.Name == name {
				return info, nil, true
			}
			names = append(names, info.Name)
		}
		return ort.InputOutputInfo{}, names, false
	}

	in, names, ok := find(m.Inputs, inputName)
	if !ok {
		return fmt.Errorf("model has no input %q, inputs are %v", inputName, names)
	}
	if len(in.Dimensions) != 3 {
		return fmt.Errorf("input %q has shape %v, expected (1, bins, frames)", inputName, in.Dimensions)
	}
	if _, names, ok := find(m.Outputs, outputName); !ok {
		return fmt.Errorf("model has no output %q, outputs are %v", outputName, names)
	}
	return nil
}

// LoadFile creates an inference session for the .onnx file at path.
func (n *ONNXNetwork) LoadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("onnx model not found at %s: %w", path, err)
	}

	info, err := InspectONNX(path)
	if err != nil {
		return err
	}
	if err := info.Check(n.inputName, n.outputName); err != nil {
		return fmt.Errorf("onnx model %s: %w", path, err)
	}

	var opts *ort.SessionOptions
	if n.device == DeviceCUDA {
		if opts, err = cudaSessionOptions(); err != nil {
			return err
		}
		defer opts.Destroy()
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{n.inputName}, []string{n.outputName}, opts)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if n.session != nil {
		n.session.Destroy()
	}
	n.session = session
	return nil
}

func cudaSessionOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to create CUDA options: %w", err)
	}
	defer cuda.Destroy()
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to enable CUDA: %w", err)
	}
	return opts, nil
}

// Close releases ONNX Runtime resources.
func (n *ONNXNetwork) Close() error {
	if n.session != nil {
		n.session.Destroy()
		n.session = nil
	}
	return nil
}

// Params returns nothing; weights live in the model file.
func (n *ONNXNetwork) Params() []*Param {
	return nil
}

// Backward always fails.
func (n *ONNXNetwork) Backward(*Activations, *mat.Dense) error {
	return ErrPredictOnly
}

// Forward runs one window through the session.
func (n *ONNXNetwork) Forward(x *mat.Dense) (*Activations, error) {
	if n.session == nil {
		return nil, fmt.Errorf("no onnx model loaded")
	}

	bins, frames := x.Dims()
	flat := make([]float32, 0, bins*frames)
	for b := 0; b < bins; b++ {
		for _, v := range x.RawRowView(b) {
			flat = append(flat, float32(v))
		}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(bins), int64(frames)), flat)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// nil for auto-allocation
	outputs := []ort.Value{nil}
	if err := n.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("model inference failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("model output was nil")
	}
	defer outputs[0].Destroy()

	shape := outputs[0].GetShape()
	if len(shape) != 3 || int(shape[1]) != n.classes || int(shape[2]) != frames {
		return nil, fmt.Errorf("unexpected output shape %v, expected [1 %d %d]", shape, n.classes, frames)
	}
	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	data := outputTensor.GetData()

	// (classes, frames) to frames × classes
	logits := mat.NewDense(frames, n.classes, nil)
	for c := 0; c < n.classes; c++ {
		for t := 0; t < frames; t++ {
			logits.Set(t, c, float64(data[c*frames+t]))
		}
	}
	return &Activations{Logits: logits}, nil
}
