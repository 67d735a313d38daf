package model

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/anime-style-api/internal/pipeline"
)

// InputName is the input slot of the AnimeGANv2 generators.
const InputName = "input_image"

var (
	runtimeMu  sync.Mutex
	runtimeErr error
	runtimeUp  bool
)

// InitRuntime loads the ONNX Runtime shared library and initializes its
// environment. It is safe to call more than once; later calls are no-ops
// returning the first result.
func InitRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeUp || runtimeErr != nil {
		return runtimeErr
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		runtimeErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		return runtimeErr
	}
	runtimeUp = true
	return nil
}

// DestroyRuntime releases the ONNX Runtime environment.
func DestroyRuntime() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeUp {
		ort.DestroyEnvironment()
		runtimeUp = false
	}
}

// EngineOptions selects the execution provider and threading of a session.
type EngineOptions struct {
	// Provider is "cpu" or "cuda". CUDA falls back to CPU when unavailable.
	Provider       string
	IntraOpThreads int
}

// ONNXEngine runs a generator with ONNX Runtime.
type ONNXEngine struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	path       string
}

// NewONNXEngine opens the weights in a as an ONNX Runtime session.
// InitRuntime must have succeeded first.
func NewONNXEngine(a Artifacts, opts EngineOptions) (*ONNXEngine, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(a.Weights)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no inputs or outputs", a.Weights)
	}

	inputName := inputs[0].Name
	for _, in := range inputs {
		if in.Name == InputName {
			inputName = in.Name
			break
		}
	}
	outputName := outputs[0].Name

	sessionOpts, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer sessionOpts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(a.Weights,
		[]string{inputName}, []string{outputName}, sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEngine{
		session:    session,
		inputName:  inputName,
		outputName: outputName,
		path:       a.Weights,
	}, nil
}

func newSessionOptions(opts EngineOptions) (*ort.SessionOptions, error) {
	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	if strings.EqualFold(opts.Provider, "cuda") {
		if err := appendCUDA(sessionOpts); err != nil {
			log.Printf("CUDA provider unavailable, using CPU: %v", err)
		}
	}
	return sessionOpts, nil
}

func appendCUDA(sessionOpts *ort.SessionOptions) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOpts.Destroy()
	return sessionOpts.AppendExecutionProviderCUDA(cudaOpts)
}

// Forward runs the generator once on input. There is no retry.
func (e *ONNXEngine) Forward(ctx context.Context, input *pipeline.Tensor) (*pipeline.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrInference, err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %v", pipeline.ErrInference, err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrInference, e.path, err)
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: output %q is not a float32 tensor", pipeline.ErrInference, e.outputName)
	}

	// The output is copied out so the ONNX value can be released.
	data := outputTensor.GetData()
	return &pipeline.Tensor{
		Shape: append([]int64(nil), outputTensor.GetShape()...),
		Data:  append([]float32(nil), data...),
	}, nil
}

// Close releases the session.
func (e *ONNXEngine) Close() error {
	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil
		return err
	}
	return nil
}

// OpenONNX is an Opener backed by ONNX Runtime.
func OpenONNX(opts EngineOptions) Opener {
	return func(a Artifacts) (pipeline.Engine, error) {
		return NewONNXEngine(a, opts)
	}
}
