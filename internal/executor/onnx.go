package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/example/go-aotcheck/internal/config"
	"github.com/example/go-aotcheck/internal/program"
	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// ORTInfo describes a located ONNX Runtime library.
type ORTInfo struct {
	LibraryPath string
	Version     string
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var ortCandidates = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
	"C:/onnxruntime/lib/onnxruntime.dll",
}

// DetectORT locates the ONNX Runtime shared library: the configured path
// first, then the well-known install locations.
func DetectORT(cfg config.RuntimeConfig) (ORTInfo, error) {
	path := cfg.ORTLibraryPath

	if path == "" {
		for _, c := range ortCandidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	if path == "" {
		return ORTInfo{LibraryPath: "not found", Version: "unknown"}, errors.New("unable to detect ONNX Runtime library path")
	}

	if _, err := os.Stat(path); err != nil {
		return ORTInfo{LibraryPath: path, Version: "unknown"}, fmt.Errorf("onnx runtime library path check failed: %w", err)
	}

	version := cfg.ORTVersion
	if version == "" {
		if m := versionPattern.FindStringSubmatch(filepath.Base(path)); len(m) == 2 {
			version = m[1]
		}
	}

	if version == "" {
		version = "unknown"
	}

	return ORTInfo{LibraryPath: path, Version: version}, nil
}

// ONNX runs ONNX programs through ONNX Runtime. Each loaded handle owns its
// own runtime, env and session.
type ONNX struct {
	libraryPath string
	apiVersion  uint32
}

// NewONNX returns a loader for the library at cfg.ORTLibraryPath, detecting
// it when empty.
func NewONNX(cfg config.RuntimeConfig) (*ONNX, error) {
	info, err := DetectORT(cfg)
	if err != nil {
		return nil, err
	}

	apiVersion := cfg.ORTAPIVersion
	if apiVersion == 0 {
		apiVersion = 23
	}

	return &ONNX{libraryPath: info.LibraryPath, apiVersion: apiVersion}, nil
}

func (o *ONNX) Load(buf []byte) (*Handle, error) {
	p, err := program.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("executor: load: %w", err)
	}

	return o.load(p)
}

func (o *ONNX) load(p *program.Program) (*Handle, error) {
	if p.Format != program.FormatONNX {
		return nil, fmt.Errorf("%w: onnx loader cannot run %q programs", ErrUnsupportedFormat, p.Format)
	}

	// ORT sessions load from a path, so the payload goes through a temp file
	// that lives as long as the handle.
	dir, err := os.MkdirTemp("", "aotcheck-ort-*")
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(path, p.Payload, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("executor: write onnx payload: %w", err)
	}

	s, err := newORTSession(path, o.libraryPath, o.apiVersion)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	s.dir = dir

	return &Handle{program: p, backend: s}, nil
}

type ortSession struct {
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
	dir     string
}

func newORTSession(path, lib string, apiVersion uint32) (*ortSession, error) {
	runtime, err := ort.NewRuntime(lib, apiVersion)
	if err != nil {
		return nil, fmt.Errorf("initialize ONNX Runtime (lib=%q api=%d): %w", lib, apiVersion, err)
	}

	env, err := runtime.NewEnv("aotcheck", ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("create ONNX Runtime env: %w", err)
	}

	session, err := runtime.NewSession(env, path, nil)
	if err != nil {
		env.Close()
		_ = runtime.Close()

		return nil, fmt.Errorf("ort session for %s: %w", path, err)
	}

	return &ortSession{runtime: runtime, env: env, session: session}, nil
}

func (s *ortSession) run(ctx context.Context, m *program.Method, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	ortInputs := make(map[string]*ort.Value, len(inputs))
	defer closeORTValues(ortInputs)

	for i, t := range inputs {
		v, err := ort.NewTensorValue(s.runtime, t.RawData(), t.Shape())
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", m.InputNames[i], err)
		}

		ortInputs[m.InputNames[i]] = v
	}

	ortOutputs, err := s.session.Run(ctx, ortInputs)
	if err != nil {
		return nil, fmt.Errorf("ort run: %w", err)
	}
	defer closeORTValues(ortOutputs)

	outs := make([]*tensor.Tensor, len(m.OutputNames))

	for i, name := range m.OutputNames {
		v, ok := ortOutputs[name]
		if !ok {
			return nil, fmt.Errorf("ort run produced no output %q", name)
		}

		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}

		outs[i] = t
	}

	return outs, nil
}

func (s *ortSession) close() error {
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}

	if s.env != nil {
		s.env.Close()
		s.env = nil
	}

	var err error
	if s.runtime != nil {
		err = s.runtime.Close()
		s.runtime = nil
	}

	if s.dir != "" {
		err = errors.Join(err, os.RemoveAll(s.dir))
		s.dir = ""
	}

	return err
}

func ortToTensor(v *ort.Value) (*tensor.Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("get element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}

		return tensor.New(append([]float32(nil), data...), shape)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}

		f := make([]float32, len(data))
		for i, x := range data {
			f[i] = float32(x)
		}

		return tensor.New(f, shape)
	default:
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
