// Package inference provides an ONNX Runtime backed nn.Model, so a
// trained policy/value network exported to ONNX can serve search
// evaluation requests directly.
package inference

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"puct/nn"
)

// OnnxConfig describes the exported network: one input tensor of
// ChannelSize floats per sample, one policy output per role (dense over
// that role's legal indices) and one reward output with NumRewards heads.
type OnnxConfig struct {
	ChannelSize int
	PolicySizes []int
	NumRewards  int

	InputName   string
	PolicyNames []string
	RewardName  string
}

func (c *OnnxConfig) validate() error {
	if c.ChannelSize <= 0 {
		return errors.New("channel size must be positive")
	}
	if len(c.PolicySizes) == 0 {
		return errors.New("at least one policy head is required")
	}
	if c.NumRewards <= 0 {
		return errors.New("at least one reward head is required")
	}
	if len(c.PolicyNames) != len(c.PolicySizes) {
		return errors.Errorf("have %d policy names for %d policy heads",
			len(c.PolicyNames), len(c.PolicySizes))
	}
	return nil
}

// RuntimeStats is a snapshot of the work a model has done.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
}

// OnnxModel implements nn.Model over one ONNX Runtime session.
type OnnxModel struct {
	session *ort.DynamicAdvancedSession
	cfg     OnnxConfig

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func initRuntime() error {
	ortInitOnce.Do(func() {
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

func NewOnnxModel(modelPath string, cfg OnnxConfig) (*OnnxModel, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid onnx config")
	}

	if err := initRuntime(); err != nil {
		return nil, errors.Wrap(err, "failed to init onnxruntime")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	// The search drives inference from a single cooperative loop, so
	// keep the intra-session parallelism down.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	outputs := append(append([]string{}, cfg.PolicyNames...), cfg.RewardName)

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{cfg.InputName}, outputs, options)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session for %s", modelPath)
	}

	return &OnnxModel{session: session, cfg: cfg}, nil
}

func (m *OnnxModel) Close() error {
	return m.session.Destroy()
}

func (m *OnnxModel) Stats() RuntimeStats {
	return RuntimeStats{
		TotalBatches:  m.totalBatches.Load(),
		TotalItems:    m.totalItems.Load(),
		TotalRunNanos: m.totalRunNanos.Load(),
		LastBatchSize: m.lastBatchSize.Load(),
	}
}

type onnxResult struct {
	policies [][]float32
	rewards  []float32
}

func (r *onnxResult) Policy(role int) []float32 {
	return r.policies[role]
}

func (r *onnxResult) Reward(index int) float32 {
	return r.rewards[index]
}

// Predict runs one forward pass over count samples and splits the head
// outputs back into per-sample results.
func (m *OnnxModel) Predict(input []float32, count int) ([]nn.ModelResult, error) {
	if count <= 0 {
		return nil, errors.New("empty batch")
	}
	if len(input) != count*m.cfg.ChannelSize {
		return nil, errors.Errorf("input holds %d floats, want %d",
			len(input), count*m.cfg.ChannelSize)
	}

	inputTensor, err := ort.NewTensor(
		ort.NewShape(int64(count), int64(m.cfg.ChannelSize)), input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer inputTensor.Destroy()

	outputTensors := make([]*ort.Tensor[float32], 0, len(m.cfg.PolicySizes)+1)
	outputValues := make([]ort.Value, 0, len(m.cfg.PolicySizes)+1)
	defer func() {
		for _, t := range outputTensors {
			t.Destroy()
		}
	}()

	for _, size := range m.cfg.PolicySizes {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(count), int64(size)))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create policy tensor")
		}
		outputTensors = append(outputTensors, t)
		outputValues = append(outputValues, t)
	}

	rewardTensor, err := ort.NewEmptyTensor[float32](
		ort.NewShape(int64(count), int64(m.cfg.NumRewards)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create reward tensor")
	}
	outputTensors = append(outputTensors, rewardTensor)
	outputValues = append(outputValues, rewardTensor)

	start := time.Now()
	if err := m.session.Run([]ort.Value{inputTensor}, outputValues); err != nil {
		return nil, errors.Wrap(err, "inference run failed")
	}

	m.totalBatches.Add(1)
	m.totalItems.Add(int64(count))
	m.totalRunNanos.Add(time.Since(start).Nanoseconds())
	m.lastBatchSize.Store(int64(count))

	rewardData := rewardTensor.GetData()

	results := make([]nn.ModelResult, count)
	for i := 0; i < count; i++ {
		res := &onnxResult{
			policies: make([][]float32, len(m.cfg.PolicySizes)),
			rewards:  make([]float32, m.cfg.NumRewards),
		}

		for ri, size := range m.cfg.PolicySizes {
			data := outputTensors[ri].GetData()
			policy := make([]float32, size)
			copy(policy, data[i*size:(i+1)*size])
			res.policies[ri] = policy
		}

		copy(res.rewards, rewardData[i*m.cfg.NumRewards:(i+1)*m.cfg.NumRewards])

		results[i] = res
	}

	return results, nil
}
