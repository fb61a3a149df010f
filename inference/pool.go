package inference

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"puct/nn"
)

// OnnxPool fans Predict calls out over several sessions of the same
// model round-robin, so independent search sessions don't serialise on
// one runtime session.
type OnnxPool struct {
	models []*OnnxModel
	rr     atomic.Uint64
}

func NewOnnxPool(modelPath string, sessions int, cfg OnnxConfig) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	models := make([]*OnnxModel, 0, sessions)
	for i := 0; i < sessions; i++ {
		m, err := NewOnnxModel(modelPath, cfg)
		if err != nil {
			for _, created := range models {
				_ = created.Close()
			}
			return nil, errors.Wrapf(err, "create onnx session %d/%d", i+1, sessions)
		}
		models = append(models, m)
	}

	return &OnnxPool{models: models}, nil
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, m := range p.models {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *OnnxPool) Stats() RuntimeStats {
	var out RuntimeStats
	for _, m := range p.models {
		st := m.Stats()
		out.TotalBatches += st.TotalBatches
		out.TotalItems += st.TotalItems
		out.TotalRunNanos += st.TotalRunNanos
		if st.LastBatchSize > out.LastBatchSize {
			out.LastBatchSize = st.LastBatchSize
		}
	}
	return out
}

func (p *OnnxPool) Predict(input []float32, count int) ([]nn.ModelResult, error) {
	if len(p.models) == 0 {
		return nil, errors.New("onnx pool has no sessions")
	}
	idx := int(p.rr.Add(1)-1) % len(p.models)
	return p.models[idx].Predict(input, count)
}
