package searcher

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// dirichletNoise draws one Gamma(alpha, 1) sample per child and
// normalises them, giving a symmetric Dirichlet sample over the node's
// edges. Returns nil when noise is disabled, off-root, or the total is
// sub-normal (skip noise for this call rather than divide by ~0).
func (e *Evaluator) dirichletNoise(node *Node, depth int) []float32 {
	if depth != 0 {
		return nil
	}

	// A zero alpha would only produce a sub-normal total; skip outright.
	if e.conf.DirichletNoiseAlpha <= 0 {
		return nil
	}

	gamma := distuv.Gamma{
		Alpha: e.conf.DirichletNoiseAlpha,
		Beta:  1.0,
		Src:   e.rngSource,
	}

	res := make([]float32, node.NumChildren())
	totalNoise := float32(0)
	for i := range res {
		res[i] = float32(gamma.Rand())
		totalNoise += res[i]
	}

	if totalNoise < 1e-38 {
		return nil
	}

	for i := range res {
		res[i] /= totalNoise
	}

	return res
}

// policySquashActive decides, once per selection sweep at the root,
// whether priors above NoisePolicySquashPct are capped for this call.
// The cap is applied to the effective prior only, never stored.
func (e *Evaluator) policySquashActive() bool {
	if e.conf.NoisePolicySquashProb <= 0 || e.conf.NoisePolicySquashPct <= 0 {
		return false
	}
	return e.rng.Float32() < e.conf.NoisePolicySquashProb
}
