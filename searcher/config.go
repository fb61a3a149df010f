package searcher

import (
	"time"

	"github.com/rs/zerolog/log"
)

// ChoosePolicy selects how the final root move is picked.
type ChoosePolicy int

const (
	ChooseTopVisits ChoosePolicy = iota
	ChooseTemperature
)

func (c ChoosePolicy) String() string {
	switch c {
	case ChooseTopVisits:
		return "choose_top_visits"
	case ChooseTemperature:
		return "choose_temperature"
	default:
		return "choose_unknown"
	}
}

// Config carries every recognised search parameter. BatchSize > 1 turns
// on the cooperative variant: worker tasks, inflight-visit bookkeeping,
// transpositions, minimax back-up and think-time stopping. BatchSize <= 1
// gives the synchronous single-worker variant with spine preservation and
// the convergence multiplier.
type Config struct {
	Verbose      bool
	MatchMode    bool
	MaxDumpDepth int

	PuctConstant     float32
	PuctConstantRoot float32

	// Before/after split: while fewer than PuctBeforeExpansions children
	// are expanded (PuctBeforeRootExpansions at the root) the constant is
	// PuctConstantBefore, afterwards PuctConstantAfter. Disabled when
	// PuctBeforeExpansions is zero.
	PuctConstantBefore       float32
	PuctConstantAfter        float32
	PuctBeforeExpansions     int
	PuctBeforeRootExpansions int

	RootExpansionsPresetVisits int

	DirichletNoiseAlpha float64
	DirichletNoisePct   float32

	NoisePolicySquashPct  float32
	NoisePolicySquashProb float32

	FpuPriorDiscount     float32
	FpuPriorDiscountRoot float32

	Choose ChoosePolicy

	Temperature               float32
	DepthTemperatureStart     int
	DepthTemperatureStop      int
	DepthTemperatureMax       float32
	DepthTemperatureIncrement float32
	RandomScale               float32

	TopVisitsBestGuessConvergeRatio float32

	EvaluationMultiplierToConvergence float32

	ThinkTime          time.Duration
	ConvergeRelaxed    int
	ConvergeNonRelaxed int

	BatchSize int

	ExpandThresholdVisits     int
	NumberOfExpansionsEndGame int

	MinimaxBackupRatio     float32
	MinimaxThresholdVisits int

	UseLegalsCountDraw int
}

func DefaultConfig() *Config {
	return &Config{
		MaxDumpDepth: 2,

		PuctConstant:     0.85,
		PuctConstantRoot: 0.85,

		PuctConstantBefore:       3.0,
		PuctConstantAfter:        0.75,
		PuctBeforeExpansions:     0,
		PuctBeforeRootExpansions: 0,

		RootExpansionsPresetVisits: -1,

		DirichletNoiseAlpha: -1,
		DirichletNoisePct:   0.25,

		FpuPriorDiscount:     -1,
		FpuPriorDiscountRoot: -1,

		Choose: ChooseTopVisits,

		Temperature:               1.0,
		DepthTemperatureStart:     5,
		DepthTemperatureStop:      10,
		DepthTemperatureMax:       5.0,
		DepthTemperatureIncrement: 0.5,
		RandomScale:               0.5,

		TopVisitsBestGuessConvergeRatio: 0.8,

		EvaluationMultiplierToConvergence: 2.0,

		ConvergeRelaxed:    5000,
		ConvergeNonRelaxed: 1000,

		BatchSize: 1,

		ExpandThresholdVisits:     42,
		NumberOfExpansionsEndGame: 2,

		MinimaxBackupRatio:     0,
		MinimaxThresholdVisits: 200,
	}
}

// batched reports whether the cooperative feature set is active.
func (c *Config) batched() bool {
	return c.BatchSize > 1
}

// UpdateConfig swaps the active configuration. Effective values are
// logged when verbose.
func (e *Evaluator) UpdateConfig(conf *Config) {
	if conf.Verbose {
		log.Info().Msgf("config verbose: %v, dump_depth: %d, choice: %s",
			conf.Verbose, conf.MaxDumpDepth, conf.Choose)

		log.Info().Msgf("puct constant %.2f, root: %.2f, before/after: %.2f/%.2f (expansions %d/%d)",
			conf.PuctConstant, conf.PuctConstantRoot,
			conf.PuctConstantBefore, conf.PuctConstantAfter,
			conf.PuctBeforeExpansions, conf.PuctBeforeRootExpansions)

		log.Info().Msgf("dirichlet_noise (alpha: %.2f, pct: %.2f), fpu_prior_discount: %.2f/%.2f",
			conf.DirichletNoiseAlpha, conf.DirichletNoisePct,
			conf.FpuPriorDiscount, conf.FpuPriorDiscountRoot)

		log.Info().Msgf("noise policy squash (pct: %.2f, prob: %.2f)",
			conf.NoisePolicySquashPct, conf.NoisePolicySquashProb)

		log.Info().Msgf("temperature: %.2f, start(%d), stop(%d), incr(%.2f), max(%.2f), scale(%.2f)",
			conf.Temperature, conf.DepthTemperatureStart, conf.DepthTemperatureStop,
			conf.DepthTemperatureIncrement, conf.DepthTemperatureMax, conf.RandomScale)

		log.Info().Msgf("converge_ratio: %.2f, minimax (ratio %.2f, thres %d)",
			conf.TopVisitsBestGuessConvergeRatio,
			conf.MinimaxBackupRatio, conf.MinimaxThresholdVisits)

		log.Info().Msgf("think %s, relaxed %d/%d, batch_size %d",
			conf.ThinkTime, conf.ConvergeRelaxed, conf.ConvergeNonRelaxed,
			conf.BatchSize)

		log.Info().Msgf("expand_threshold_visits %d, #expansions_end_game %d, legals_count_draw %d",
			conf.ExpandThresholdVisits, conf.NumberOfExpansionsEndGame,
			conf.UseLegalsCountDraw)
	}

	e.conf = conf
}
