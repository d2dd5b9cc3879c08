package risk

import (
	"errors"
	"testing"

	"haccp-core/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate_DefaultMultiplication(t *testing.T) {
	res, err := Calculate(4, 4, DefaultConfig)
	require.NoError(t, err)
	assert.Equal(t, 16, res.Score)
	assert.Equal(t, domain.RiskCritical, res.Level)
	assert.False(t, res.MatrixFallback)
}

func TestCalculate_LevelBoundaries(t *testing.T) {
	cases := []struct {
		l, s  int
		score int
		level domain.RiskLevel
	}{
		{1, 1, 1, domain.RiskLow},
		{2, 2, 4, domain.RiskLow},
		{1, 5, 5, domain.RiskMedium},
		{2, 4, 8, domain.RiskMedium},
		{3, 3, 9, domain.RiskHigh},
		{3, 5, 15, domain.RiskHigh},
		{4, 4, 16, domain.RiskCritical},
		{5, 5, 25, domain.RiskCritical},
	}
	for _, c := range cases {
		res, err := Calculate(c.l, c.s, DefaultConfig)
		require.NoError(t, err)
		assert.Equal(t, c.score, res.Score, "l=%d s=%d", c.l, c.s)
		assert.Equal(t, c.level, res.Level, "l=%d s=%d", c.l, c.s)
	}
}

func TestCalculate_Addition(t *testing.T) {
	cfg := DefaultConfig
	cfg.Method = domain.RiskMethodAddition
	res, err := Calculate(3, 4, cfg)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Score)
	assert.Equal(t, domain.RiskMedium, res.Level)
}

func TestCalculate_MatrixWithoutMatrixFallsBack(t *testing.T) {
	cfg := DefaultConfig
	cfg.Method = domain.RiskMethodMatrix
	res, err := Calculate(3, 4, cfg)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Score)
	assert.True(t, res.MatrixFallback)
}

func TestCalculate_MatrixLookup(t *testing.T) {
	cfg := Config{
		Method:          domain.RiskMethodMatrix,
		LikelihoodScale: 3,
		SeverityScale:   3,
		Low:             2,
		Medium:          5,
		High:            8,
		Matrix: [][]int{
			{1, 2, 4},
			{2, 5, 7},
			{4, 7, 9},
		},
	}
	res, err := Calculate(2, 3, cfg)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Score)
	assert.Equal(t, domain.RiskHigh, res.Level)
	assert.False(t, res.MatrixFallback)
}

func TestCalculate_OutOfRange(t *testing.T) {
	for _, in := range [][2]int{{0, 3}, {6, 3}, {3, 0}, {3, 6}} {
		_, err := Calculate(in[0], in[1], DefaultConfig)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	}
}

func TestConfig_Validate(t *testing.T) {
	bad := DefaultConfig
	bad.Low, bad.Medium = 10, 5
	assert.ErrorIs(t, bad.Validate(), domain.ErrValidation)

	badMatrix := DefaultConfig
	badMatrix.Method = domain.RiskMethodMatrix
	badMatrix.Matrix = [][]int{{1, 2}}
	assert.ErrorIs(t, badMatrix.Validate(), domain.ErrValidation)

	decreasing := Config{
		Method: domain.RiskMethodMatrix, LikelihoodScale: 2, SeverityScale: 2,
		Low: 1, Medium: 2, High: 3,
		Matrix: [][]int{{3, 2}, {4, 4}},
	}
	assert.ErrorIs(t, decreasing.Validate(), domain.ErrValidation)

	unknown := DefaultConfig
	unknown.Method = "fuzzy"
	assert.ErrorIs(t, unknown.Validate(), domain.ErrValidation)
}

// 风险评分对 likelihood / severity 单调不减，等级对评分单调不减
func TestCalculate_Monotonicity(t *testing.T) {
	for _, method := range []domain.RiskCalculationMethod{domain.RiskMethodMultiplication, domain.RiskMethodAddition} {
		cfg := DefaultConfig
		cfg.Method = method
		for l := 1; l <= cfg.LikelihoodScale; l++ {
			for s := 1; s <= cfg.SeverityScale; s++ {
				base, err := Calculate(l, s, cfg)
				require.NoError(t, err)
				if l < cfg.LikelihoodScale {
					next, err := Calculate(l+1, s, cfg)
					require.NoError(t, err)
					assert.GreaterOrEqual(t, next.Score, base.Score)
					assert.GreaterOrEqual(t, next.Level.Rank(), base.Level.Rank())
				}
				if s < cfg.SeverityScale {
					next, err := Calculate(l, s+1, cfg)
					require.NoError(t, err)
					assert.GreaterOrEqual(t, next.Score, base.Score)
					assert.GreaterOrEqual(t, next.Level.Rank(), base.Level.Rank())
				}
			}
		}
	}

	prev := 0
	for score := 0; score <= 30; score++ {
		rank := LevelFor(score, DefaultConfig).Rank()
		assert.GreaterOrEqual(t, rank, prev)
		prev = rank
	}
}

func TestFromProduct(t *testing.T) {
	assert.Equal(t, DefaultConfig, FromProduct(nil))

	cfg := FromProduct(&domain.ProductRiskConfig{
		CalculationMethod: domain.RiskMethodAddition,
		LowThreshold:      3,
		MediumThreshold:   6,
		HighThreshold:     8,
	})
	assert.Equal(t, domain.RiskMethodAddition, cfg.Method)
	assert.Equal(t, 5, cfg.LikelihoodScale)
	assert.Equal(t, 6, cfg.ControlThreshold())
}

func TestApply_DoesNotMutateOnError(t *testing.T) {
	h := &domain.Hazard{Likelihood: 9, Severity: 2, RiskScore: 3, RiskLevel: domain.RiskLow}
	_, err := Apply(h, DefaultConfig)
	require.Error(t, err)
	assert.Equal(t, 3, h.RiskScore)
	assert.Equal(t, domain.RiskLow, h.RiskLevel)

	h.Likelihood = 3
	_, err = Apply(h, DefaultConfig)
	require.NoError(t, err)
	assert.Equal(t, 6, h.RiskScore)
	assert.Equal(t, domain.RiskMedium, h.RiskLevel)
}
