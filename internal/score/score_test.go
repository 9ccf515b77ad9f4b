package score

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/lumen/internal/model"
)

func findings(c, s, m, n int) []model.Finding {
	var out []model.Finding
	add := func(sev model.Severity, k int) {
		for i := 0; i < k; i++ {
			out = append(out, model.Finding{RuleID: string(sev), Severity: sev})
		}
	}
	add(model.SeverityCritical, c)
	add(model.SeveritySerious, s)
	add(model.SeverityModerate, m)
	add(model.SeverityMinor, n)
	return out
}

func TestCompute_WorkedExample(t *testing.T) {
	res, err := Compute(findings(1, 2, 0, 0), 27)
	require.NoError(t, err)
	assert.Equal(t, 30, res.TotalRules)
	assert.Equal(t, 10, res.Weighted)
	assert.Equal(t, 92, res.Score)
	assert.Equal(t, model.SeverityCounts{Critical: 1, Serious: 2}, res.Counts)
	assert.Equal(t, 27, res.PassedCount)
}

func TestCompute_NoDataScoresZero(t *testing.T) {
	res, err := Compute(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, 0, res.TotalRules)
}

func TestCompute_Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		f      []model.Finding
		passed int
		want   int
	}{
		{"all passed", nil, 10, 100},
		{"single critical", findings(1, 0, 0, 0), 0, 0},
		{"single minor", findings(0, 0, 0, 1), 0, 75},
		{"one moderate one pass", findings(0, 0, 1, 0), 1, 75},
		{"rounding half up", findings(0, 0, 0, 1), 1, 88},
		{"mixed", findings(2, 1, 3, 4), 30, 87},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compute(tt.f, tt.passed)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Score)
		})
	}
}

func TestCompute_RejectsMalformedInput(t *testing.T) {
	_, err := Compute(nil, -1)
	assert.ErrorIs(t, err, ErrNegativePassed)

	_, err = Compute([]model.Finding{{RuleID: "x", Severity: "info"}}, 1)
	assert.Error(t, err)
}

func TestCompute_AlwaysInRange(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		res, err := Compute(findings(r.Intn(20), r.Intn(20), r.Intn(20), r.Intn(20)), r.Intn(50))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Score, 0)
		assert.LessOrEqual(t, res.Score, 100)
	}
}

func TestCompute_MoreCriticalsNeverRaiseScore(t *testing.T) {
	for passed := 0; passed <= 30; passed += 5 {
		prev := 101
		for c := 0; c <= 40; c++ {
			res, err := Compute(findings(c, 0, 0, 0), passed)
			require.NoError(t, err)
			if c == 0 && passed == 0 {
				continue
			}
			assert.LessOrEqual(t, res.Score, prev, "passed=%d criticals=%d", passed, c)
			prev = res.Score
		}
	}
}

func TestFromReport(t *testing.T) {
	res, err := FromReport(&model.AuditReport{Findings: findings(1, 2, 0, 0), PassedCount: 27})
	require.NoError(t, err)
	assert.Equal(t, 92, res.Score)

	_, err = FromReport(nil)
	assert.Error(t, err)
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 90, Ratio(3, 27))
	assert.Equal(t, 0, Ratio(0, 0))
	assert.Equal(t, 100, Ratio(0, 5))
}
