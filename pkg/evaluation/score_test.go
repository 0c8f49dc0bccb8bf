package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestRouge1(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected string
		actual   string
		want     float64
	}{
		{
			name:     "identical strings",
			expected: "the cat sat on the mat",
			actual:   "the cat sat on the mat",
			want:     1.0,
		},
		{
			name:     "completely different strings",
			expected: "hello world",
			actual:   "foo bar baz",
			want:     0.0,
		},
		{
			name:     "partial overlap",
			expected: "the cat sat on the mat",
			actual:   "the cat was on a mat",
			want:     0.6666666666666666,
		},
		{
			name:     "case insensitive",
			expected: "The Cat SAT",
			actual:   "the cat sat",
			want:     1.0,
		},
		{
			name:     "empty actual",
			expected: "hello world",
			actual:   "",
			want:     0.0,
		},
		{
			name:     "both empty",
			expected: "",
			actual:   "",
			want:     1.0,
		},
		{
			name:     "whitespace-only expected",
			expected: "  ",
			actual:   "hello",
			want:     0.0,
		},
		{
			name:     "whitespace-only actual",
			expected: "hello",
			actual:   "\n",
			want:     0.0,
		},
		{
			name:     "both whitespace-only",
			expected: " \t",
			actual:   "\n",
			want:     1.0,
		},
		{
			name:     "repeated words in expected",
			expected: "the the the",
			actual:   "the",
			want:     0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, rouge1(tt.expected, tt.actual), 0.0001)
		})
	}
}

func TestToolTrajectoryScore(t *testing.T) {
	t.Parallel()

	search := ToolUse{Name: "search", Args: map[string]any{"q": "go", "limit": 3}}
	fetch := ToolUse{Name: "fetch"}

	tests := []struct {
		name     string
		expected []ToolUse
		actual   []ToolUse
		want     float64
	}{
		{name: "no tools", want: 1.0},
		{name: "same trajectory", expected: []ToolUse{search, fetch}, actual: []ToolUse{search, fetch}, want: 1.0},
		{
			name:     "numbers compare by value",
			expected: []ToolUse{{Name: "search", Args: map[string]any{"q": "go", "limit": 3.0}}},
			actual:   []ToolUse{search},
			want:     1.0,
		},
		{
			name:     "different args",
			expected: []ToolUse{{Name: "search", Args: map[string]any{"q": "rust"}}},
			actual:   []ToolUse{search},
			want:     0.0,
		},
		{name: "extra call", expected: []ToolUse{search}, actual: []ToolUse{search, fetch}, want: 0.5},
		{name: "wrong order", expected: []ToolUse{search, fetch}, actual: []ToolUse{fetch, search}, want: 0.0},
		{name: "missing calls", expected: []ToolUse{search, fetch}, want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, toolTrajectoryScore(tt.expected, tt.actual), 0.0001)
		})
	}
}

func invocation(answer string, tools ...string) Invocation {
	inv := Invocation{
		UserContent:   genai.NewContentFromText("question", genai.RoleUser),
		FinalResponse: genai.NewContentFromText(answer, genai.RoleModel),
	}
	for _, name := range tools {
		inv.IntermediateData.ToolUses = append(inv.IntermediateData.ToolUses, ToolUse{Name: name})
	}
	return inv
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	expected := []Invocation{invocation("the answer is four", "calc"), invocation("bye")}
	actual := []Invocation{invocation("the answer is four", "calc"), invocation("goodbye")}

	overall, perInvocation := evaluate(EvalMetric{MetricName: MetricResponseMatch, Threshold: 0.8}, actual, expected)
	require.NotNil(t, overall.Score)
	assert.InDelta(t, 0.5, *overall.Score, 0.0001)
	assert.Equal(t, StatusFailed, overall.EvalStatus)
	require.Len(t, perInvocation, 2)
	assert.Equal(t, StatusPassed, perInvocation[0].EvalStatus)
	assert.Equal(t, StatusFailed, perInvocation[1].EvalStatus)

	overall, _ = evaluate(EvalMetric{MetricName: MetricToolTrajectory, Threshold: 1}, actual, expected)
	assert.Equal(t, StatusPassed, overall.EvalStatus)

	overall, perInvocation = evaluate(EvalMetric{MetricName: "bleu", Threshold: 1}, actual, expected)
	assert.Equal(t, StatusNotEvaluated, overall.EvalStatus)
	assert.Contains(t, overall.Error, "unknown metric")
	assert.Nil(t, overall.Score)
	assert.Empty(t, perInvocation)

	overall, _ = evaluate(EvalMetric{MetricName: MetricResponseMatch}, actual[:1], expected)
	assert.Equal(t, StatusNotEvaluated, overall.EvalStatus)
}

func TestScored_NonFiniteIsNotEvaluated(t *testing.T) {
	t.Parallel()

	metric := EvalMetric{MetricName: MetricResponseMatch, Threshold: 0.8}
	for _, score := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		r := scored(metric, score)
		assert.Equal(t, StatusNotEvaluated, r.EvalStatus)
		assert.Nil(t, r.Score)
		assert.Contains(t, r.Error, "not a finite number")
	}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	passed := EvalMetricResult{EvalStatus: StatusPassed}
	failed := EvalMetricResult{EvalStatus: StatusFailed}
	skipped := EvalMetricResult{EvalStatus: StatusNotEvaluated}

	assert.Equal(t, StatusNotEvaluated, aggregate(nil))
	assert.Equal(t, StatusPassed, aggregate([]EvalMetricResult{passed, passed}))
	assert.Equal(t, StatusFailed, aggregate([]EvalMetricResult{passed, skipped, failed}))
	assert.Equal(t, StatusNotEvaluated, aggregate([]EvalMetricResult{passed, skipped}))
}
