package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Scorer evaluates a pipeline's aggregated output against reference
// criteria and returns a numeric score.
type Scorer interface {
	Score(ctx context.Context, output, criteria string) (float64, error)
}

// LLMScorer uses a capability as a judge: it asks for a JSON verdict and
// parses the score out of the reply.
type LLMScorer struct {
	cap    Capability
	logger *zap.Logger
}

// NewLLMScorer creates a scorer backed by the given capability.
func NewLLMScorer(c Capability, logger *zap.Logger) *LLMScorer {
	return &LLMScorer{cap: c, logger: logger}
}

// Score invokes the judge and parses its verdict. Scores are clamped to
// [0, 10].
func (s *LLMScorer) Score(ctx context.Context, output, criteria string) (float64, error) {
	inv := &Invocation{
		Role: "an impartial quality evaluator",
		Goal: "score how well a result satisfies the given criteria",
		Instructions: fmt.Sprintf(
			"Evaluate the result below against the criteria. Reply with JSON only:\n"+
				`{"score": <0-10>, "reasoning": "..."}`+
				"\n\nCriteria:\n%s\n\nResult:\n%s", criteria, output),
		ExpectedOutput: `a JSON object with a numeric "score" field`,
	}

	result, err := s.cap.Invoke(ctx, inv)
	if err != nil {
		return 0, fmt.Errorf("evaluator invocation: %w", err)
	}

	score, err := parseScore(result.Output)
	if err != nil {
		s.logger.Warn("unparseable evaluator verdict",
			zap.String("verdict", result.Output), zap.Error(err))
		return 0, err
	}
	return clamp(score, 0, 10), nil
}

// parseScore extracts the score from a judge reply. Models sometimes wrap
// the JSON in prose or code fences, so scan for the first JSON object.
func parseScore(reply string) (float64, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return 0, fmt.Errorf("no JSON object in evaluator reply")
	}

	var verdict struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &verdict); err != nil {
		return 0, fmt.Errorf("parse evaluator verdict: %w", err)
	}
	return verdict.Score, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
