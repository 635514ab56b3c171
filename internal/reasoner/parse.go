package reasoner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"amen-agent/pkg/types"
)

// parseResponse converts raw model output into a ThreatAssessment. This is
// the single trust boundary between untyped LLM text and typed values:
// every failure mode degrades to the safe NATURAL/0.0 verdict, never to an
// error that could abort a tick.
func (r *Reasoner) parseResponse(raw string) types.ThreatAssessment {
	text := strings.TrimSpace(raw)
	// models wrap JSON in fences despite instructions
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		r.logger.Error("failed to parse LLM response as JSON",
			"response", truncate(raw, 200), "error", err)
		return types.ThreatAssessment{
			Classification: types.Natural,
			Confidence:     0,
			Explanation:    "Failed to parse LLM response",
			Evidence:       []string{"Parse error: " + err.Error()},
			RawResponse:    raw,
		}
	}

	for _, field := range []string{"classification", "confidence", "explanation", "evidence"} {
		if _, ok := data[field]; !ok {
			r.logger.Error("missing required field in LLM response", "field", field)
			return types.ThreatAssessment{
				Classification: types.Natural,
				Confidence:     0,
				Explanation:    "Missing field: " + field,
				RawResponse:    raw,
			}
		}
	}

	rawClass, _ := data["classification"].(string)
	classification := types.ParseClassification(rawClass)
	if string(classification) != rawClass {
		r.logger.Error("invalid classification in LLM response", "value", data["classification"])
	}

	confidence, err := toFloat(data["confidence"])
	if err != nil {
		r.logger.Error("invalid confidence in LLM response", "value", data["confidence"])
		return types.ThreatAssessment{
			Classification: types.Natural,
			Confidence:     0,
			Explanation:    "Analysis error: " + err.Error(),
			RawResponse:    raw,
		}
	}

	assessment := types.ThreatAssessment{
		Classification: classification,
		Confidence:     confidence,
		Explanation:    asString(data["explanation"]),
		Evidence:       coerceEvidence(data["evidence"]),
		RawResponse:    raw,
	}
	if confidence < 0 || confidence > 1 {
		r.logger.Warn("confidence out of range, clamping", "value", confidence)
		assessment.ClampConfidence()
	}
	return assessment
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("could not convert confidence %q to float", val)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("could not convert confidence of type %T to float", v)
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func coerceEvidence(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{asString(v)}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, asString(item))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// contextDigest fingerprints an analysis context with a canonical,
// key-sorted JSON encoding so identical market views hash identically
// regardless of construction order.
func contextDigest(actx types.AnalysisContext) (string, error) {
	raw, err := json.Marshal(actx)
	if err != nil {
		return "", err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}
