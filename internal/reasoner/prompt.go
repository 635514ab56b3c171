package reasoner

import (
	"encoding/json"
	"fmt"

	"amen-agent/pkg/types"
)

// systemPrompt pins the model to a strict JSON verdict. The parser rejects
// anything that drifts from this contract, so prompt and parser evolve
// together.
const systemPrompt = `You are a DeFi Security Analyst AI. Your ONLY task is to analyze blockchain market data and detect potential manipulation attacks.

ATTACK PATTERNS YOU MUST DETECT:

1. FLASH_LOAN_ATTACK:
   - Large sudden price movements (>10% in single block)
   - Price recovers quickly (within 1-2 blocks)
   - Multiple large swaps in same block
   - Liquidations occurring during price dip
   - Oracle price deviates significantly from AMM price

2. ORACLE_MANIPULATION:
   - Oracle price differs from AMM spot price by >5%
   - Multiple oracle updates in same block
   - Oracle price change doesn't match market activity
   - Liquidations at manipulated prices

3. NATURAL:
   - Normal market volatility
   - Price changes consistent with trading volume
   - No unusual patterns

CRITICAL RULES:
- You MUST respond with ONLY valid JSON
- NO markdown code blocks
- NO explanatory text outside JSON
- Confidence must be 0.0-1.0
- Evidence must be specific data points

REQUIRED OUTPUT FORMAT (strict JSON only):
{
  "classification": "NATURAL" | "ORACLE_MANIPULATION" | "FLASH_LOAN_ATTACK",
  "confidence": <float 0.0-1.0>,
  "explanation": "<clear explanation of reasoning>",
  "evidence": ["<specific evidence 1>", "<specific evidence 2>", ...]
}`

// buildPrompt embeds the serialized market context into the analysis
// instructions.
func buildPrompt(actx types.AnalysisContext) (string, error) {
	data, err := json.MarshalIndent(actx, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal analysis context: %w", err)
	}
	return fmt.Sprintf("%s\n\nCURRENT MARKET DATA:\n%s\n\nAnalyze this data for potential manipulation attacks. Respond with JSON only.", systemPrompt, data), nil
}
