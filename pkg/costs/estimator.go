package costs

// Character-based token estimation for callers that only hold raw prompt
// text. Roughly four characters per token for Latin-script text; accuracy
// in the few-percent range is fine for admission estimates because the
// ledger reconciles against actual counts at settlement.

// defaultCharsPerToken is the estimation ratio when none is configured.
const defaultCharsPerToken = 4.0

// TokenEstimator estimates token counts from text length.
type TokenEstimator struct {
	charsPerToken float64
}

// NewTokenEstimator creates an estimator. A non-positive charsPerToken
// selects the default ratio.
func NewTokenEstimator(charsPerToken float64) *TokenEstimator {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return &TokenEstimator{charsPerToken: charsPerToken}
}

// EstimateText estimates the token count of a single text string. Non-empty
// text counts as at least one token.
func (e *TokenEstimator) EstimateText(text string) int64 {
	if text == "" {
		return 0
	}

	tokens := float64(len(text)) / e.charsPerToken
	if tokens < 1.0 {
		tokens = 1.0
	}
	return int64(tokens + 0.5)
}

// EstimateTexts estimates the combined token count of several strings,
// adding one token of formatting overhead per string.
func (e *TokenEstimator) EstimateTexts(texts []string) int64 {
	var total int64
	for _, text := range texts {
		total += 1 + e.EstimateText(text)
	}
	return total
}
