package costs

import (
	"strings"
	"testing"
)

func TestEstimateText(t *testing.T) {
	e := NewTokenEstimator(0)

	if got := e.EstimateText(""); got != 0 {
		t.Errorf("empty text = %d tokens, want 0", got)
	}
	if got := e.EstimateText("hi"); got != 1 {
		t.Errorf("short text = %d tokens, want minimum of 1", got)
	}
	if got := e.EstimateText(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("400 chars = %d tokens, want 100 at 4 chars/token", got)
	}
}

func TestEstimateTextsAddsOverhead(t *testing.T) {
	e := NewTokenEstimator(4)

	texts := []string{strings.Repeat("a", 40), strings.Repeat("b", 40)}
	// 10 tokens per text plus 1 overhead each.
	if got := e.EstimateTexts(texts); got != 22 {
		t.Errorf("EstimateTexts = %d, want 22", got)
	}
}

func TestCustomRatio(t *testing.T) {
	e := NewTokenEstimator(2)
	if got := e.EstimateText(strings.Repeat("a", 100)); got != 50 {
		t.Errorf("100 chars at 2 chars/token = %d, want 50", got)
	}
}
