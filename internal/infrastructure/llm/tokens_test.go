package llm

import (
	"strings"
	"testing"
)

func TestEstimateRoundsUp(t *testing.T) {
	t.Parallel()

	e := Estimator{MaxContext: 100}
	cases := map[string]int{
		"":     0,
		"ab":   1,
		"abc":  1,
		"abcd": 2,
	}
	for text, want := range cases {
		if got := e.Estimate(text); got != want {
			t.Fatalf("Estimate(%q) = %d, want %d", text, got, want)
		}
	}
}

func TestFits(t *testing.T) {
	t.Parallel()

	e := Estimator{MaxContext: 10}
	if !e.Fits(strings.Repeat("a", 30)) {
		t.Fatal("30 runes should fit a 10 token window")
	}
	if e.Fits(strings.Repeat("a", 31)) {
		t.Fatal("31 runes must not fit a 10 token window")
	}
}

func TestBodyBudgetNeverNegative(t *testing.T) {
	t.Parallel()

	e := Estimator{MaxContext: 5}
	if got := e.BodyBudget(strings.Repeat("a", 300)); got != 0 {
		t.Fatalf("budget should clamp to 0, got %d", got)
	}
	if got := e.BodyBudget("abc"); got != 4 {
		t.Fatalf("expected budget 4, got %d", got)
	}
}
