package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeFallback struct {
	configured bool
	output     string
	err        error
	calls      int
}

func (f *fakeFallback) Configured() bool { return f.configured }

func (f *fakeFallback) ExtractDocument(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	return f.output, f.err
}

// bytesWithRun builds input whose printable-run heuristic output has exactly n characters
func bytesWithRun(n int) []byte {
	return []byte("\x00\x01" + strings.Repeat("a", n) + "\x02")
}

func TestPrintableRuns(t *testing.T) {
	input := []byte("\x00\x01Device label\x02\x03ab\x04sterile pack\xff")
	got := printableRuns(input)
	if got != "Device label sterile pack" {
		t.Errorf("Expected runs joined by spaces, got %q", got)
	}
}

func TestPrintableRunsShortRunsDropped(t *testing.T) {
	// Runs shorter than 4 printable characters are noise, not text
	got := printableRuns([]byte("ab\x00cd\x01efg\x02"))
	if got != "" {
		t.Errorf("Expected empty output for short runs, got %q", got)
	}
}

func TestExtractHeuristicSufficient(t *testing.T) {
	fb := &fakeFallback{configured: true, output: "should not be used"}
	e := New(50, fb)

	res := e.Extract(context.Background(), bytesWithRun(50))
	if !res.HasText {
		t.Fatalf("Expected HasText for 50-char heuristic output, reason: %s", res.Reason)
	}
	if fb.calls != 0 {
		t.Errorf("Expected no fallback call at threshold, got %d", fb.calls)
	}
	if len(res.Text) != 50 {
		t.Errorf("Expected 50-char text, got %d", len(res.Text))
	}
}

func TestExtractHeuristicBelowThresholdTriggersFallback(t *testing.T) {
	fb := &fakeFallback{configured: true, output: strings.Repeat("page one text ", 10)}
	e := New(50, fb)

	res := e.Extract(context.Background(), bytesWithRun(49))
	if fb.calls != 1 {
		t.Fatalf("Expected 1 fallback call for 49-char heuristic output, got %d", fb.calls)
	}
	if !res.HasText {
		t.Errorf("Expected HasText from fallback output, reason: %s", res.Reason)
	}
	if !strings.Contains(res.Text, "page one text") {
		t.Errorf("Expected fallback output to replace heuristic output, got %q", res.Text)
	}
}

func TestExtractNoFallbackConfigured(t *testing.T) {
	fb := &fakeFallback{configured: false}
	e := New(50, fb)

	res := e.Extract(context.Background(), bytesWithRun(10))
	if res.HasText {
		t.Error("Expected HasText false")
	}
	if res.Reason != ReasonNoFallbackCredential {
		t.Errorf("Expected reason %q, got %q", ReasonNoFallbackCredential, res.Reason)
	}
	if fb.calls != 0 {
		t.Errorf("Expected no fallback call, got %d", fb.calls)
	}
}

func TestExtractNilFallback(t *testing.T) {
	e := New(50, nil)

	res := e.Extract(context.Background(), bytesWithRun(10))
	if res.HasText {
		t.Error("Expected HasText false")
	}
	if res.Reason != ReasonNoFallbackCredential {
		t.Errorf("Expected reason %q, got %q", ReasonNoFallbackCredential, res.Reason)
	}
}

func TestExtractFallbackCallFailed(t *testing.T) {
	fb := &fakeFallback{configured: true, err: errors.New("network down")}
	e := New(50, fb)

	res := e.Extract(context.Background(), bytesWithRun(10))
	if res.HasText {
		t.Error("Expected HasText false")
	}
	if !strings.Contains(res.Reason, ReasonFallbackCallFailed) {
		t.Errorf("Expected reason to mention failed call, got %q", res.Reason)
	}
}

func TestExtractFallbackSentinel(t *testing.T) {
	fb := &fakeFallback{configured: true, output: NoTextSentinel}
	e := New(50, fb)

	res := e.Extract(context.Background(), bytesWithRun(10))
	if res.HasText {
		t.Error("Expected HasText false")
	}
	if res.Reason != ReasonFallbackNoText {
		t.Errorf("Expected reason %q, got %q", ReasonFallbackNoText, res.Reason)
	}
}

func TestExtractFallbackCountsRunesNotBytes(t *testing.T) {
	// 50 CJK characters occupy 150 bytes; the gate must count characters.
	fb := &fakeFallback{configured: true, output: strings.Repeat("医", 50)}
	e := New(50, fb)

	res := e.Extract(context.Background(), bytesWithRun(10))
	if !res.HasText {
		t.Fatalf("Expected HasText for 50-rune fallback output, reason: %s", res.Reason)
	}

	fb.output = strings.Repeat("医", 49)
	res = e.Extract(context.Background(), bytesWithRun(10))
	if res.HasText {
		t.Error("Expected HasText false for 49-rune fallback output")
	}
	if res.Reason != ReasonFallbackTooShort {
		t.Errorf("Expected reason %q, got %q", ReasonFallbackTooShort, res.Reason)
	}
}

func TestExtractFallbackTooShort(t *testing.T) {
	fb := &fakeFallback{configured: true, output: "tiny"}
	e := New(50, fb)

	res := e.Extract(context.Background(), bytesWithRun(10))
	if res.HasText {
		t.Error("Expected HasText false")
	}
	if res.Reason != ReasonFallbackTooShort {
		t.Errorf("Expected reason %q, got %q", ReasonFallbackTooShort, res.Reason)
	}
}

func TestNextStage(t *testing.T) {
	tests := []struct {
		name       string
		stage      Stage
		outputLen  int
		configured bool
		want       Stage
	}{
		{"heuristic at threshold", StageHeuristic, 50, true, StageResolvedSuccess},
		{"heuristic below threshold", StageHeuristic, 49, true, StageFallbackPending},
		{"heuristic below threshold no fallback", StageHeuristic, 49, false, StageResolvedFailure},
		{"fallback at threshold", StageFallbackPending, 50, true, StageResolvedSuccess},
		{"fallback below threshold", StageFallbackPending, 49, true, StageResolvedFailure},
		{"resolved stays resolved", StageResolvedSuccess, 0, true, StageResolvedSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextStage(tt.stage, tt.outputLen, 50, tt.configured)
			if got != tt.want {
				t.Errorf("NextStage = %d, want %d", got, tt.want)
			}
		})
	}
}
