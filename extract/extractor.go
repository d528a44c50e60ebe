package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// NoTextSentinel is the fixed token the vision fallback returns when it
// finds no extractable text in the document.
const NoTextSentinel = "NO_TEXT_FOUND"

// Failure reasons surfaced to the caller when no usable text was recovered
const (
	ReasonNoFallbackCredential = "no fallback credential configured"
	ReasonFallbackCallFailed   = "fallback call failed"
	ReasonFallbackNoText       = "fallback declared no text"
	ReasonFallbackTooShort     = "fallback output too short"
)

// Fallback is a vision-capable model gateway used when the local passes
// recover nothing. Configured reports whether a credential is available.
type Fallback interface {
	Configured() bool
	ExtractDocument(ctx context.Context, data []byte, contentType string) (string, error)
}

// Result is the outcome of a text extraction attempt. Extraction never
// fails outright for a merely-empty document; HasText false plus Reason
// tells the caller why nothing usable was recovered.
type Result struct {
	Text    string
	HasText bool
	Reason  string
}

// Stage models the extraction control flow as a small state machine
type Stage int

const (
	StageHeuristic Stage = iota
	StageFallbackPending
	StageResolvedSuccess
	StageResolvedFailure
)

// NextStage is the pure transition function of the extraction state machine.
// From StageHeuristic, output at or above minLen resolves immediately;
// anything shorter moves to StageFallbackPending, which resolves to failure
// when no fallback credential is configured.
func NextStage(s Stage, outputLen, minLen int, fallbackConfigured bool) Stage {
	switch s {
	case StageHeuristic:
		if outputLen >= minLen {
			return StageResolvedSuccess
		}
		if !fallbackConfigured {
			return StageResolvedFailure
		}
		return StageFallbackPending
	case StageFallbackPending:
		if outputLen >= minLen {
			return StageResolvedSuccess
		}
		return StageResolvedFailure
	default:
		return s
	}
}

// Extractor turns raw document bytes into plain text using a layered
// fallback strategy: native PDF text, printable-run heuristic, then a
// vision-capable model.
type Extractor struct {
	minLen   int
	fallback Fallback
}

func New(minLen int, fallback Fallback) *Extractor {
	return &Extractor{minLen: minLen, fallback: fallback}
}

// Extract runs the layered extraction strategy over the document bytes.
func (e *Extractor) Extract(ctx context.Context, data []byte) Result {
	text := nativePDFText(data)
	if utf8.RuneCountInString(strings.TrimSpace(text)) < e.minLen {
		text = printableRuns(data)
	}
	text = strings.TrimSpace(text)

	configured := e.fallback != nil && e.fallback.Configured()
	// The length gate counts runes, not bytes, so non-Latin scripts are
	// measured the same as ASCII.
	switch NextStage(StageHeuristic, utf8.RuneCountInString(text), e.minLen, configured) {
	case StageResolvedSuccess:
		return Result{Text: text, HasText: true}
	case StageResolvedFailure:
		return Result{Text: text, HasText: false, Reason: ReasonNoFallbackCredential}
	}

	// Fallback pending: send the whole document to the vision model.
	out, err := e.fallback.ExtractDocument(ctx, data, "application/pdf")
	if err != nil {
		slog.Warn("vision fallback failed", "error", err)
		return Result{Text: text, HasText: false, Reason: fmt.Sprintf("%s: %v", ReasonFallbackCallFailed, err)}
	}
	out = strings.TrimSpace(out)
	if out == NoTextSentinel {
		return Result{Text: text, HasText: false, Reason: ReasonFallbackNoText}
	}
	if NextStage(StageFallbackPending, utf8.RuneCountInString(out), e.minLen, configured) == StageResolvedFailure {
		return Result{Text: text, HasText: false, Reason: ReasonFallbackTooShort}
	}
	return Result{Text: out, HasText: true}
}

// nativePDFText reads the embedded text layer of a well-formed PDF.
// The pdf package panics on some malformed files, so the whole pass is
// recovered and treated as empty output.
func nativePDFText(data []byte) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return ""
	}
	return collapseWhitespace(buf.String())
}

// printableRuns decodes the bytes as a single-byte encoding and keeps
// maximal runs of printable characters of length >= 4, joined by single
// spaces. This recovers literal text from uncompressed PDF content streams
// and degrades to near-empty output on compressed or font-encoded ones.
func printableRuns(data []byte) string {
	var runs []string
	var run []byte
	for _, b := range data {
		if b >= 0x20 && b <= 0x7e {
			run = append(run, b)
			continue
		}
		if len(run) >= 4 {
			runs = append(runs, string(run))
		}
		run = run[:0]
	}
	if len(run) >= 4 {
		runs = append(runs, string(run))
	}
	return collapseWhitespace(strings.Join(runs, " "))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
