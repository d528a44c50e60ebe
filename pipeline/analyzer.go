package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/complymed/backend/config"
	"github.com/complymed/backend/model"
)

// Gateway is the generative-model side of the analyzer: chat completions
// for issue generation and embeddings for similarity retrieval.
type Gateway interface {
	Configured() bool
	EmbeddingsEnabled() bool
	Complete(ctx context.Context, system, user string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index answers regulation-corpus retrieval. MatchChunks is the
// embedding-similarity path; ActiveChunks is the degraded full-corpus path
// used when no embedding model is available. Neither ever returns chunks
// of non-active regulations.
type Index interface {
	MatchChunks(ctx context.Context, embedding []float32, threshold float64, k int) ([]model.RegulationMatch, error)
	ActiveChunks(ctx context.Context) ([]RegulationContext, error)
}

// RegulationContext pairs one regulation chunk with its parent's metadata
type RegulationContext struct {
	Regulation model.Regulation
	Content    string
}

// Analyzer produces candidate compliance issues by retrieval-augmented
// prompting over the regulation corpus.
type Analyzer struct {
	gateway Gateway
	index   Index
	cfg     config.PipelineConfig
}

func NewAnalyzer(gateway Gateway, index Index, cfg config.PipelineConfig) *Analyzer {
	return &Analyzer{gateway: gateway, index: index, cfg: cfg}
}

// Analyze generates model-based issues for a submission's chunks. The
// retrieval strategy follows embedding availability: per-chunk similarity
// retrieval when embeddings are enabled, otherwise one whole-document call
// over the full active corpus. Without a configured gateway there are no
// model issues at all, and rule-based analysis still proceeds upstream.
func (a *Analyzer) Analyze(ctx context.Context, chunks []model.SubmissionChunk) ([]model.Issue, error) {
	if len(chunks) == 0 || a.gateway == nil || !a.gateway.Configured() {
		return nil, nil
	}
	if a.gateway.EmbeddingsEnabled() {
		return a.analyzePerChunk(ctx, chunks), nil
	}
	return a.analyzeWholeDocument(ctx, chunks)
}

// analyzePerChunk fires one retrieval + model call per submission chunk,
// bounded by the configured concurrency. A failed chunk never aborts the
// group: its issues are simply absent from the result.
func (a *Analyzer) analyzePerChunk(ctx context.Context, chunks []model.SubmissionChunk) []model.Issue {
	results := make([][]model.Issue, len(chunks))

	g := &errgroup.Group{}
	g.SetLimit(a.cfg.ChunkConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			issues, err := a.analyzeChunk(ctx, chunk)
			if err != nil {
				slog.Warn("chunk analysis failed",
					"submission_id", chunk.SubmissionID,
					"chunk_index", chunk.ChunkIndex,
					"error", err,
				)
				return nil
			}
			results[i] = issues
			return nil
		})
	}
	// Goroutines always return nil; Wait only synchronizes
	_ = g.Wait()

	var all []model.Issue
	for _, issues := range results {
		all = append(all, issues...)
	}
	return all
}

func (a *Analyzer) analyzeChunk(ctx context.Context, chunk model.SubmissionChunk) ([]model.Issue, error) {
	embedding := chunk.Embedding
	if len(embedding) == 0 {
		var err error
		embedding, err = a.gateway.Embed(ctx, chunk.Content)
		if err != nil {
			return nil, fmt.Errorf("embedding chunk: %w", err)
		}
	}

	matches, err := a.index.MatchChunks(ctx, embedding, a.cfg.MatchThreshold, a.cfg.MatchCount)
	if err != nil {
		return nil, fmt.Errorf("matching regulation chunks: %w", err)
	}
	if len(matches) == 0 {
		slog.Debug("no regulation matches for chunk",
			"submission_id", chunk.SubmissionID,
			"chunk_index", chunk.ChunkIndex,
		)
		return nil, nil
	}

	response, err := a.gateway.Complete(ctx, analysisSystemPrompt,
		buildChunkPrompt(chunk.Content, matches, a.cfg.MaxRegulationChars))
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	issues, err := ParseIssues(response)
	if err != nil {
		return nil, fmt.Errorf("parsing issues: %w", err)
	}
	return issues, nil
}

// analyzeWholeDocument runs a single model call over the concatenated
// submission and the full active regulation corpus. A transport failure is
// terminal for the analysis; a malformed response only drops its issues.
func (a *Analyzer) analyzeWholeDocument(ctx context.Context, chunks []model.SubmissionChunk) ([]model.Issue, error) {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	submission := strings.Join(parts, " ")

	regs, err := a.index.ActiveChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading regulation corpus: %w", err)
	}

	response, err := a.gateway.Complete(ctx, analysisSystemPrompt,
		buildWholeDocPrompt(submission, regs, a.cfg.MaxSubmissionChars, a.cfg.MaxRegulationChars))
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	issues, err := ParseIssues(response)
	if err != nil {
		slog.Warn("dropping unparseable analysis response", "error", err)
		return nil, nil
	}
	return issues, nil
}
