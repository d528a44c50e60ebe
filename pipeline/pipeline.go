package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/complymed/backend/config"
	"github.com/complymed/backend/extract"
	"github.com/complymed/backend/model"
)

// BlobStore is the document store side consumed by the pipeline
type BlobStore interface {
	Download(ctx context.Context, bucket, path string) ([]byte, error)
}

// Store is the relational persistence consumed by the pipeline
type Store interface {
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id, status, reason string) error
	InsertSubmissionChunks(ctx context.Context, chunks []model.SubmissionChunk) error
	GetSubmissionChunks(ctx context.Context, submissionID string) ([]model.SubmissionChunk, error)
	GetRegulation(ctx context.Context, id string) (*model.Regulation, error)
	ReplaceRegulationChunks(ctx context.Context, regulationID string, chunks []model.RegulationChunk) error
	CreateAnalysisResult(ctx context.Context, submissionID, overallStatus string) (string, error)
	InsertIssues(ctx context.Context, analysisID string, issues []model.Issue) error
}

// TextExtractor turns raw document bytes into plain text
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) extract.Result
}

// placeholderText is substituted for the extracted text when extraction
// fails and the pipeline is configured to proceed anyway.
const placeholderText = "[no text could be extracted from this document]"

// ProcessResult is the outcome of a submission document-processing run
type ProcessResult struct {
	ChunksProcessed int    `json:"chunks_processed"`
	Failed          bool   `json:"failed,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// RegulationResult is the outcome of a regulation ingestion run
type RegulationResult struct {
	Chunks         int  `json:"chunks"`
	HasTextContent bool `json:"has_text_content"`
}

// AnalysisSummary is the outcome of a submission analysis run
type AnalysisSummary struct {
	AnalysisID    string `json:"analysis_id"`
	OverallStatus string `json:"overall_status"`
	IssuesFound   int    `json:"issues_found"`
}

// Processor orchestrates the document-to-findings pipeline. Each operation
// is a stateless request-scoped run: no queue, no background scheduler.
type Processor struct {
	blob      BlobStore
	store     Store
	gateway   Gateway
	extractor TextExtractor
	analyzer  *Analyzer
	engine    *RuleEngine
	cfg       config.PipelineConfig

	submissionsBucket string
	regulationsBucket string
}

func NewProcessor(blob BlobStore, store Store, gateway Gateway, extractor TextExtractor, analyzer *Analyzer, cfg config.PipelineConfig, submissionsBucket, regulationsBucket string) *Processor {
	return &Processor{
		blob:              blob,
		store:             store,
		gateway:           gateway,
		extractor:         extractor,
		analyzer:          analyzer,
		engine:            NewRuleEngine(),
		cfg:               cfg,
		submissionsBucket: submissionsBucket,
		regulationsBucket: regulationsBucket,
	}
}

// ProcessDocument extracts and chunks a submission document, persists the
// chunks, and moves the submission to processing. Total extraction failure
// either marks the submission failed with a diagnostic reason (default) or
// substitutes placeholder text, depending on configuration.
func (p *Processor) ProcessDocument(ctx context.Context, submissionID string) (*ProcessResult, error) {
	sub, err := p.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("loading submission: %w", err)
	}

	data, err := p.blob.Download(ctx, p.submissionsBucket, sub.FilePath)
	if err != nil {
		return nil, fmt.Errorf("downloading document: %w", err)
	}

	res := p.extractor.Extract(ctx, data)
	text := res.Text
	if !res.HasText {
		if p.cfg.FailOnEmptyExtract == nil || *p.cfg.FailOnEmptyExtract {
			if err := p.store.UpdateSubmissionStatus(ctx, submissionID, model.StatusFailed, res.Reason); err != nil {
				return nil, fmt.Errorf("marking submission failed: %w", err)
			}
			slog.Info("submission failed text extraction",
				"submission_id", submissionID,
				"reason", res.Reason,
			)
			return &ProcessResult{Failed: true, Reason: res.Reason}, nil
		}
		text = placeholderText
	}

	contents := ChunkWords(text, p.cfg.ChunkWords)
	chunks := make([]model.SubmissionChunk, len(contents))
	for i, content := range contents {
		chunks[i] = model.SubmissionChunk{
			SubmissionID: submissionID,
			ChunkIndex:   i,
			Content:      content,
		}
	}
	p.embedSubmissionChunks(ctx, chunks)

	if err := p.store.InsertSubmissionChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("persisting chunks: %w", err)
	}
	if err := p.store.UpdateSubmissionStatus(ctx, submissionID, model.StatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("updating submission status: %w", err)
	}

	slog.Info("submission document processed",
		"submission_id", submissionID,
		"chunks", len(chunks),
	)
	return &ProcessResult{ChunksProcessed: len(chunks)}, nil
}

// ProcessRegulation extracts and chunks a regulation document, replacing
// any chunks from a prior ingestion run.
func (p *Processor) ProcessRegulation(ctx context.Context, regulationID string) (*RegulationResult, error) {
	reg, err := p.store.GetRegulation(ctx, regulationID)
	if err != nil {
		return nil, fmt.Errorf("loading regulation: %w", err)
	}

	data, err := p.blob.Download(ctx, p.regulationsBucket, reg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("downloading document: %w", err)
	}

	res := p.extractor.Extract(ctx, data)
	if !res.HasText {
		slog.Info("regulation has no extractable text",
			"regulation_id", regulationID,
			"reason", res.Reason,
		)
		return &RegulationResult{HasTextContent: false}, nil
	}

	contents := ChunkChars(res.Text, p.cfg.RegulationChunkChars)
	chunks := make([]model.RegulationChunk, len(contents))
	for i, content := range contents {
		chunks[i] = model.RegulationChunk{
			RegulationID: regulationID,
			ChunkIndex:   i,
			Content:      content,
		}
	}
	p.embedRegulationChunks(ctx, chunks)

	if err := p.store.ReplaceRegulationChunks(ctx, regulationID, chunks); err != nil {
		return nil, fmt.Errorf("replacing regulation chunks: %w", err)
	}

	slog.Info("regulation processed",
		"regulation_id", regulationID,
		"chunks", len(chunks),
	)
	return &RegulationResult{Chunks: len(chunks), HasTextContent: true}, nil
}

// AnalyzeSubmission runs the rule engine and the compliance analyzer over a
// processed submission, merges the issues, persists one analysis result and
// transitions the submission to completed. Issue insertion after the result
// row is committed is best-effort: a failure is logged, never rolled back.
func (p *Processor) AnalyzeSubmission(ctx context.Context, submissionID string) (*AnalysisSummary, error) {
	chunks, err := p.store.GetSubmissionChunks(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("loading submission chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("submission %s has no processed chunks", submissionID)
	}

	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	text := strings.Join(parts, " ")

	findings := p.engine.Run(text)

	modelIssues, err := p.analyzer.Analyze(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("compliance analysis: %w", err)
	}

	issues := MergeIssues(findings, modelIssues)
	verdict := Verdict(issues)

	analysisID, err := p.store.CreateAnalysisResult(ctx, submissionID, verdict)
	if err != nil {
		return nil, fmt.Errorf("persisting analysis result: %w", err)
	}
	if err := p.store.InsertIssues(ctx, analysisID, issues); err != nil {
		// Best-effort: the result row exists, the issues are incomplete
		slog.Error("issue bulk-insert failed",
			"analysis_id", analysisID,
			"submission_id", submissionID,
			"error", err,
		)
	}
	if err := p.store.UpdateSubmissionStatus(ctx, submissionID, model.StatusCompleted, ""); err != nil {
		slog.Error("failed to mark submission completed",
			"submission_id", submissionID,
			"error", err,
		)
	}

	slog.Info("submission analyzed",
		"submission_id", submissionID,
		"analysis_id", analysisID,
		"verdict", verdict,
		"rule_issues", len(findings),
		"model_issues", len(modelIssues),
	)
	return &AnalysisSummary{
		AnalysisID:    analysisID,
		OverallStatus: verdict,
		IssuesFound:   len(issues),
	}, nil
}

// embedSubmissionChunks fills in embeddings where the gateway supports
// them. Chunks whose embedding call fails stay un-embedded; the analyzer
// embeds on demand or the index degrades to full-corpus retrieval.
func (p *Processor) embedSubmissionChunks(ctx context.Context, chunks []model.SubmissionChunk) {
	if p.gateway == nil || !p.gateway.EmbeddingsEnabled() {
		return
	}
	g := &errgroup.Group{}
	g.SetLimit(p.cfg.ChunkConcurrency)
	for i := range chunks {
		g.Go(func() error {
			emb, err := p.gateway.Embed(ctx, chunks[i].Content)
			if err != nil {
				slog.Warn("chunk embedding failed", "chunk_index", chunks[i].ChunkIndex, "error", err)
				return nil
			}
			chunks[i].Embedding = emb
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Processor) embedRegulationChunks(ctx context.Context, chunks []model.RegulationChunk) {
	if p.gateway == nil || !p.gateway.EmbeddingsEnabled() {
		return
	}
	g := &errgroup.Group{}
	g.SetLimit(p.cfg.ChunkConcurrency)
	for i := range chunks {
		g.Go(func() error {
			emb, err := p.gateway.Embed(ctx, chunks[i].Content)
			if err != nil {
				slog.Warn("chunk embedding failed", "chunk_index", chunks[i].ChunkIndex, "error", err)
				return nil
			}
			chunks[i].Embedding = emb
			return nil
		})
	}
	_ = g.Wait()
}
