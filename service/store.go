package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/complymed/backend/config"
	"github.com/complymed/backend/model"
	"github.com/complymed/backend/pipeline"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// PostgresStore is the relational persistence layer. Embedding vectors are
// stored as pgvector columns; similarity search goes through the
// match_regulation_chunks stored procedure.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.PostgresConfig) (*PostgresStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	pc.MaxConns = int32(cfg.MaxConns)
	pc.ConnConfig.RuntimeParams["application_name"] = "complymed-backend"

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// HealthCheck pings the database with a short timeout
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// vectorLiteral renders a float32 slice as a pgvector text literal
func vectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses a pgvector text literal back into a float32 slice
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// --- Submissions ---

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO submissions (id, user_id, filename, file_path, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())`,
		sub.ID, sub.UserID, sub.Filename, sub.FilePath, sub.Status)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, filename, file_path, status, coalesce(failure_reason, ''), created_at, updated_at
		FROM submissions WHERE id = $1`, id).
		Scan(&sub.ID, &sub.UserID, &sub.Filename, &sub.FilePath, &sub.Status, &sub.FailureReason, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query submission: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, userID string) ([]model.Submission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, filename, file_path, status, coalesce(failure_reason, ''), created_at, updated_at
		FROM submissions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Filename, &sub.FilePath, &sub.Status, &sub.FailureReason, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) UpdateSubmissionStatus(ctx context.Context, id, status, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE submissions SET status = $2, failure_reason = nullif($3, ''), updated_at = now()
		WHERE id = $1`, id, status, reason)
	if err != nil {
		return fmt.Errorf("failed to update submission status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSubmission(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertSubmissionChunks(ctx context.Context, chunks []model.SubmissionChunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = vectorLiteral(c.Embedding)
		}
		batch.Queue(`
			INSERT INTO submission_chunks (id, submission_id, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, now())`,
			uuid.New().String(), c.SubmissionID, c.ChunkIndex, c.Content, embedding)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert submission chunk: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetSubmissionChunks(ctx context.Context, submissionID string) ([]model.SubmissionChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, submission_id, chunk_index, content, coalesce(embedding::text, ''), created_at
		FROM submission_chunks WHERE submission_id = $1 ORDER BY chunk_index`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submission chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.SubmissionChunk
	for rows.Next() {
		var c model.SubmissionChunk
		var embText string
		if err := rows.Scan(&c.ID, &c.SubmissionID, &c.ChunkIndex, &c.Content, &embText, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission chunk: %w", err)
		}
		if embText != "" {
			if c.Embedding, err = parseVector(embText); err != nil {
				return nil, err
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Regulations ---

func (s *PostgresStore) CreateRegulation(ctx context.Context, reg *model.Regulation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO regulations (id, title, category, version, effective_date, status, file_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, nullif($5, ''), $6, $7, now(), now())`,
		reg.ID, reg.Title, reg.Category, reg.Version, reg.EffectiveDate, reg.Status, reg.FilePath)
	if err != nil {
		return fmt.Errorf("failed to insert regulation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRegulation(ctx context.Context, id string) (*model.Regulation, error) {
	var reg model.Regulation
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, category, version, coalesce(effective_date::text, ''), status, file_path, created_at, updated_at
		FROM regulations WHERE id = $1`, id).
		Scan(&reg.ID, &reg.Title, &reg.Category, &reg.Version, &reg.EffectiveDate, &reg.Status, &reg.FilePath, &reg.CreatedAt, &reg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query regulation: %w", err)
	}
	return &reg, nil
}

func (s *PostgresStore) ListRegulations(ctx context.Context) ([]model.Regulation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, category, version, coalesce(effective_date::text, ''), status, file_path, created_at, updated_at
		FROM regulations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regulations: %w", err)
	}
	defer rows.Close()

	var regs []model.Regulation
	for rows.Next() {
		var reg model.Regulation
		if err := rows.Scan(&reg.ID, &reg.Title, &reg.Category, &reg.Version, &reg.EffectiveDate, &reg.Status, &reg.FilePath, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan regulation: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// ReplaceRegulationChunks swaps a regulation's chunk set in one transaction,
// so a reprocessing failure never leaves the corpus half-replaced.
func (s *PostgresStore) ReplaceRegulationChunks(ctx context.Context, regulationID string, chunks []model.RegulationChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM regulation_chunks WHERE regulation_id = $1`, regulationID); err != nil {
		return fmt.Errorf("failed to delete old regulation chunks: %w", err)
	}
	for _, c := range chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = vectorLiteral(c.Embedding)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO regulation_chunks (id, regulation_id, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, now())`,
			uuid.New().String(), c.RegulationID, c.ChunkIndex, c.Content, embedding); err != nil {
			return fmt.Errorf("failed to insert regulation chunk: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// rankMatches applies the similarity contract to raw search results:
// drop matches below the threshold (the bound is inclusive), order by
// descending similarity, cap at k.
func rankMatches(matches []model.RegulationMatch, threshold float64, k int) []model.RegulationMatch {
	kept := matches[:0]
	for _, m := range matches {
		if m.Similarity >= threshold {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Similarity > kept[j].Similarity
	})
	if k > 0 && len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

// MatchChunks runs embedding-similarity search through the
// match_regulation_chunks function defined in schema.sql. Only chunks of
// active regulations are returned. The function already filters and orders,
// but the contract is re-applied here so it does not depend on the deployed
// function version.
func (s *PostgresStore) MatchChunks(ctx context.Context, embedding []float32, threshold float64, k int) ([]model.RegulationMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, regulation_id, content, similarity
		FROM match_regulation_chunks($1::vector, $2, $3)`,
		vectorLiteral(embedding), threshold, k)
	if err != nil {
		return nil, fmt.Errorf("failed to match regulation chunks: %w", err)
	}
	defer rows.Close()

	var matches []model.RegulationMatch
	for rows.Next() {
		var m model.RegulationMatch
		if err := rows.Scan(&m.ChunkID, &m.RegulationID, &m.Content, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan regulation match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankMatches(matches, threshold, k), nil
}

// ActiveChunks loads every chunk of every active regulation with its parent
// metadata, for the whole-document analysis path.
func (s *PostgresStore) ActiveChunks(ctx context.Context) ([]pipeline.RegulationContext, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.title, r.category, r.version, coalesce(r.effective_date::text, ''), r.status, c.content
		FROM regulation_chunks c
		JOIN regulations r ON r.id = c.regulation_id
		WHERE r.status = 'active'
		ORDER BY r.created_at, c.chunk_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to load active regulation chunks: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RegulationContext
	for rows.Next() {
		var rc pipeline.RegulationContext
		if err := rows.Scan(&rc.Regulation.ID, &rc.Regulation.Title, &rc.Regulation.Category,
			&rc.Regulation.Version, &rc.Regulation.EffectiveDate, &rc.Regulation.Status, &rc.Content); err != nil {
			return nil, fmt.Errorf("failed to scan regulation chunk: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// --- Analysis ---

func (s *PostgresStore) CreateAnalysisResult(ctx context.Context, submissionID, overallStatus string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_results (id, submission_id, overall_status, created_at)
		VALUES ($1, $2, $3, now())`, id, submissionID, overallStatus)
	if err != nil {
		return "", fmt.Errorf("failed to insert analysis result: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertIssues(ctx context.Context, analysisID string, issues []model.Issue) error {
	batch := &pgx.Batch{}
	for _, issue := range issues {
		var citations any
		if len(issue.Citations) > 0 {
			data, err := json.Marshal(issue.Citations)
			if err != nil {
				return fmt.Errorf("failed to marshal citations: %w", err)
			}
			citations = data
		}
		batch.Queue(`
			INSERT INTO analysis_issues (
				id, analysis_id, category, severity, title, description,
				location, suggestion, regulation_id, regulation_title,
				regulation_category, regulation_version, regulation_effective_date,
				regulation_status, submission_excerpt, regulation_excerpt,
				citations, notes, code, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, nullif($13, ''), $14, $15, $16, $17, $18, $19, now())`,
			uuid.New().String(), analysisID, issue.Category, issue.Severity, issue.Title, issue.Description,
			issue.Location, issue.Suggestion, issue.RegulationID, issue.RegulationTitle,
			issue.RegulationCategory, issue.RegulationVersion, issue.RegulationEffective,
			issue.RegulationStatus, issue.SubmissionExcerpt, issue.RegulationExcerpt,
			citations, issue.Notes, issue.Code)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range issues {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert issue: %w", err)
		}
	}
	return nil
}

// GetLatestAnalysis returns the newest analysis result for a submission
// together with its issues.
func (s *PostgresStore) GetLatestAnalysis(ctx context.Context, submissionID string) (*model.AnalysisResult, []model.Issue, error) {
	var res model.AnalysisResult
	err := s.pool.QueryRow(ctx, `
		SELECT id, submission_id, overall_status, created_at
		FROM analysis_results WHERE submission_id = $1
		ORDER BY created_at DESC LIMIT 1`, submissionID).
		Scan(&res.ID, &res.SubmissionID, &res.OverallStatus, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query analysis result: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, analysis_id, category, severity, title, description,
			coalesce(location, ''), coalesce(suggestion, ''), coalesce(regulation_id, ''),
			coalesce(regulation_title, ''), coalesce(regulation_category, ''),
			coalesce(regulation_version, ''), coalesce(regulation_effective_date::text, ''),
			coalesce(regulation_status, ''), coalesce(submission_excerpt, ''),
			coalesce(regulation_excerpt, ''), citations, coalesce(notes, ''), coalesce(code, '')
		FROM analysis_issues WHERE analysis_id = $1
		ORDER BY category, title`, res.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		var issue model.Issue
		var citations []byte
		if err := rows.Scan(&issue.ID, &issue.AnalysisID, &issue.Category, &issue.Severity,
			&issue.Title, &issue.Description, &issue.Location, &issue.Suggestion,
			&issue.RegulationID, &issue.RegulationTitle, &issue.RegulationCategory,
			&issue.RegulationVersion, &issue.RegulationEffective, &issue.RegulationStatus,
			&issue.SubmissionExcerpt, &issue.RegulationExcerpt, &citations,
			&issue.Notes, &issue.Code); err != nil {
			return nil, nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &issue.Citations); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal citations: %w", err)
			}
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	sortIssuesBySeverity(issues)
	return &res, issues, nil
}

// severityRank orders severities by urgency. Plain string ordering would
// put info before warning.
func severityRank(severity string) int {
	switch severity {
	case model.SeverityError:
		return 0
	case model.SeverityWarning:
		return 1
	default:
		return 2
	}
}

func sortIssuesBySeverity(issues []model.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return severityRank(issues[i].Severity) < severityRank(issues[j].Severity)
	})
}
