package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/agentica-ai/knowledgebase/internal/config"
	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn, err := buildDSN(cfg.Database.URL, cfg.Database.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	maxConns := max(cfg.Database.MaxConns, 2)
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN adds certificate verification to rawURL when a root cert is configured.
func buildDSN(rawURL, sslCertPath string) (string, error) {
	if sslCertPath == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", sslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// classifyPgError wraps err in a *core.StorageError. Constraint, data and
// missing column/table errors are validation errors; the caller may retry
// with fewer columns.
func classifyPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := core.StorageUnknown
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"), strings.HasPrefix(pgErr.Code, "22"):
			kind = core.StorageValidation
		case pgErr.Code == "42703", pgErr.Code == "42P01":
			kind = core.StorageValidation
		}
	}
	return &core.StorageError{Kind: kind, Op: op, Err: err}
}

// escapeLike quotes the LIKE wildcards in s and wraps it in %...%.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	a := doc.Analysis
	if a == nil {
		fb := models.FallbackAnalysis()
		a = &fb
	}

	const q = `
		INSERT INTO knowledge_base_documents
			(id, user_id, agent_id, filename, original_filename, file_type, file_size, content, url, storage_path, metadata,
			 summary, key_topics, entities, categories, sentiment, language, reading_level, word_count,
			 key_phrases, answerable_questions, action_items, processing_status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			 $12, $13, $14, $15, $16, $17, $18, $19,
			 $20, $21, $22, $23, $24, $25)
	`
	_, err = c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.AgentID, doc.FileName, doc.OriginalFileName, doc.FileType, doc.FileSize, doc.Content,
		nullString(doc.SourceURL), nullString(doc.StoragePath), string(meta),
		a.Summary, a.KeyTopics, a.Entities, a.Categories, a.Sentiment, a.Language, a.ReadingLevel, a.WordCount,
		a.KeyPhrases, a.Questions, a.ActionItems, doc.Status, doc.CreatedAt, doc.UpdatedAt,
	)
	return classifyPgError("insert document", err)
}

func (c *DatabaseClient) CreateDocumentBasic(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO knowledge_base_documents
			(id, user_id, agent_id, filename, original_filename, file_type, file_size, content, processing_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.AgentID, doc.FileName, doc.OriginalFileName, doc.FileType, doc.FileSize, doc.Content,
		doc.Status, doc.CreatedAt, doc.UpdatedAt,
	)
	return classifyPgError("insert document (basic)", err)
}

const documentColumns = `id, user_id, agent_id, filename, original_filename, file_type, file_size, %s,
	url, storage_path, metadata, summary, key_topics, entities, categories, sentiment, language, reading_level,
	word_count, key_phrases, answerable_questions, action_items, processing_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one row selected with documentColumns followed by any
// extra columns. Postgres arrays are scanned through types, since database/sql
// has no array support.
func scanDocument(types *pgtype.Map, row rowScanner, extra ...any) (*models.Document, error) {
	var (
		d                                        models.Document
		content, sourceURL, storagePath, summary sql.NullString
		sentiment, language, readingLevel        sql.NullString
		wordCount                                sql.NullInt64
		meta                                     []byte
		a                                        models.AnalysisResult
	)
	dest := []any{
		&d.ID, &d.UserID, &d.AgentID, &d.FileName, &d.OriginalFileName, &d.FileType, &d.FileSize, &content,
		&sourceURL, &storagePath, &meta, &summary,
		types.SQLScanner(&a.KeyTopics), types.SQLScanner(&a.Entities), types.SQLScanner(&a.Categories),
		&sentiment, &language, &readingLevel, &wordCount,
		types.SQLScanner(&a.KeyPhrases), types.SQLScanner(&a.Questions), types.SQLScanner(&a.ActionItems),
		&d.Status, &d.CreatedAt, &d.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	d.Content = content.String
	d.SourceURL = sourceURL.String
	d.StoragePath = storagePath.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", d.ID, err)
		}
	}
	if summary.Valid {
		a.Summary = summary.String
		a.Sentiment = sentiment.String
		a.Language = language.String
		a.ReadingLevel = readingLevel.String
		a.WordCount = int(wordCount.Int64)
		d.Analysis = &a
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + fmt.Sprintf(documentColumns, "content") + ` FROM knowledge_base_documents WHERE id = $1`
	d, err := scanDocument(pgtype.NewMap(), c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDocumentsByAgent returns the documents without their content, newest first.
func (c *DatabaseClient) ListDocumentsByAgent(ctx context.Context, userID, agentID string) ([]models.Document, error) {
	q := `SELECT ` + fmt.Sprintf(documentColumns, "NULL::text") + `
		FROM knowledge_base_documents
		WHERE user_id = $1 AND agent_id = $2
		ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := pgtype.NewMap()
	out := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(types, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE knowledge_base_documents
		SET processing_status = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return classifyPgError("update document status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes the document and its chunks in one transaction.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, id); err != nil {
		return classifyPgError("delete chunks", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM knowledge_base_documents WHERE id = $1`, id)
	if err != nil {
		return classifyPgError("delete document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return tx.Commit()
}

// Chunks

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return classifyPgError("begin chunk insert", err)
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, chunk_index, content, summary, keywords, importance, searchable_content, token_count, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return classifyPgError("prepare chunk insert", err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		var vec any
		if len(ch.Embedding) > 0 {
			vec = pgvector.NewVector(ch.Embedding)
		}
		keywords := ch.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		var createdAt any
		if !ch.CreatedAt.IsZero() {
			createdAt = ch.CreatedAt
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.ChunkIndex, ch.Content, ch.Summary, keywords, ch.Importance,
			ch.SearchableContent, ch.TokenCount, vec, createdAt,
		); err != nil {
			_ = tx.Rollback()
			return classifyPgError("insert chunk", err)
		}
	}
	return classifyPgError("commit chunks", tx.Commit())
}

const chunkColumns = `c.id, c.document_id, c.chunk_index, c.content, c.summary, c.keywords, c.importance,
	c.searchable_content, c.token_count, c.created_at`

func chunkDest(types *pgtype.Map, ch *models.Chunk) []any {
	return []any{
		&ch.ID, &ch.DocumentID, &ch.ChunkIndex, &ch.Content, &ch.Summary, types.SQLScanner(&ch.Keywords), &ch.Importance,
		&ch.SearchableContent, &ch.TokenCount, &ch.CreatedAt,
	}
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	q := `SELECT ` + chunkColumns + `
		FROM document_chunks c
		WHERE c.document_id = $1
		ORDER BY c.chunk_index ASC`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := pgtype.NewMap()
	out := []models.Chunk{}
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(chunkDest(types, &ch)...); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Retrieval

func (c *DatabaseClient) queryMatches(ctx context.Context, q string, args ...any) ([]models.ChunkMatch, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := pgtype.NewMap()
	out := []models.ChunkMatch{}
	for rows.Next() {
		var m models.ChunkMatch
		dest := append(chunkDest(types, &m.Chunk), &m.FileName, &m.Similarity)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchChunksFullText ranks the agent's chunks against a websearch-style query.
func (c *DatabaseClient) SearchChunksFullText(ctx context.Context, agentID, query string, limit int) ([]models.ChunkMatch, error) {
	q := `SELECT ` + chunkColumns + `, d.original_filename,
			ts_rank(c.searchable, websearch_to_tsquery('english', $2))::float8 AS similarity
		FROM document_chunks c
		JOIN knowledge_base_documents d ON d.id = c.document_id
		WHERE d.agent_id = $1
		  AND c.searchable @@ websearch_to_tsquery('english', $2)
		ORDER BY similarity DESC, c.importance DESC
		LIMIT $3`
	return c.queryMatches(ctx, q, agentID, query, limit)
}

// SearchChunksPattern is a case-insensitive substring match over content,
// summary and keywords. Matches carry a similarity of 0.
func (c *DatabaseClient) SearchChunksPattern(ctx context.Context, agentID, query string, limit int) ([]models.ChunkMatch, error) {
	q := `SELECT ` + chunkColumns + `, d.original_filename, 0::float8 AS similarity
		FROM document_chunks c
		JOIN knowledge_base_documents d ON d.id = c.document_id
		WHERE d.agent_id = $1
		  AND (c.content ILIKE $2 ESCAPE '\'
		       OR c.summary ILIKE $2 ESCAPE '\'
		       OR EXISTS (SELECT 1 FROM unnest(c.keywords) AS k WHERE k ILIKE $2 ESCAPE '\'))
		ORDER BY c.importance DESC, c.created_at DESC
		LIMIT $3`
	return c.queryMatches(ctx, q, agentID, escapeLike(strings.TrimSpace(query)), limit)
}

// SearchChunksByVector returns the agent's chunks closest to queryVec by cosine
// distance, keeping only those with a similarity of at least minSimilarity.
func (c *DatabaseClient) SearchChunksByVector(ctx context.Context, agentID string, queryVec []float32, minSimilarity float64, limit int) ([]models.ChunkMatch, error) {
	q := `SELECT ` + chunkColumns + `, d.original_filename,
			(1 - (c.embedding <=> $2))::float8 AS similarity
		FROM document_chunks c
		JOIN knowledge_base_documents d ON d.id = c.document_id
		WHERE d.agent_id = $1 AND c.embedding IS NOT NULL
		  AND 1 - (c.embedding <=> $2) >= $3
		ORDER BY c.embedding <=> $2
		LIMIT $4`
	return c.queryMatches(ctx, q, agentID, pgvector.NewVector(queryVec), minSimilarity, limit)
}

// SearchChunksAdvanced ranks chunks from all of the user's documents. Category
// filtering is case-insensitive and matches documents sharing any category.
func (c *DatabaseClient) SearchChunksAdvanced(ctx context.Context, userID, query string, filter models.SearchFilter, limit int) ([]models.ChunkMatch, error) {
	q := `SELECT ` + chunkColumns + `, d.original_filename,
			ts_rank(c.searchable, websearch_to_tsquery('english', $2))::float8 AS similarity
		FROM document_chunks c
		JOIN knowledge_base_documents d ON d.id = c.document_id
		WHERE d.user_id = $1
		  AND c.searchable @@ websearch_to_tsquery('english', $2)
		  AND ($3::text = '' OR d.agent_id = $3::text)
		  AND (cardinality($4::text[]) = 0 OR EXISTS (
		       SELECT 1 FROM unnest(d.categories) AS dc
		       JOIN unnest($4::text[]) AS fc ON lower(dc) = lower(fc)))
		  AND c.importance >= $5
		ORDER BY similarity DESC, c.importance DESC
		LIMIT $6`
	categories := filter.Categories
	if categories == nil {
		categories = []string{}
	}
	return c.queryMatches(ctx, q, userID, query, filter.AgentID, categories, filter.MinImportance, limit)
}

// analysisTerms is the lower-cased set of a document's topics, categories and key phrases.
const analysisTerms = `ARRAY(SELECT DISTINCT lower(t) FROM unnest(
		COALESCE(key_topics, '{}') || COALESCE(categories, '{}') || COALESCE(key_phrases, '{}')) AS t)`

// FindSimilarDocuments scores the owner's other documents by the Jaccard index
// of their analysis terms against the given document's. Documents without
// analysis never match.
func (c *DatabaseClient) FindSimilarDocuments(ctx context.Context, documentID string, minSimilarity float64, limit int) ([]models.SimilarDocument, error) {
	q := `WITH target AS (
			SELECT id AS target_id, user_id AS target_user, ` + analysisTerms + ` AS target_terms
			FROM knowledge_base_documents
			WHERE id = $1
		)
		SELECT ` + fmt.Sprintf(documentColumns, "NULL::text") + `, sim.score
		FROM knowledge_base_documents
		CROSS JOIN target
		CROSS JOIN LATERAL (SELECT ` + analysisTerms + ` AS terms) AS doc
		CROSS JOIN LATERAL (
			SELECT cardinality(ARRAY(SELECT unnest(doc.terms) INTERSECT SELECT unnest(target_terms))) AS shared
		) AS overlap
		CROSS JOIN LATERAL (
			SELECT overlap.shared::float8
				/ NULLIF(cardinality(doc.terms) + cardinality(target_terms) - overlap.shared, 0) AS score
		) AS sim
		WHERE user_id = target_user AND id <> target_id AND sim.score >= $2
		ORDER BY sim.score DESC, created_at DESC
		LIMIT $3`
	rows, err := c.db.QueryContext(ctx, q, documentID, minSimilarity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := pgtype.NewMap()
	out := []models.SimilarDocument{}
	for rows.Next() {
		var score float64
		d, err := scanDocument(types, rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, models.SimilarDocument{Document: *d, Similarity: score})
	}
	return out, rows.Err()
}

// Stats

func (c *DatabaseClient) KnowledgeBaseStats(ctx context.Context, userID string) (*models.KnowledgeBaseStats, error) {
	stats := &models.KnowledgeBaseStats{FileTypes: map[string]int{}, Statuses: map[string]int{}}

	rows, err := c.db.QueryContext(ctx, `
		SELECT file_type, processing_status, count(*), COALESCE(sum(file_size), 0)
		FROM knowledge_base_documents
		WHERE user_id = $1
		GROUP BY file_type, processing_status`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fileType, status string
			count            int
			size             int64
		)
		if err := rows.Scan(&fileType, &status, &count, &size); err != nil {
			return nil, err
		}
		stats.TotalDocuments += count
		stats.TotalSize += size
		stats.FileTypes[fileType] += count
		stats.Statuses[status] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM document_chunks c
		JOIN knowledge_base_documents d ON d.id = c.document_id
		WHERE d.user_id = $1`, userID).Scan(&stats.TotalChunks)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
