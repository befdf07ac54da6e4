package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// PostgresConfig holds the connection settings for PostgresRepository.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

// PostgresRepository stores documents and history in Postgres via a pgx pool.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	filename      TEXT NOT NULL DEFAULT '',
	mime_type     TEXT NOT NULL,
	size          BIGINT NOT NULL DEFAULT 0,
	user_id       TEXT NOT NULL DEFAULT '',
	storage_path  TEXT NOT NULL DEFAULT '',
	file_hash     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	current_stage TEXT NOT NULL DEFAULT '',
	progress      INTEGER NOT NULL DEFAULT 0,
	last_updated  TIMESTAMPTZ NOT NULL,
	error         JSONB,
	ocr_text      TEXT NOT NULL DEFAULT '',
	fragments     JSONB NOT NULL DEFAULT '[]',
	page_count    INTEGER NOT NULL DEFAULT 0,
	document_type TEXT NOT NULL DEFAULT '',
	fields        JSONB NOT NULL DEFAULT '[]',
	mapped_fields JSONB NOT NULL DEFAULT '[]',
	unmapped      JSONB NOT NULL DEFAULT '[]',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_file_hash_idx ON documents (file_hash);
CREATE TABLE IF NOT EXISTS document_history (
	seq         BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	ts          TIMESTAMPTZ NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL,
	progress    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS document_history_doc_idx ON document_history (document_id, seq);
`

// OpenPostgres connects a pgx pool and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "documentintake"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("Connected to Postgres document store.")
	return &PostgresRepository{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, filename, mime_type, size, user_id, storage_path, file_hash,
		       status, current_stage, progress, last_updated, error,
		       ocr_text, fragments, page_count, document_type, fields, mapped_fields, unmapped,
		       retry_count, created_at
		FROM documents WHERE id = $1`, id)

	var (
		doc                                 models.Document
		status                              string
		errJSON                             []byte
		fragments, fields, mapped, unmapped []byte
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.MimeType, &doc.Size, &doc.UserID, &doc.StoragePath, &doc.FileHash,
		&status, &doc.State.CurrentStage, &doc.State.Progress, &doc.State.LastUpdated, &errJSON,
		&doc.OCRText, &fragments, &doc.PageCount, &doc.DocumentType, &fields, &mapped, &unmapped,
		&doc.RetryCount, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{DocumentID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	doc.State.Status = models.Status(status)
	if len(errJSON) > 0 {
		doc.State.Error = &models.ErrorInfo{}
		if err := json.Unmarshal(errJSON, doc.State.Error); err != nil {
			return nil, fmt.Errorf("failed to decode error column: %w", err)
		}
	}
	for _, c := range []struct {
		raw []byte
		dst any
	}{{fragments, &doc.Fragments}, {fields, &doc.Fields}, {mapped, &doc.MappedFields}, {unmapped, &doc.Unmapped}} {
		if len(c.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(c.raw, c.dst); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
		}
	}
	return &doc, nil
}

func (r *PostgresRepository) CreateDocument(ctx context.Context, doc *models.Document) error {
	errJSON, err := marshalNullable(doc.State.Error)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, mime_type, size, user_id, storage_path, file_hash,
		                       status, current_stage, progress, last_updated, error, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		doc.ID, doc.Filename, doc.MimeType, doc.Size, doc.UserID, doc.StoragePath, doc.FileHash,
		string(doc.State.Status), doc.State.CurrentStage, doc.State.Progress, doc.State.LastUpdated, errJSON,
		doc.RetryCount, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *PostgresRepository) UpdateDocument(ctx context.Context, id string, patch models.DocumentPatch) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	setJSON := func(col string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", col, err)
		}
		set(col, b)
		return nil
	}

	if s := patch.State; s != nil {
		errJSON, err := marshalNullable(s.Error)
		if err != nil {
			return err
		}
		set("status", string(s.Status))
		set("current_stage", s.CurrentStage)
		set("progress", s.Progress)
		set("last_updated", s.LastUpdated)
		set("error", errJSON)
	}
	if patch.RetryCount != nil {
		set("retry_count", *patch.RetryCount)
	}
	if patch.OCRText != nil {
		set("ocr_text", *patch.OCRText)
	}
	if patch.PageCount != nil {
		set("page_count", *patch.PageCount)
	}
	if patch.DocumentType != nil {
		set("document_type", *patch.DocumentType)
	}
	for _, c := range []struct {
		col string
		set bool
		v   any
	}{
		{"fragments", patch.Fragments != nil, patch.Fragments},
		{"fields", patch.Fields != nil, patch.Fields},
		{"mapped_fields", patch.MappedFields != nil, patch.MappedFields},
		{"unmapped", patch.Unmapped != nil, patch.Unmapped},
	} {
		if !c.set {
			continue
		}
		if err := setJSON(c.col, c.v); err != nil {
			return err
		}
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE documents SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{DocumentID: id}
	}
	return nil
}

func (r *PostgresRepository) AppendHistory(ctx context.Context, id string, entry models.HistoryEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO document_history (document_id, ts, stage, status, message, progress)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, entry.Timestamp, entry.Stage, string(entry.Status), entry.Message, entry.Progress)
	if err != nil {
		return fmt.Errorf("failed to append history for %s: %w", id, err)
	}
	return nil
}

func (r *PostgresRepository) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ts, stage, status, message, progress
		FROM document_history WHERE document_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", id, err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var (
			e      models.HistoryEntry
			status string
		)
		if err := rows.Scan(&e.Timestamp, &e.Stage, &status, &e.Message, &e.Progress); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Status = models.Status(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", id, err)
	}
	if len(out) == 0 {
		if _, err := r.GetDocument(ctx, id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *PostgresRepository) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	if fileHash == "" {
		return "", false, nil
	}
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM documents WHERE file_hash = $1 ORDER BY created_at LIMIT 1`, fileHash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	return id, true, nil
}

func marshalNullable(info *models.ErrorInfo) ([]byte, error) {
	if info == nil {
		return nil, nil
	}
	b, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode error info: %w", err)
	}
	return b, nil
}
