package threads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"mediaplan/backend/internal/mediaplan"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) SQLStore {
	return SQLStore{db: db}
}

func (s SQLStore) Create(ctx context.Context, state mediaplan.ConversationState) error {
	ctx, span := otel.Tracer("threads/SQLStore").Start(ctx, "Create")
	defer span.End()

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode thread state: %w", err)
	}

	query := `INSERT INTO threads (id, stage, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING;`
	result, err := s.db.ExecContext(ctx, query, state.ThreadID, string(state.Stage), string(payload), formatTime(state.CreatedAt), formatTime(state.UpdatedAt))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("create thread: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrExists
	}
	return nil
}

func (s SQLStore) Load(ctx context.Context, threadID string) (mediaplan.ConversationState, error) {
	ctx, span := otel.Tracer("threads/SQLStore").Start(ctx, "Load")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", threadID))

	var (
		payload  string
		archived bool
	)
	err := s.db.QueryRowContext(ctx, `SELECT state, archived FROM threads WHERE id = ? LIMIT 1;`, threadID).Scan(&payload, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return mediaplan.ConversationState{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return mediaplan.ConversationState{}, fmt.Errorf("load thread: %w", err)
	}
	if archived {
		return mediaplan.ConversationState{}, ErrArchived
	}

	var state mediaplan.ConversationState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return mediaplan.ConversationState{}, fmt.Errorf("decode thread state: %w", err)
	}
	if state.InvalidAttempts == nil {
		state.InvalidAttempts = map[mediaplan.Stage]int{}
	}
	return state, nil
}

// Save writes the whole state in one statement so a turn is either fully
// stored or not at all.
func (s SQLStore) Save(ctx context.Context, state mediaplan.ConversationState) error {
	ctx, span := otel.Tracer("threads/SQLStore").Start(ctx, "Save")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", state.ThreadID), attribute.String("thread.stage", string(state.Stage)))

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode thread state: %w", err)
	}

	query := `
INSERT INTO threads (id, stage, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  stage = excluded.stage,
  state = excluded.state,
  updated_at = excluded.updated_at
WHERE threads.archived = 0;
`
	result, err := s.db.ExecContext(ctx, query, state.ThreadID, string(state.Stage), string(payload), formatTime(state.CreatedAt), formatTime(state.UpdatedAt))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save thread: %w", err)
	}
	// The upsert only skips a row that exists and is archived.
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrArchived
	}
	return nil
}

func (s SQLStore) Archive(ctx context.Context, threadID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE threads SET archived = 1, updated_at = ? WHERE id = ? AND archived = 0;`, formatTime(time.Now()), threadID)
	if err != nil {
		return fmt.Errorf("archive thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive thread: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s SQLStore) ListActive(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, stage, updated_at FROM threads WHERE archived = 0 ORDER BY updated_at DESC, id LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var (
			item      Summary
			stage     string
			updatedAt string
		)
		if err := rows.Scan(&item.ID, &stage, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		item.Stage = mediaplan.Stage(stage)
		item.UpdatedAt = parseTime(updatedAt)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return out, nil
}

func (s SQLStore) AddFile(ctx context.Context, file File) error {
	if strings.TrimSpace(file.ID) == "" {
		file.ID = uuid.NewString()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}

	query := `
INSERT INTO thread_files (id, thread_id, kind, filename, media_type, size_bytes, storage_backend, storage_path, extracted_text, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	var extracted sql.NullString
	if file.ExtractedText != "" {
		extracted = sql.NullString{String: file.ExtractedText, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, query,
		file.ID,
		file.ThreadID,
		string(file.Kind),
		file.Filename,
		file.MediaType,
		file.SizeBytes,
		file.StorageBackend,
		file.StoragePath,
		extracted,
		formatTime(file.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert thread file: %w", err)
	}
	return nil
}

func (s SQLStore) ListFiles(ctx context.Context, threadID string) ([]File, error) {
	query := `
SELECT id, thread_id, kind, filename, media_type, size_bytes, storage_backend, storage_path, COALESCE(extracted_text, ''), created_at
FROM thread_files
WHERE thread_id = ?
ORDER BY created_at, id;
`
	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread files: %w", err)
	}
	defer rows.Close()

	out := make([]File, 0)
	for rows.Next() {
		var (
			file      File
			kind      string
			createdAt string
		)
		if err := rows.Scan(
			&file.ID,
			&file.ThreadID,
			&kind,
			&file.Filename,
			&file.MediaType,
			&file.SizeBytes,
			&file.StorageBackend,
			&file.StoragePath,
			&file.ExtractedText,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan thread file: %w", err)
		}
		file.Kind = FileKind(kind)
		file.CreatedAt = parseTime(createdAt)
		out = append(out, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread files: %w", err)
	}
	return out, nil
}

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return parsed
	}
	if parsed, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return parsed
	}
	return time.Time{}
}
