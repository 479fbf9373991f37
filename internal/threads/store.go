// Package threads persists conversation state, one row per thread.
package threads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediaplan/backend/internal/mediaplan"
)

var (
	ErrNotFound = errors.New("thread not found")
	ErrExists   = errors.New("thread already exists")

	// ErrArchived is also ErrNotFound, so callers that only care whether a
	// live thread exists need not check for it.
	ErrArchived = fmt.Errorf("%w: archived", ErrNotFound)
)

type FileKind string

const (
	FileBrief      FileKind = "brief"
	FilePlanExport FileKind = "plan_export"
)

// File is an object stored alongside a thread: an uploaded brief or an
// exported plan.
type File struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"threadId"`
	Kind           FileKind  `json:"kind"`
	Filename       string    `json:"filename"`
	MediaType      string    `json:"mediaType"`
	SizeBytes      int64     `json:"sizeBytes"`
	StorageBackend string    `json:"storageBackend"`
	StoragePath    string    `json:"storagePath"`
	ExtractedText  string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Summary struct {
	ID        string          `json:"id"`
	Stage     mediaplan.Stage `json:"stage"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store is the persistence contract of the stage controller. Load and Save
// refuse archived threads with ErrArchived.
type Store interface {
	Create(ctx context.Context, state mediaplan.ConversationState) error
	Load(ctx context.Context, threadID string) (mediaplan.ConversationState, error)
	Save(ctx context.Context, state mediaplan.ConversationState) error
	Archive(ctx context.Context, threadID string) error
	ListActive(ctx context.Context, limit int) ([]Summary, error)
	AddFile(ctx context.Context, file File) error
	ListFiles(ctx context.Context, threadID string) ([]File, error)
}
