package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/api/googleapi"

	"mediaplan/backend/internal/config"
)

func TestLocalObjectStorePutAndDelete(t *testing.T) {
	root := t.TempDir()
	store, err := NewObjectStore(context.Background(), config.Config{StorageBackend: config.StorageLocal, LocalUploadDir: root})
	if err != nil {
		t.Fatalf("new object store: %v", err)
	}
	if store.Backend() != "local" {
		t.Fatalf("unexpected backend: %q", store.Backend())
	}

	objectPath := "uploads/threads/thread-1/briefs/brief.txt"
	if err := store.PutObject(context.Background(), StoredObject{Path: objectPath, ContentType: "text/plain", Data: []byte("bakery brief")}); err != nil {
		t.Fatalf("put object: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(objectPath)))
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if string(data) != "bakery brief" {
		t.Fatalf("unexpected object contents: %q", data)
	}

	if err := store.DeleteObject(context.Background(), objectPath); err != nil {
		t.Fatalf("delete object: %v", err)
	}
	if err := store.DeleteObject(context.Background(), objectPath); err != nil {
		t.Fatalf("deleting a missing object should succeed: %v", err)
	}
}

func TestLocalObjectStoreRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	if err := store.PutObject(context.Background(), StoredObject{Path: "../outside.txt", Data: []byte("x")}); err == nil {
		t.Fatal("expected escaping path to be rejected")
	}
	if err := store.PutObject(context.Background(), StoredObject{Path: "  ", Data: []byte("x")}); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func TestRetryableGCSError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{&googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{fmt.Errorf("insert: %w", &googleapi.Error{Code: http.StatusBadGateway}), true},
		{&googleapi.Error{Code: http.StatusForbidden}, false},
		{errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		if got := retryableGCSError(tc.err); got != tc.want {
			t.Fatalf("retryableGCSError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestNewObjectStoreRejectsUnknownBackend(t *testing.T) {
	if _, err := NewObjectStore(context.Background(), config.Config{StorageBackend: "ftp"}); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}

func TestCleanObjectPath(t *testing.T) {
	cases := map[string]string{
		"/uploads/a/b.txt":   "uploads/a/b.txt",
		"uploads/./a//b.txt": "uploads/a/b.txt",
		"uploads/x/../b.txt": "uploads/b.txt",
	}
	for raw, want := range cases {
		got, err := cleanObjectPath(raw)
		if err != nil {
			t.Fatalf("cleanObjectPath(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("cleanObjectPath(%q) = %q, want %q", raw, got, want)
		}
	}
}
