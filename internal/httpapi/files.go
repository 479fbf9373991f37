package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediaplan/backend/internal/analysis"
	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/plan"
	"mediaplan/backend/internal/threads"
)

const (
	defaultMaxBriefBytes       = 5 * 1024 * 1024
	maxBriefTextRunes          = 200_000
	defaultObjectStoragePrefix = "mediaplan"
)

var (
	supportedBriefExtensions = map[string]struct{}{
		".txt": {},
		".md":  {},
		".pdf": {},
	}

	filenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// UploadBrief stores a business brief and feeds its text to the conversation
// as if the user had typed it.
func (h Handler) UploadBrief(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		writeError(w, http.StatusServiceUnavailable, "storage_unconfigured", "file storage is not configured")
		return
	}
	state, ok := h.loadThread(w, r)
	if !ok {
		return
	}

	maxBytes := h.maxBriefBytes()
	tooLarge := fmt.Sprintf("brief size exceeds %s", humanize.IBytes(uint64(maxBytes)))
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", tooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "request must be multipart/form-data")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "invalid_request", "file field is required")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read uploaded file")
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	extension := strings.ToLower(filepath.Ext(filename))
	if _, supported := supportedBriefExtensions[extension]; !supported {
		writeError(w, http.StatusBadRequest, "unsupported_file_type", "supported file types: .txt, .md, .pdf")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read uploaded file")
		return
	}
	if int64(len(data)) > maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", tooLarge)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "empty files are not allowed")
		return
	}

	mediaType := detectUploadMediaType(header.Header.Get("Content-Type"), extension, data)
	_, text, err := analysis.ExtractText(briefContentType(extension), data, maxBriefTextRunes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_extraction_failed", "brief did not contain extractable text")
		return
	}

	fileID := uuid.NewString()
	objectPath := h.buildObjectPath(state.ThreadID, "briefs", fileID, filename)
	brief := StoredObject{
		Path:        objectPath,
		ContentType: mediaType,
		Filename:    filename,
		ThreadID:    state.ThreadID,
		Kind:        threads.FileBrief,
		Data:        data,
	}
	if err := h.files.PutObject(r.Context(), brief); err != nil {
		h.log.Logger(r.Context()).Error("[HTTP] Could not store brief", zap.String("thread_id", state.ThreadID), zap.String("file_id", fileID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "storage_error", "failed to store brief")
		return
	}

	record := threads.File{
		ID:             fileID,
		ThreadID:       state.ThreadID,
		Kind:           threads.FileBrief,
		Filename:       filename,
		MediaType:      mediaType,
		SizeBytes:      int64(len(data)),
		StorageBackend: h.files.Backend(),
		StoragePath:    objectPath,
		ExtractedText:  text,
		CreatedAt:      h.now().UTC(),
	}
	if err := h.threads.AddFile(r.Context(), record); err != nil {
		h.log.Logger(r.Context()).Error("[HTTP] Could not save brief metadata", zap.String("thread_id", state.ThreadID), zap.String("file_id", fileID), zap.Error(err))
		_ = h.files.DeleteObject(r.Context(), objectPath)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to save brief metadata")
		return
	}

	h.runTurn(w, r, state.ThreadID, trimToRunes(strings.TrimSpace(text), maxTurnMessageRunes), http.StatusCreated, map[string]any{"file": record})
}

// ExportPlan writes the current plan as markdown to the object store.
func (h Handler) ExportPlan(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		writeError(w, http.StatusServiceUnavailable, "storage_unconfigured", "file storage is not configured")
		return
	}
	state, ok := h.loadThread(w, r)
	if !ok {
		return
	}
	if state.FinalPlan == nil {
		writeError(w, http.StatusConflict, "plan_not_ready", "the plan has not been generated yet")
		return
	}

	body := []byte(plan.RenderMarkdown(*state.FinalPlan))
	fileID := uuid.NewString()
	filename := fmt.Sprintf("media-plan-r%d.md", state.FinalPlan.Revision)
	objectPath := h.buildObjectPath(state.ThreadID, "exports", fileID, filename)
	export := StoredObject{
		Path:        objectPath,
		ContentType: "text/markdown; charset=utf-8",
		Filename:    filename,
		ThreadID:    state.ThreadID,
		Kind:        threads.FilePlanExport,
		Data:        body,
	}
	if err := h.files.PutObject(r.Context(), export); err != nil {
		h.log.Logger(r.Context()).Error("[HTTP] Could not store plan export", zap.String("thread_id", state.ThreadID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "storage_error", "failed to store plan export")
		return
	}

	record := threads.File{
		ID:             fileID,
		ThreadID:       state.ThreadID,
		Kind:           threads.FilePlanExport,
		Filename:       filename,
		MediaType:      "text/markdown",
		SizeBytes:      int64(len(body)),
		StorageBackend: h.files.Backend(),
		StoragePath:    objectPath,
		CreatedAt:      h.now().UTC(),
	}
	if err := h.threads.AddFile(r.Context(), record); err != nil {
		h.log.Logger(r.Context()).Error("[HTTP] Could not save export metadata", zap.String("thread_id", state.ThreadID), zap.Error(err))
		_ = h.files.DeleteObject(r.Context(), objectPath)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to save plan export")
		return
	}

	delivery := state.Delivery
	if delivery == nil {
		delivery = &mediaplan.DeliveryRequest{Channel: mediaplan.DeliveryDownload, RequestedAt: record.CreatedAt, Revision: state.FinalPlan.Revision}
	}
	h.log.Logger(r.Context()).Info("[HTTP] Plan exported",
		zap.String("thread_id", state.ThreadID),
		zap.Int("revision", state.FinalPlan.Revision),
		zap.String("size", humanize.Bytes(uint64(len(body)))),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"file": record, "delivery": delivery})
}

func (h Handler) maxBriefBytes() int64 {
	if h.cfg.MaxBriefBytes > 0 {
		return h.cfg.MaxBriefBytes
	}
	return defaultMaxBriefBytes
}

func (h Handler) buildObjectPath(threadID, kind, fileID, filename string) string {
	prefix := strings.Trim(strings.TrimSpace(h.cfg.GCSUploadPrefix), "/")
	if prefix == "" {
		prefix = defaultObjectStoragePrefix
	}
	return path.Join(prefix, "threads", threadID, kind, fileID+"-"+filename)
}

func briefContentType(extension string) string {
	switch extension {
	case ".pdf":
		return "application/pdf"
	case ".md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

func detectUploadMediaType(headerContentType, extension string, data []byte) string {
	contentType := strings.TrimSpace(headerContentType)
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	if byExt := strings.TrimSpace(mime.TypeByExtension(extension)); byExt != "" {
		return byExt
	}

	if len(data) > 0 {
		sniffLen := min(len(data), 512)
		return http.DetectContentType(data[:sniffLen])
	}

	return "application/octet-stream"
}

func sanitizeFilename(raw string) string {
	base := strings.TrimSpace(filepath.Base(raw))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "brief"
	}

	extension := filepath.Ext(base)
	namePart := strings.TrimSuffix(base, extension)
	namePart = filenameSanitizer.ReplaceAllString(namePart, "_")
	namePart = strings.Trim(namePart, "._")
	if namePart == "" {
		namePart = "brief"
	}

	extension = strings.ToLower(extension)
	extension = filenameSanitizer.ReplaceAllString(extension, "")
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	candidate := trimToRunes(namePart+extension, 180)
	if strings.TrimSpace(candidate) == "" {
		return "brief"
	}
	return candidate
}

func trimToRunes(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}
