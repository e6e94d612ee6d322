package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"hlscast/internal/models"
	"hlscast/internal/storage"
)

// uploadFieldName is the multipart field carrying the video file.
const uploadFieldName = "file"

// allowedUploadFormats maps the accepted container extensions. Both the file
// extension and the declared content type must match one of these before any
// bytes reach disk.
var allowedUploadFormats = map[string]struct{}{
	"mp4": {},
	"mov": {},
	"avi": {},
	"mkv": {},
}

type uploadedMedia struct {
	tempPath     string
	size         int64
	originalName string
	contentType  string
}

// Upload handles POST /upload: accept one video file, register a job, and
// either convert inline or queue it when the client asks for async handling.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	if err := h.Guard.Authorize(r); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing upload token", "")
		return
	}
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart payload", "")
		return
	}

	var media *uploadedMedia
	async := false
	defer func() {
		if media != nil {
			_ = os.Remove(media.tempPath)
		}
	}()

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "read multipart data", err.Error())
			return
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if name == uploadFieldName {
			if media != nil {
				_ = part.Close()
				continue
			}
			if err := validateUploadFormat(part.FileName(), part.Header.Get("Content-Type")); err != nil {
				_ = part.Close()
				writeError(w, http.StatusUnsupportedMediaType, "unsupported file format", err.Error())
				return
			}
			saved, saveErr := h.saveMultipartFile(part)
			if saveErr != nil {
				writeError(w, http.StatusBadRequest, "save upload", saveErr.Error())
				return
			}
			media = saved
			continue
		}
		payload, readErr := io.ReadAll(part)
		_ = part.Close()
		if readErr != nil {
			writeError(w, http.StatusBadRequest, "read form field", readErr.Error())
			return
		}
		value := strings.TrimSpace(string(payload))
		if name == "async" {
			async = strings.EqualFold(value, "true") || value == "1"
		}
	}

	if media == nil {
		writeError(w, http.StatusBadRequest, "No file uploaded", "")
		return
	}

	job, err := h.registerJob(media)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process video", err.Error())
		return
	}
	media = nil // ownership moved to the stored name

	if async {
		h.Conversions.Enqueue(job.ID)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message":    "Video accepted for conversion",
			"id":         job.ID,
			"status_url": fmt.Sprintf("/api/jobs/%s", job.ID),
		})
		return
	}

	converted, err := h.Conversions.Run(r.Context(), job.ID)
	if err != nil {
		if errors.Is(err, ErrConversionBusy) {
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, "Server is busy, try again later", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to process video", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Video successfully converted to HLS",
		"video_url": h.absoluteURL(r, converted.PlaybackPath),
		"id":        converted.ID,
	})
}

// registerJob creates the job record and moves the temp file to its stored
// location. The record and file are linked before any conversion starts, so
// an interrupted process can be recovered from disk.
func (h *Handler) registerJob(media *uploadedMedia) (models.Job, error) {
	job, err := h.Store.CreateJob(storage.CreateJobParams{
		OriginalName: media.originalName,
		ContentType:  media.contentType,
		SizeBytes:    media.size,
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}

	storedName := h.Layout.StoredName(uploadFieldName, job.ID, filepath.Ext(media.originalName))
	if err := os.Rename(media.tempPath, h.Layout.StoredPath(storedName)); err != nil {
		_ = h.Store.DeleteJob(job.ID)
		return models.Job{}, fmt.Errorf("store upload: %w", err)
	}

	updated, err := h.Store.UpdateJob(job.ID, storage.JobUpdate{StoredName: &storedName})
	if err != nil {
		_ = os.Remove(h.Layout.StoredPath(storedName))
		_ = h.Store.DeleteJob(job.ID)
		return models.Job{}, fmt.Errorf("record stored name: %w", err)
	}
	return updated, nil
}

func (h *Handler) saveMultipartFile(part *multipart.Part) (*uploadedMedia, error) {
	defer part.Close()
	tmp, err := os.CreateTemp(h.Layout.Root(), "pending-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()
	written, err := io.Copy(tmp, part)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("write upload: %w", err)
	}
	return &uploadedMedia{
		tempPath:     tmp.Name(),
		size:         written,
		originalName: part.FileName(),
		contentType:  part.Header.Get("Content-Type"),
	}, nil
}

// validateUploadFormat applies the container allow-list to both the filename
// extension and the declared MIME type.
func validateUploadFormat(filename, contentType string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if _, ok := allowedUploadFormats[ext]; !ok {
		return fmt.Errorf("extension %q is not an accepted video format", filepath.Ext(filename))
	}
	if !contentTypeAllowed(contentType) {
		return fmt.Errorf("content type %q is not an accepted video format", contentType)
	}
	return nil
}

func contentTypeAllowed(contentType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if normalized == "" {
		return false
	}
	for format := range allowedUploadFormats {
		if strings.Contains(normalized, format) {
			return true
		}
	}
	// quicktime is the registered MIME type for .mov containers.
	return strings.Contains(normalized, "quicktime") || strings.Contains(normalized, "x-matroska")
}

func (h *Handler) absoluteURL(r *http.Request, path string) string {
	if path == "" {
		return ""
	}
	host := r.Host
	if host == "" {
		return path
	}
	return fmt.Sprintf("%s://%s%s", requestScheme(r), host, path)
}
