package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// imageFieldName is the multipart field the storefront admin panel posts.
const imageFieldName = "image"

type uploadedImage struct {
	tempPath     string
	size         int64
	originalName string
}

// Upload accepts a multipart product image, stores it under a
// timestamp-derived name, and returns the public URL it will be served from.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	var image *uploadedImage
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "read multipart data failed")
			return
		}
		if part.FormName() != imageFieldName || image != nil {
			_ = part.Close()
			continue
		}
		saved, saveErr := h.saveMultipartImage(part)
		if saveErr != nil {
			h.logger().Error("image save failed", "error", saveErr)
			writeFailure(w, http.StatusInternalServerError, "failed to store image")
			return
		}
		image = saved
	}
	if image == nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "No file uploaded",
		})
		return
	}
	storedName, err := h.persistImage(image)
	if err != nil {
		h.logger().Error("image persist failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "failed to store image")
		return
	}
	h.observeImageEvent("upload")
	h.logger().Info("image uploaded", "filename", storedName, "size_bytes", image.size)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"image_url": h.imageURL(r, storedName),
	})
}

// ImageList returns the public URLs of every stored product image.
func (h *Handler) ImageList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	entries, err := os.ReadDir(h.imageDir())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Unable to scan files",
		})
		return
	}
	urls := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		urls = append(urls, h.imageURL(r, entry.Name()))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"images":  urls,
	})
}

type removeImageRequest struct {
	Filename string `json:"filename"`
}

// RemoveImage deletes a stored image by bare filename. Path components are
// stripped so the request cannot reach outside the upload directory.
func (h *Handler) RemoveImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	var req removeImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := filepath.Base(strings.TrimSpace(req.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to delete image",
		})
		return
	}
	if err := os.Remove(filepath.Join(h.imageDir(), name)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to delete image",
		})
		return
	}
	h.observeImageEvent("delete")
	h.logger().Info("image deleted", "filename", name)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Image deleted successfully",
	})
}

func (h *Handler) saveMultipartImage(part *multipart.Part) (*uploadedImage, error) {
	defer part.Close()
	dir := h.imageDir()
	tmp, err := os.CreateTemp(dir, "pending-image-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()
	written, err := io.Copy(tmp, part)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("save image: %w", err)
	}
	return &uploadedImage{
		tempPath:     tmp.Name(),
		size:         written,
		originalName: part.FileName(),
	}, nil
}

// persistImage moves a saved temp file to its final name. Names follow the
// storefront convention image_<timestamp><ext> so existing catalog entries
// keep resolving.
func (h *Handler) persistImage(image *uploadedImage) (string, error) {
	if image == nil || image.tempPath == "" {
		return "", fmt.Errorf("image payload missing")
	}
	defer func() {
		if image.tempPath != "" {
			_ = os.Remove(image.tempPath)
		}
	}()
	ext := strings.ToLower(filepath.Ext(image.originalName))
	storedName := fmt.Sprintf("%s_%d%s", imageFieldName, time.Now().UnixNano(), ext)
	finalPath := filepath.Join(h.imageDir(), storedName)
	if err := os.Rename(image.tempPath, finalPath); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	image.tempPath = ""
	return storedName, nil
}

// ImageDir returns the resolved upload directory, creating it on first use.
func (h *Handler) ImageDir() string {
	return h.imageDir()
}

func (h *Handler) imageDir() string {
	h.uploadDirOnce.Do(func() {
		dir := strings.TrimSpace(h.UploadDir)
		if dir == "" {
			dir = filepath.Join("upload", "images")
		}
		dir = filepath.Clean(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			dir = filepath.Join(os.TempDir(), "merchanza-images")
			_ = os.MkdirAll(dir, 0o755)
		}
		h.uploadDir = dir
	})
	if h.uploadDir == "" {
		return filepath.Join(os.TempDir(), "merchanza-images")
	}
	return h.uploadDir
}

func (h *Handler) imageURL(r *http.Request, filename string) string {
	if base := strings.TrimSpace(h.PublicBaseURL); base != "" {
		return strings.TrimSuffix(base, "/") + "/images/" + filename
	}
	host := ""
	scheme := "http"
	if r != nil {
		scheme = requestScheme(r)
		host = r.Host
		if host == "" && r.URL != nil {
			host = r.URL.Host
		}
	}
	if host == "" {
		host = "localhost"
	}
	imageURL := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   "/images/" + filename,
	}
	return imageURL.String()
}

func requestScheme(r *http.Request) string {
	if r == nil {
		return "http"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		parts := strings.Split(proto, ",")
		return strings.TrimSpace(parts[0])
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
