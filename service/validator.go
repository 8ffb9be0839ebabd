package service

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/surajmurari02/ocr-card/config"
	"github.com/surajmurari02/ocr-card/model"
)

var mimeAliases = map[string]string{
	"image/jpg":      "image/jpeg",
	"image/pjpeg":    "image/jpeg",
	"image/x-png":    "image/png",
	"image/x-ms-bmp": "image/bmp",
	"image/x-bmp":    "image/bmp",
	"image/tif":      "image/tiff",
	"image/x-tiff":   "image/tiff",
}

// FileValidator checks upload metadata before any network call.
type FileValidator struct {
	maxSize int64
	allowed map[string]bool
}

func NewFileValidator(cfg *config.UploadConfig) *FileValidator {
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[CanonicalMIME(t)] = true
	}
	return &FileValidator{
		maxSize: cfg.MaxFileSize,
		allowed: allowed,
	}
}

// Validate is a pure predicate over the candidate's declared type and size.
// It does not inspect the bytes.
func (v *FileValidator) Validate(c *model.UploadCandidate) error {
	if c == nil {
		return model.ValidationError(model.ErrNoFileSelected, "No file selected")
	}
	if !v.allowed[CanonicalMIME(c.ContentType)] {
		return model.ValidationError(model.ErrUnsupportedType,
			"Invalid file type. Please upload JPEG, PNG, GIF, BMP, or TIFF images.")
	}
	if c.Size > v.maxSize {
		return model.ValidationError(model.ErrTooLarge,
			fmt.Sprintf("File too large. Maximum size is %s.", FormatMB(v.maxSize)))
	}
	if c.Size <= 0 {
		return model.ValidationError(model.ErrInvalidImage, "Uploaded file is empty")
	}
	return nil
}

func (v *FileValidator) MaxSize() int64 {
	return v.maxSize
}

// CanonicalMIME strips parameters and folds common aliases, "image/JPG; q=1" -> "image/jpeg".
func CanonicalMIME(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	if alias, ok := mimeAliases[mt]; ok {
		return alias
	}
	return mt
}

// DetectContentType resolves the MIME type for an upload whose declared type
// is missing or generic, first by extension and then by sniffing the bytes.
func DetectContentType(declared, filename string, data []byte) string {
	ct := CanonicalMIME(declared)
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return CanonicalMIME(byExt)
	}
	return CanonicalMIME(http.DetectContentType(data))
}

// FormatMB renders a byte count the way limits are shown to users, "10MB".
func FormatMB(n int64) string {
	mb := float64(n) / (1 << 20)
	if mb == float64(int64(mb)) {
		return fmt.Sprintf("%dMB", int64(mb))
	}
	return fmt.Sprintf("%.1fMB", mb)
}

var unsafeFilenameParts = []string{"..", "/", "\\", ":", "*", "?", "\"", "<", ">", "|"}

// SanitizeFilename keeps only the base name and replaces path and shell
// metacharacters so the name is safe to echo back or use as an object key.
func SanitizeFilename(name string) string {
	if name == "" {
		return "upload"
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, part := range unsafeFilenameParts {
		name = strings.ReplaceAll(name, part, "_")
	}
	if name == "" || strings.HasPrefix(name, ".") {
		name = "upload_" + name
	}
	return name
}
