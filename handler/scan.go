package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/surajmurari02/ocr-card/middleware"
	"github.com/surajmurari02/ocr-card/model"
	"github.com/surajmurari02/ocr-card/pkg/logger"
	"github.com/surajmurari02/ocr-card/service"
)

type ScanHandler struct {
	registry *service.SessionRegistry
}

func NewScanHandler(registry *service.SessionRegistry) *ScanHandler {
	return &ScanHandler{registry: registry}
}

func (h *ScanHandler) controller(c *gin.Context) *service.UploadController {
	return h.registry.Controller(middleware.GetSessionID(c))
}

// ProcessImage scans the uploaded image on the session's controller and waits
// for the outcome. While a scan is running further uploads get 409; a client
// that disconnects abandons its own scan.
func (h *ScanHandler) ProcessImage(c *gin.Context) {
	ctx := c.Request.Context()

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			middleware.AbortBodyTooLarge(c, "")
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file uploaded"})
		return
	}
	defer file.Close()

	if header.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file selected"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			middleware.AbortBodyTooLarge(c, "")
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}

	candidate := &model.UploadCandidate{
		Data:        data,
		ContentType: service.DetectContentType(header.Header.Get("Content-Type"), header.Filename, data),
		Size:        int64(len(data)),
		Filename:    service.SanitizeFilename(header.Filename),
	}
	logger.Info(ctx, "upload.received",
		"filename", candidate.Filename,
		"content_type", candidate.ContentType,
		"bytes", candidate.Size,
	)

	snap, err := h.controller(c).Process(ctx, candidate)
	if err != nil {
		writeError(c, err)
		return
	}

	rec := snap.Record
	c.JSON(http.StatusOK, gin.H{
		model.FieldName:        rec.Name,
		model.FieldDesignation: rec.Designation,
		model.FieldCompany:     rec.Company,
		model.FieldMobile:      rec.Mobile,
		model.FieldEmail:       rec.Email,
		model.FieldAddress:     rec.Address,
		"processing_time":      rec.ProcessingTime,
		"status":               "success",
		"filename":             candidate.Filename,
	})
}

// State returns the render view of the session's controller.
func (h *ScanHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, service.Render(h.controller(c).Snapshot()))
}

// Reset is "new scan": the controller returns to idle and any result is dropped.
func (h *ScanHandler) Reset(c *gin.Context) {
	ctrl := h.controller(c)
	ctrl.Reset(c.Request.Context())
	c.JSON(http.StatusOK, service.Render(ctrl.Snapshot()))
}

// statusFor maps a scan or export failure onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrScanInProgress), errors.Is(err, model.ErrScanAbandoned):
		return http.StatusConflict
	case errors.Is(err, model.ErrNoFileSelected):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNoData):
		return http.StatusNotFound
	}

	switch model.CategoryOf(err) {
	case model.CategoryValidation, model.CategoryExport:
		return http.StatusBadRequest
	case model.CategoryServerRejected, model.CategoryMalformed:
		return http.StatusBadGateway
	case model.CategoryNetwork:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": model.UserMessage(err)}
	if kind := model.CategoryOf(err); kind != "" {
		body["error_kind"] = kind
	}
	if status == http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "error", err)
	}
	c.JSON(status, body)
}
