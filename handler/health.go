package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/surajmurari02/ocr-card/config"
)

// Pinger reports whether the OCR service answers.
type Pinger interface {
	Ping(ctx context.Context) bool
}

type HealthHandler struct {
	cfg    *config.Config
	pinger Pinger
}

func NewHealthHandler(cfg *config.Config, pinger Pinger) *HealthHandler {
	return &HealthHandler{cfg: cfg, pinger: pinger}
}

// Live is the plain liveness check.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Health includes OCR reachability. A down OCR service degrades the app.
func (h *HealthHandler) Health(c *gin.Context) {
	ocr := "down"
	if h.pinger != nil && h.pinger.Ping(c.Request.Context()) {
		ocr = "up"
	}

	status, code := "healthy", http.StatusOK
	if ocr != "up" {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status": status,
		"services": gin.H{
			"ocr_api":    ocr,
			"web_server": "up",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.cfg.App.Version,
	})
}

func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        h.cfg.App.Name,
		"version":     h.cfg.App.Version,
		"status":      "running",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": h.cfg.App.Env,
	})
}
