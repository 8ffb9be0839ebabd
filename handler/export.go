package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/surajmurari02/ocr-card/pkg/logger"
)

// Export downloads the current result as an attachment. Exporting never
// changes the scan state, so it can be repeated in every format.
func (h *ScanHandler) Export(c *gin.Context) {
	format := c.Param("format")

	art, err := h.controller(c).Export(format)
	if err != nil {
		logger.Info(c.Request.Context(), "export.rejected", "format", format, "error", err)
		writeError(c, err)
		return
	}

	logger.Info(c.Request.Context(), "export.completed", "format", format, "bytes", len(art.Data))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, art.Filename))
	c.Data(http.StatusOK, art.MediaType, art.Data)
}
