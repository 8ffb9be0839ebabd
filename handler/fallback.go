package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NotFound answers unknown routes in the same JSON shape as every other error.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
}

func MethodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
}

// RegisterFallbacks installs the JSON 404 and 405 handlers on router.
func RegisterFallbacks(router *gin.Engine) {
	router.HandleMethodNotAllowed = true
	router.NoRoute(NotFound)
	router.NoMethod(MethodNotAllowed)
}
