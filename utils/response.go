package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONResponse writes the {status, message, data} envelope.
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// JSONError writes the {status, message, error} envelope. Details of
// internal failures stay in the logs; clients only see the status text.
func JSONError(c *gin.Context, status int, err error, message string) {
	detail := http.StatusText(status)
	if status != http.StatusInternalServerError && err != nil {
		detail = err.Error()
	}
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"error":   detail,
	})
}
