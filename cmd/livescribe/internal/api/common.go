package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/orchestrator"
)

// errorResponse 返回错误响应
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}

// badRequestResponse 返回 400 响应
func badRequestResponse(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, message)
}

// notFoundResponse 返回 404 响应
func notFoundResponse(c *gin.Context, resource string) {
	errorResponse(c, http.StatusNotFound, resource+" not found")
}

// pipelineErrorResponse 按错误码映射 HTTP 状态并返回错误码
func pipelineErrorResponse(c *gin.Context, err error) {
	code := orchestrator.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case orchestrator.INVALID_STATE:
		status = http.StatusConflict
	case orchestrator.DEVICE_UNAVAILABLE:
		status = http.StatusServiceUnavailable
	}
	if errors.Is(err, errStopTimeout) {
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  code,
	})
}
