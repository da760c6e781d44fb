// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"teledrive-go/internal/service"
	"teledrive-go/pkg/log"
)

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
	})
}

// failWithError 把业务错误映射到 HTTP 状态码，未知错误统一返回 500 并记录日志。
func failWithError(c *gin.Context, op string, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, service.ErrFileNotFound):
		fail(c, http.StatusNotFound, "文件不存在")
	case errors.Is(err, service.ErrFileGone):
		fail(c, http.StatusGone, "文件内容已不可用")
	case errors.Is(err, service.ErrFileTooLarge), errors.As(err, &maxErr):
		fail(c, http.StatusRequestEntityTooLarge, "文件超过大小限制")
	case errors.Is(err, service.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, "用户名或密码错误")
	case errors.Is(err, service.ErrPartialWrite):
		fail(c, http.StatusBadRequest, "上传未完成")
	case service.IsInputError(err):
		fail(c, http.StatusBadRequest, err.Error())
	default:
		log.Errorf("%s: %v", op, err)
		fail(c, http.StatusInternalServerError, "服务器内部错误")
	}
}
