package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"teledrive-go/internal/service"
	"teledrive-go/pkg/log"
)

// ShareHandler 处理通过分享链接的匿名下载。
type ShareHandler struct {
	fileService service.FileService
	authService service.AuthService
}

// NewShareHandler 创建一个新的 ShareHandler 实例。
func NewShareHandler(fileService service.FileService, authService service.AuthService) *ShareHandler {
	return &ShareHandler{fileService: fileService, authService: authService}
}

// Download 校验分享 token 后输出文件内容。
func (h *ShareHandler) Download(c *gin.Context) {
	fileID, err := h.authService.ResolveShare(c.Param("token"))
	if err != nil {
		log.Warnf("ShareDownload: 无效的分享链接, error: %v", err)
		fail(c, http.StatusForbidden, "分享链接无效或已过期")
		return
	}
	serveFile(c, h.fileService, fileID)
}
