package handler

import (
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"teledrive-go/internal/middleware"
	"teledrive-go/internal/model"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/log"
)

const maxListLimit = 500

// FileHandler 负责处理文件列表、下载和管理相关的 API 请求。
type FileHandler struct {
	fileService service.FileService
	authService service.AuthService
}

// NewFileHandler 创建一个新的 FileHandler 实例。
func NewFileHandler(fileService service.FileService, authService service.AuthService) *FileHandler {
	return &FileHandler{fileService: fileService, authService: authService}
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, "无效的 limit 参数")
		return 0, false
	}
	return min(n, maxListLimit), true
}

// List 处理文件列表请求，支持 q、type 和 limit 参数。
func (h *FileHandler) List(c *gin.Context) {
	limit, valid := parseLimit(c)
	if !valid {
		return
	}
	fileType := model.FileType(strings.ToLower(c.Query("type")))
	if fileType != "" && !fileType.Valid() {
		fail(c, http.StatusBadRequest, "无效的 type 参数")
		return
	}

	views, err := h.fileService.List(c.Request.Context(), service.ListOptions{
		Query: c.Query("q"),
		Type:  fileType,
		Limit: limit,
	})
	if err != nil {
		failWithError(c, "ListFiles", err)
		return
	}
	ok(c, http.StatusOK, "获取文件列表成功", views)
}

// Search 处理按名称检索的请求。
func (h *FileHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		fail(c, http.StatusBadRequest, "缺少检索关键词")
		return
	}
	limit, valid := parseLimit(c)
	if !valid {
		return
	}
	views, err := h.fileService.Search(c.Request.Context(), query, limit)
	if err != nil {
		failWithError(c, "SearchFiles", err)
		return
	}
	ok(c, http.StatusOK, "检索成功", views)
}

// Stats 返回存储统计信息。
func (h *FileHandler) Stats(c *gin.Context) {
	stats, err := h.fileService.Stats(c.Request.Context())
	if err != nil {
		failWithError(c, "FileStats", err)
		return
	}
	ok(c, http.StatusOK, "获取统计信息成功", stats)
}

// Get 返回单个文件的信息。
func (h *FileHandler) Get(c *gin.Context) {
	view, err := h.fileService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWithError(c, "GetFile", err)
		return
	}
	ok(c, http.StatusOK, "获取文件成功", view)
}

// Download 下载文件内容。
func (h *FileHandler) Download(c *gin.Context) {
	serveFile(c, h.fileService, c.Param("id"))
}

// RenameRequest 定义了重命名 API 的请求体结构。
type RenameRequest struct {
	Name string `json:"name" binding:"required"`
}

// Rename 修改文件的显示名称。
func (h *FileHandler) Rename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：name 不能为空")
		return
	}
	view, err := h.fileService.Rename(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		failWithError(c, "RenameFile", err)
		return
	}
	log.Infof("RenameFile: id=%s, name=%q, by=%s", view.ID, view.DisplayName, c.GetString(middleware.ContextUsername))
	ok(c, http.StatusOK, "重命名成功", view)
}

// Delete 删除文件及其远端副本。
func (h *FileHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.fileService.Delete(c.Request.Context(), id); err != nil {
		failWithError(c, "DeleteFile", err)
		return
	}
	log.Infof("DeleteFile: id=%s, by=%s", id, c.GetString(middleware.ContextUsername))
	ok(c, http.StatusOK, "删除成功", nil)
}

// ShareRequest 可选地指定分享链接的有效期（小时）。
type ShareRequest struct {
	ExpiresInHours int `json:"expiresInHours"`
}

// Share 为文件签发分享链接。
func (h *FileHandler) Share(c *gin.Context) {
	var req ShareRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil || req.ExpiresInHours < 0 {
			fail(c, http.StatusBadRequest, "无效的请求负载")
			return
		}
	}
	view, err := h.fileService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWithError(c, "ShareFile", err)
		return
	}
	link, err := h.authService.Share(view.ID, time.Duration(req.ExpiresInHours)*time.Hour)
	if err != nil {
		failWithError(c, "ShareFile", err)
		return
	}
	ok(c, http.StatusOK, "分享链接已生成", gin.H{
		"token":     link.Token,
		"url":       "/s/" + link.Token,
		"expiresAt": link.ExpiresAt,
	})
}

// serveFile 按本地文件、远端重定向、远端代理的顺序输出文件内容。
func serveFile(c *gin.Context, files service.FileService, id string) {
	res, err := files.Open(c.Request.Context(), id)
	if err != nil {
		failWithError(c, "OpenFile", err)
		return
	}
	name := res.View.DisplayName
	switch {
	case res.LocalPath != "":
		if res.View.MimeType != "" {
			c.Header("Content-Type", res.View.MimeType)
		}
		c.Header("Content-Disposition", contentDisposition(name))
		c.File(res.LocalPath)
	case res.Remote != nil && res.Remote.RedirectURL != "":
		c.Redirect(http.StatusFound, res.Remote.RedirectURL)
	case res.Remote != nil && res.Remote.Body != nil:
		defer res.Remote.Body.Close()
		contentType := res.View.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.DataFromReader(http.StatusOK, res.Remote.Size, contentType, res.Remote.Body,
			map[string]string{"Content-Disposition": contentDisposition(name)})
	default:
		fail(c, http.StatusGone, "文件内容已不可用")
	}
}

// contentDisposition 生成附件头，非 ASCII 文件名使用 RFC 2231 编码。
func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
