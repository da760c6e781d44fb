package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"teledrive-go/internal/model"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/log"
)

// multipart 头部和表单字段的额外余量。
const multipartOverhead = 1 << 20

// UploadHandler 负责处理网页上传。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// Upload 处理 multipart 表单中名为 file 的单个文件。
func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploadService.MaxUploadBytes()+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			fail(c, http.StatusRequestEntityTooLarge, "文件超过大小限制")
			return
		}
		log.Warnf("Upload: 未能获取上传的文件, error: %v", err)
		fail(c, http.StatusBadRequest, "未能获取上传的文件")
		return
	}
	file, err := fh.Open()
	if err != nil {
		failWithError(c, "Upload: open multipart file", err)
		return
	}
	defer file.Close()

	rec, err := h.uploadService.Ingest(c.Request.Context(), service.UploadRequest{
		OriginalName: fh.Filename,
		MimeType:     fh.Header.Get("Content-Type"),
		DeclaredSize: fh.Size,
		Uploader:     model.Uploader{Source: "web", ID: c.ClientIP()},
		Body:         file,
	})
	if err != nil {
		failWithError(c, "Upload", err)
		return
	}
	ok(c, http.StatusCreated, "上传成功", service.NewFileView(*rec))
}
