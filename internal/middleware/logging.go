// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"teledrive-go/pkg/log"
)

// 只记录不超过该长度的 JSON 请求体和响应体。
const maxLoggedBody = 4 << 10

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer。
// 只有 JSON 响应会被缓存，文件下载不会进入日志。
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if isJSON(w.Header().Get("Content-Type")) && w.body.Len() < maxLoggedBody {
		w.body.Write(b[:min(len(b), maxLoggedBody-w.body.Len())])
	}
	return w.ResponseWriter.Write(b)
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// multipart 上传的请求体不会被读取，以免把整个文件缓存在内存中。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var requestBody []byte
		if c.Request.Body != nil && isJSON(c.ContentType()) && c.Request.ContentLength <= maxLoggedBody {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody))
			// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"responseBytes", c.Writer.Size(),
		}
		if len(requestBody) > 0 && !strings.Contains(c.Request.URL.Path, "/auth/") {
			fields = append(fields, "requestBody", string(requestBody))
		}
		if blw.body.Len() > 0 {
			fields = append(fields, "responseBody", blw.body.String())
		}
		log.Infow("HTTP Request Log", fields...)
	}
}
