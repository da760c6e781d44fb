package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"teledrive-go/internal/service"
	"teledrive-go/pkg/log"
)

// AuthHandler 负责处理管理员登录。
type AuthHandler struct {
	authService service.AuthService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// LoginRequest 定义了登录 API 的请求体结构。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理管理员登录请求。
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载：用户名和密码不能为空")
		return
	}

	accessToken, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		failWithError(c, "Login", err)
		return
	}
	ok(c, http.StatusOK, "登录成功", gin.H{"token": accessToken})
}
