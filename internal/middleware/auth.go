// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"teledrive-go/pkg/token"
)

// ContextUsername 是认证通过后写入 gin 上下文的管理员用户名。
const ContextUsername = "username"

// AuthMiddleware 创建一个 Gin 中间件，用于管理员 JWT 认证。
// 它会从请求头中提取 token，验证其有效性和用途，并将用户名存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从 Authorization 请求头中获取 token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头"})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		// 分享链接的 token 不能用来调用管理接口
		claims, err := jwtManager.VerifyToken(tokenString, token.PurposeAdmin)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
			return
		}

		c.Set(ContextUsername, claims.Username)
		c.Set("claims", claims)
		c.Next()
	}
}
