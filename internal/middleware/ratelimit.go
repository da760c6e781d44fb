package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"teledrive-go/pkg/log"
)

// UploadRateLimit 按客户端 IP 做固定窗口限流，每分钟最多 perMinute 次。
// rdb 为 nil、perMinute 小于等于 0 或 Redis 出错时放行。
func UploadRateLimit(rdb *redis.Client, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || perMinute <= 0 {
			c.Next()
			return
		}
		window := time.Now().Unix() / 60
		key := fmt.Sprintf("ratelimit:upload:%s:%d", c.ClientIP(), window)

		ctx := c.Request.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warnf("[RateLimit] Redis 计数失败，放行请求: %v", err)
			c.Next()
			return
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, time.Minute).Err()
		}
		if count > int64(perMinute) {
			c.Header("Retry-After", fmt.Sprintf("%d", 60-time.Now().Unix()%60))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": http.StatusTooManyRequests, "message": "上传过于频繁，请稍后再试"})
			return
		}
		c.Next()
	}
}
