package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const subscribeKeyPrefix = "inventtive:subscribe:"

// SubscribeThrottle 对订阅接口按客户端 IP 做固定窗口限流。
//
// 订阅接口无需登录，是唯一容易被脚本刷的写接口。
func SubscribeThrottle(rdb *redis.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if window <= 0 {
			window = time.Minute
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		key := subscribeKeyPrefix + c.ClientIP()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Redis 不可用时放行，订阅接口本身幂等
			c.Next()
			return
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, window).Err()
		}
		if count > int64(limit) {
			ttl, _ := rdb.TTL(ctx, key).Result()
			c.Header("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
