// Package idem は Idempotency-Key ヘッダによる二重送信防止。
// 端末側のリトライで同じ遷移リクエストが二度流れても 2回目は 409 で弾く。
package idem

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	HeaderKey  = "Idempotency-Key"
	keyPrefix  = "elms:idem:"
	defaultTTL = 15 * time.Minute
)

// Middleware: POST系のルートに付ける。キー未指定のリクエストは素通し。
// SETNX が false なら同一キーの処理が既に受理済みとみなす。
func Middleware(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.Next()
			return
		}

		ok, err := rdb.SetNX(c.Request.Context(), keyPrefix+key, 1, defaultTTL).Result()
		if err != nil {
			// redis が落ちていても本処理は止めない
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": gin.H{"code": "CONFLICT", "message": "duplicate request (Idempotency-Key already used)"},
			})
			return
		}
		c.Next()
	}
}
