package security

import (
	"net/http"
	"strings"

	"DeepGround/tools/security"

	"github.com/gin-gonic/gin"
)

// context key
// 后续 handler 统一用这俩 key 读取
const (
	CtxTokenKey   = "authorization" // string
	CtxSubjectKey = "subject"       // string
)

type Options struct {
	// 读取哪个请求头
	HeaderToken string // 默认 "Authorization"
	// 允许 ?access_token= 兜底（EventSource 无法带头时）
	AllowQueryToken bool
	JWT             security.Options
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		HeaderToken:     "Authorization",
		AllowQueryToken: true,
		JWT:             security.DefaultOptions(secret),
	}
}

// BearerToken 兼容 "Bearer xxx" 与裸 token
func BearerToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}

// Middleware 校验签名与过期时间，失败一律 401
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions(nil)
	}
	return func(c *gin.Context) {
		token := BearerToken(c.GetHeader(opts.HeaderToken))
		if token == "" && opts.AllowQueryToken {
			token = strings.TrimSpace(c.Query("access_token"))
		}
		if token == "" {
			abort(c, "missing token")
			return
		}
		claims, err := security.Verify(opts.JWT, token)
		if err != nil {
			abort(c, "token rejected")
			return
		}
		sub, _ := claims.GetSubject()
		c.Set(CtxTokenKey, token)
		c.Set(CtxSubjectKey, sub)
		c.Next()
	}
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"status":  http.StatusUnauthorized,
		"message": msg,
	})
}

// Subject 读取已认证用户
func Subject(c *gin.Context) string {
	return c.GetString(CtxSubjectKey)
}
