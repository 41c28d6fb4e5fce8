package middleware

import (
	midsec "DeepGround/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
	Auth   *midsec.Options // IsAuth 时使用；nil 用默认
}

func (o RouteOpt) chain(handler gin.HandlerFunc) []gin.HandlerFunc {
	if !o.IsAuth {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{midsec.Middleware(o.Auth), handler}
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.chain(handler)...)
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.chain(handler)...)
}

// 封装 PATCH
func PATCH(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.PATCH(path, opt.chain(handler)...)
}

// 封装 DELETE
func DELETE(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.DELETE(path, opt.chain(handler)...)
}
