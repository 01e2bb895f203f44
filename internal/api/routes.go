package api

import (
	"bookstore/internal/api/middleware"
	"bookstore/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	anyRole       = []model.Role{model.RoleUser, model.RoleModerator, model.RoleAdmin}
	staffRoles    = []model.Role{model.RoleModerator, model.RoleAdmin}
	adminOnlyRole = []model.Role{model.RoleAdmin}
)

// route 描述一条业务路由。allow 为空表示公开接口。
type route struct {
	name        string
	method      string
	path        string
	allow       []model.Role
	rateLimited bool
	handler     gin.HandlerFunc
}

// routeTable 返回全部业务路由及其角色要求。
func (s *Server) routeTable() []route {
	return []route{
		{name: "signup", method: "POST", path: "/auth/signup", handler: s.auth.Signup},
		{name: "login", method: "POST", path: "/auth/login", handler: s.auth.Login},
		{name: "create_book", method: "POST", path: "/books/create", allow: adminOnlyRole, handler: s.books.Create},
		{name: "list_books", method: "GET", path: "/books/getBooks", allow: anyRole, rateLimited: true, handler: s.books.List},
		{name: "get_book", method: "GET", path: "/books/:id", allow: anyRole, handler: s.books.Get},
		{name: "update_book", method: "PUT", path: "/books/:id", allow: staffRoles, handler: s.books.Update},
		{name: "delete_book", method: "DELETE", path: "/books/:id", allow: staffRoles, handler: s.books.Delete},
		{name: "upload_images", method: "PUT", path: "/books/upload/:id", allow: staffRoles, rateLimited: true, handler: s.books.UploadImages},
	}
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	for _, rt := range s.routeTable() {
		chain := make([]gin.HandlerFunc, 0, 4)
		if len(rt.allow) > 0 {
			chain = append(chain,
				middleware.Authenticate(s.tokens, s.logger),
				middleware.Authorize(s.logger, rt.allow...),
			)
		}
		if rt.rateLimited {
			chain = append(chain, middleware.RateLimit(s.limiter, rt.name, s.logger))
		}
		chain = append(chain, rt.handler)
		s.router.Handle(rt.method, rt.path, chain...)
	}
}
