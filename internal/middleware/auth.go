// Package middleware 提供 HTTP 中间件
package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/mall-ledger/internal/common/jwt"
	"github.com/dumeirei/mall-ledger/internal/common/response"
)

// 上下文键
const (
	ContextKeyUserID = "user_id"
	ContextKeyClaims = "claims"
)

// Auth 认证中间件，userType 为空时不校验用户类型
func Auth(manager *jwt.Manager, userType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		claims, err := manager.ParseToken(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Unauthorized(c, "登录已过期，请重新登录")
			} else {
				response.Unauthorized(c, "无效的令牌")
			}
			c.Abort()
			return
		}

		if userType != "" && claims.UserType != userType {
			response.Forbidden(c, "无权访问")
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// UserAuth 分销商用户认证
func UserAuth(manager *jwt.Manager) gin.HandlerFunc {
	return Auth(manager, jwt.UserTypeUser)
}

// AdminAuth 运营人员认证
func AdminAuth(manager *jwt.Manager) gin.HandlerFunc {
	return Auth(manager, jwt.UserTypeAdmin)
}

// RequireFinance 资金操作权限，需在 AdminAuth 之后使用
func RequireFinance() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || !claims.CanOperateFinance() {
			response.Forbidden(c, "无资金操作权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// GetUserID 从上下文获取当前用户或运营人员 ID
func GetUserID(c *gin.Context) int64 {
	return c.GetInt64(ContextKeyUserID)
}

// GetClaims 从上下文获取完整的 Claims
func GetClaims(c *gin.Context) *jwt.Claims {
	v, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, _ := v.(*jwt.Claims)
	return claims
}
