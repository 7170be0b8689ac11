// Package jwt 解析调用方令牌，得到发起操作的用户或运营人员身份
package jwt

import (
	"errors"
	"time"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/golang-jwt/jwt/v5"
)

// 用户类型
const (
	UserTypeUser  = "user"
	UserTypeAdmin = "admin"
)

// 运营角色，仅 finance 与 super 可执行审核打款
const (
	RoleFinance = "finance"
	RoleSuper   = "super"
)

// Claims 自定义 JWT 声明
type Claims struct {
	UserID   int64  `json:"user_id"`
	UserType string `json:"user_type"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// 预定义错误
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Manager JWT 管理器
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewManager 创建 JWT 管理器
func NewManager(cfg *config.JWTConfig) *Manager {
	return &Manager{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenDuration(),
	}
}

// GenerateAccessToken 签发访问令牌，签发通常由账号服务完成，此处供运维脚本与测试使用
func (m *Manager) GenerateAccessToken(userID int64, userType, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		UserType: userType,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userType,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseToken 解析令牌
func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// CanOperateFinance 是否具备资金操作权限
func (c *Claims) CanOperateFinance() bool {
	return c.UserType == UserTypeAdmin && (c.Role == RoleFinance || c.Role == RoleSuper)
}
