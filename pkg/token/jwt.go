// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// token 的用途，管理员登录凭证不能当作分享链接使用，反之亦然。
const (
	PurposeAdmin = "admin"
	PurposeShare = "share"
)

// ErrWrongPurpose 表示 token 合法但用途不符。
var ErrWrongPurpose = errors.New("token purpose mismatch")

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey      []byte        // secretKey 用于签名和验证 token 的密钥
	accessTokenDur time.Duration // accessTokenDur 定义了管理员 token 的有效期
	shareDur       time.Duration // shareDur 定义了分享链接的默认有效期
	now            func() time.Time
}

// CustomClaims 定义了我们想要在 JWT 中存储的自定义数据。
// 它嵌入了 jwt.RegisteredClaims 以包含标准的 JWT 声明（如过期时间）。
type CustomClaims struct {
	Username string `json:"username,omitempty"`
	Purpose  string `json:"purpose"`
	FileID   string `json:"fileId,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
// secret: 用于签名的密钥字符串。
// accessTokenExpireHours: 管理员 token 的过期时间（小时）。
// shareLinkExpireHours: 分享链接的默认过期时间（小时）。
func NewJWTManager(secret string, accessTokenExpireHours, shareLinkExpireHours int) *JWTManager {
	return &JWTManager{
		secretKey:      []byte(secret),
		accessTokenDur: time.Hour * time.Duration(accessTokenExpireHours),
		shareDur:       time.Hour * time.Duration(shareLinkExpireHours),
		now:            time.Now,
	}
}

// GenerateToken 为管理员生成一个新的 access token。
func (m *JWTManager) GenerateToken(username string) (string, error) {
	return m.sign(CustomClaims{Username: username, Purpose: PurposeAdmin}, m.accessTokenDur)
}

// GenerateShareToken 为单个文件生成分享 token。ttl 小于等于 0 时使用默认有效期。
func (m *JWTManager) GenerateShareToken(fileID string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = m.shareDur
	}
	expires := m.now().Add(ttl)
	signed, err := m.sign(CustomClaims{Purpose: PurposeShare, FileID: fileID}, ttl)
	return signed, expires, err
}

func (m *JWTManager) sign(claims CustomClaims, ttl time.Duration) (string, error) {
	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	// 使用 HS256 签名方法创建新的 token 对象
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串，并检查用途是否匹配。
// 如果 token 无效（例如，签名不匹配或已过期），则返回错误。
func (m *JWTManager) VerifyToken(tokenString, purpose string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 检查签名方法是否为 HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	return claims, nil
}
