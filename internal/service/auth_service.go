package service

import (
	"crypto/subtle"
	"errors"
	"time"

	"teledrive-go/internal/config"
	"teledrive-go/pkg/hash"
	"teledrive-go/pkg/log"
	"teledrive-go/pkg/token"
)

// ErrInvalidCredentials 表示用户名或密码错误，或者未配置管理员账号。
var ErrInvalidCredentials = errors.New("invalid username or password")

// ShareLink 是签发给某个文件的分享凭证。
type ShareLink struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthService 接口定义了管理员登录和分享链接相关的操作。
type AuthService interface {
	Login(username, password string) (string, error)
	Share(fileID string, ttl time.Duration) (*ShareLink, error)
	ResolveShare(tokenString string) (string, error)
}

type authService struct {
	admin      config.AdminConfig
	jwtManager *token.JWTManager
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(admin config.AdminConfig, jwtManager *token.JWTManager) AuthService {
	return &authService{admin: admin, jwtManager: jwtManager}
}

// Login 校验管理员账号并签发 access token。
func (s *authService) Login(username, password string) (string, error) {
	if s.admin.Username == "" || s.admin.PasswordHash == "" {
		log.Warnf("[Auth] 未配置管理员账号，拒绝登录")
		return "", ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.admin.Username)) == 1
	// 用户名错误时也执行一次哈希比较，响应时间不泄露用户名是否存在
	passOK := hash.CheckPasswordHash(password, s.admin.PasswordHash)
	if !userOK || !passOK {
		log.Warnf("[Auth] 登录失败, username=%q", username)
		return "", ErrInvalidCredentials
	}
	log.Infof("[Auth] 管理员登录成功, username=%s", username)
	return s.jwtManager.GenerateToken(username)
}

// Share 为文件签发分享 token，ttl 小于等于 0 时使用配置的默认有效期。
func (s *authService) Share(fileID string, ttl time.Duration) (*ShareLink, error) {
	signed, expires, err := s.jwtManager.GenerateShareToken(fileID, ttl)
	if err != nil {
		return nil, err
	}
	return &ShareLink{Token: signed, ExpiresAt: expires}, nil
}

// ResolveShare 校验分享 token，返回其指向的文件 ID。
func (s *authService) ResolveShare(tokenString string) (string, error) {
	claims, err := s.jwtManager.VerifyToken(tokenString, token.PurposeShare)
	if err != nil {
		return "", err
	}
	return claims.FileID, nil
}
