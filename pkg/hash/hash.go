// Package hash 封装管理员密码的 bcrypt 哈希。
package hash

import "golang.org/x/crypto/bcrypt"

// HashPassword 使用 bcrypt 的默认代价生成密码哈希。
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash 比较明文密码和哈希是否匹配。
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
