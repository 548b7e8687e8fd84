package auth

import (
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt は先頭 72 バイトしか扱えないため、それを超えるパスワードは事前にハッシュする
const bcryptMaxPasswordBytes = 72

// Hasher はパスワードダイジェストの生成と照合を行います。
type Hasher interface {
	Hash(password string) (string, error)
	Verify(digest, password string) bool
}

// BcryptHasher は bcrypt による Hasher 実装です。
type BcryptHasher struct {
	Cost int
}

// Hash は平文パスワードからダイジェストを生成します。
func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify はダイジェストと平文が一致するかを返します。
func (h BcryptHasher) Verify(digest, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), bcryptInput(password)) == nil
}

// bcryptInput は 72 バイトを超えるパスワードを SHA-256 の base64 (44 バイト) に置き換えます。
func bcryptInput(password string) []byte {
	if len(password) <= bcryptMaxPasswordBytes {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
