// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// トークン暗号化のエラー。
var (
	// ErrInvalidCiphertext は暗号文の形式が不正なことを表す。
	ErrInvalidCiphertext = errors.New("暗号文の形式が不正です")
	// ErrDecryptionFailed は復号に失敗したことを表す。鍵違いか改竄を疑う。
	ErrDecryptionFailed = errors.New("復号に失敗しました")
)

// cipherContext はHKDFの鍵導出コンテキスト。変更すると既存の暗号文が読めなくなる。
const cipherContext = "fitsync-token-encryption-v1"

// TokenCipher はプロバイダのリフレッシュシークレットを保存時に暗号化する。
// base64エンコードされたマスター鍵からHKDF-SHA256で鍵を導出し、
// AES-256-GCMで暗号化する。ランダムnonceを暗号文の先頭に連結し、
// 全体をbase64で返す。
//
// マスター鍵が空の場合は無効モードになり、Encrypt/Decryptは値を素通しする。
// 開発環境向けの挙動であり、本番では必ず鍵を設定すること。
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher はbase64エンコードされたマスター鍵からTokenCipherを生成する。
// 空文字列を渡すと無効モードのTokenCipherを返す（エラーにはしない）。
// デコード後の鍵は16バイト以上を要求する。
func NewTokenCipher(masterKeyBase64 string) (*TokenCipher, error) {
	if masterKeyBase64 == "" {
		return &TokenCipher{}, nil
	}

	masterKey, err := base64.StdEncoding.DecodeString(masterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("マスター鍵のデコードに失敗しました: %w", err)
	}
	if len(masterKey) < 16 {
		return nil, errors.New("マスター鍵は16バイト以上である必要があります")
	}

	derived := make([]byte, 32)
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(cipherContext))
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("鍵導出に失敗しました: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("AES暗号の初期化に失敗しました: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCMモードの初期化に失敗しました: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Enabled は暗号化が有効かを返す。起動時の警告ログに使う。
func (c *TokenCipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// Encrypt は平文を暗号化してbase64文字列を返す。
// 無効モードでは平文をそのまま返す。空文字列は空のまま返す。
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonceの生成に失敗しました: %w", err)
	}

	ciphertext := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt はbase64暗号文を復号して平文を返す。
// 無効モードでは値をそのまま返す。空文字列は空のまま返す。
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if !c.Enabled() {
		return ciphertext, nil
	}
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64デコードエラー", ErrInvalidCiphertext)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: データが短すぎます", ErrInvalidCiphertext)
	}

	nonce := data[:nonceSize]
	plaintext, err := c.aead.Open(nil, nonce, data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateKey は新しいマスター鍵(base64、32バイト)を生成する。
// 運用者が初期セットアップで使うためのヘルパー。
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("鍵の生成に失敗しました: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
