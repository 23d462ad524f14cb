package security

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return key
}

func TestTokenCipher_RoundTrip(t *testing.T) {
	c, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewTokenCipher() error = %v", err)
	}
	if !c.Enabled() {
		t.Fatal("鍵を設定した場合は有効になるべき")
	}

	plaintext := "refresh-token-secret-xyz"
	encrypted, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if encrypted == plaintext {
		t.Error("暗号文が平文と一致してはならない")
	}

	decrypted, err := c.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestTokenCipher_NonceVariesPerCall(t *testing.T) {
	c, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewTokenCipher() error = %v", err)
	}
	a, _ := c.Encrypt("same-secret")
	b, _ := c.Encrypt("same-secret")
	if a == b {
		t.Error("同じ平文でも呼び出しごとに異なる暗号文になるべき")
	}
}

func TestTokenCipher_TamperDetection(t *testing.T) {
	c, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewTokenCipher() error = %v", err)
	}
	encrypted, _ := c.Encrypt("secret")

	raw, _ := base64.StdEncoding.DecodeString(encrypted)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("改竄された暗号文はErrDecryptionFailedを返すべき, got %v", err)
	}
}

func TestTokenCipher_InvalidCiphertext(t *testing.T) {
	c, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewTokenCipher() error = %v", err)
	}

	if _, err := c.Decrypt("not-base64!!"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("base64でない入力はErrInvalidCiphertextを返すべき, got %v", err)
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := c.Decrypt(short); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("短すぎる暗号文はErrInvalidCiphertextを返すべき, got %v", err)
	}
}

func TestTokenCipher_DisabledPassthrough(t *testing.T) {
	c, err := NewTokenCipher("")
	if err != nil {
		t.Fatalf("NewTokenCipher(\"\") error = %v", err)
	}
	if c.Enabled() {
		t.Error("鍵なしの場合は無効モードになるべき")
	}

	out, err := c.Encrypt("plain")
	if err != nil || out != "plain" {
		t.Errorf("無効モードのEncryptは素通しすべき: got %q, err %v", out, err)
	}
	out, err = c.Decrypt("plain")
	if err != nil || out != "plain" {
		t.Errorf("無効モードのDecryptは素通しすべき: got %q, err %v", out, err)
	}
}

func TestTokenCipher_KeyTooShort(t *testing.T) {
	shortKey := base64.StdEncoding.EncodeToString([]byte("0123456789"))
	if _, err := NewTokenCipher(shortKey); err == nil {
		t.Error("16バイト未満の鍵はエラーになるべき")
	}
}

func TestTokenCipher_InvalidBase64Key(t *testing.T) {
	if _, err := NewTokenCipher("***"); err == nil {
		t.Error("base64でない鍵はエラーになるべき")
	}
}

func TestTokenCipher_EmptyString(t *testing.T) {
	c, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewTokenCipher() error = %v", err)
	}
	out, err := c.Encrypt("")
	if err != nil || out != "" {
		t.Errorf("空文字列の暗号化は空のまま: got %q, err %v", out, err)
	}
	out, err = c.Decrypt("")
	if err != nil || out != "" {
		t.Errorf("空文字列の復号は空のまま: got %q, err %v", out, err)
	}
}

func TestGenerateKey_Decodable(t *testing.T) {
	key := testKey(t)
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		t.Fatalf("生成された鍵はbase64でデコードできるべき: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("鍵長 = %dバイト, want 32", len(raw))
	}
	if strings.TrimSpace(key) != key {
		t.Error("鍵の前後に空白が含まれてはならない")
	}
}
