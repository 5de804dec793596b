package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"forgecore/internal/models"
)

// ErrBadSignature 签名校验失败
var ErrBadSignature = errors.New("signature verification failed")

// SoftwareSigner 本地 ed25519 签名器
type SoftwareSigner struct {
	key    ed25519.PrivateKey
	keyRef string
}

// NewSoftwareSigner 由 32 字节种子创建签名器；keyRef 为公钥指纹前 8 字节
func NewSoftwareSigner(seed []byte) (*SoftwareSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &SoftwareSigner{key: key, keyRef: KeyRef(key.Public().(ed25519.PublicKey))}, nil
}

// LoadSoftwareSigner 从文件读取 base64 种子
func LoadSoftwareSigner(path string) (*SoftwareSigner, error) {
	seed, err := readBase64File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return NewSoftwareSigner(seed)
}

// PublicKey 公钥
func (s *SoftwareSigner) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign 签名
func (s *SoftwareSigner) Sign(ctx context.Context, payload []byte) (models.Signature, error) {
	if err := ctx.Err(); err != nil {
		return models.Signature{}, fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
	}
	return models.Signature{Value: ed25519.Sign(s.key, payload), KeyRef: s.keyRef}, nil
}

// KeyRef 公钥指纹
func KeyRef(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ed25519:" + hex.EncodeToString(sum[:8])
}

// Verifier ed25519 公钥校验器，实现 audit.Verifier
type Verifier struct {
	pub ed25519.PublicKey
}

// NewVerifier 创建校验器
func NewVerifier(pub ed25519.PublicKey) (*Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return &Verifier{pub: pub}, nil
}

// LoadVerifier 从文件读取 base64 公钥
func LoadVerifier(path string) (*Verifier, error) {
	pub, err := readBase64File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return NewVerifier(pub)
}

// Verify 校验签名
func (v *Verifier) Verify(payload, signature []byte) error {
	if !ed25519.Verify(v.pub, payload, signature) {
		return ErrBadSignature
	}
	return nil
}

func readBase64File(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 in %s: %w", path, err)
	}
	return data, nil
}
