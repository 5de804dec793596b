// Package signer 审计条目签名器
//
// RemoteSigner 通过 HTTP 桥调用安全元件；SoftwareSigner 使用本地 ed25519 密钥，仅用于开发与台架。
// 两者都实现 audit.Signer，失败统一包装为 ErrSignerUnavailable。
package signer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"forgecore/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrSignerUnavailable 签名器不可用（网络、超时、安全元件拒绝），只记录，不升级为安全动作
var ErrSignerUnavailable = errors.New("signer unavailable")

// signRequest 安全元件桥请求
type signRequest struct {
	Payload string `json:"payload"` // base64
}

// signResponse 安全元件桥响应
type signResponse struct {
	Signature string `json:"signature"` // base64
	KeyRef    string `json:"key_ref"`
	Error     string `json:"error,omitempty"`
}

// RemoteSigner 安全元件 HTTP 桥客户端
type RemoteSigner struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewRemoteSigner 创建安全元件桥客户端
// timeout 为单次请求上限；调用方的 ctx 截止时间更短时以 ctx 为准
func NewRemoteSigner(baseURL string, timeout time.Duration, retries int, logger *zap.Logger) *RemoteSigner {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(50 * time.Millisecond).
		SetRetryMaxWaitTime(200 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &RemoteSigner{
		httpClient: client,
		logger:     logger,
	}
}

// Sign 请求安全元件签名
func (s *RemoteSigner) Sign(ctx context.Context, payload []byte) (models.Signature, error) {
	var response signResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(signRequest{Payload: base64.StdEncoding.EncodeToString(payload)}).
		SetResult(&response).
		SetError(&response).
		Post("/v1/sign")
	if err != nil {
		return models.Signature{}, fmt.Errorf("%w: request failed: %v", ErrSignerUnavailable, err)
	}

	if resp.IsError() {
		s.logger.Warn("Secure element bridge returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error", response.Error),
		)
		return models.Signature{}, fmt.Errorf("%w: status %d: %s", ErrSignerUnavailable, resp.StatusCode(), response.Error)
	}

	sig, err := base64.StdEncoding.DecodeString(response.Signature)
	if err != nil {
		return models.Signature{}, fmt.Errorf("%w: invalid signature encoding: %v", ErrSignerUnavailable, err)
	}
	if len(sig) == 0 {
		return models.Signature{}, fmt.Errorf("%w: empty signature", ErrSignerUnavailable)
	}

	return models.Signature{Value: sig, KeyRef: response.KeyRef}, nil
}
