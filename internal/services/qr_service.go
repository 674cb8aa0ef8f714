package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService renders pay-by-link QR codes for redirect-pending intents, so a
// dealer can hand the bank step-up page to a phone.
type QRService struct {
	redis   *redis.Client
	baseURL string
}

func NewQRService(redisClient *redis.Client, baseURL string) *QRService {
	return &QRService{redis: redisClient, baseURL: baseURL}
}

// GeneratePaymentQR encodes the hosted resume URL for the intent as a QR
// PNG, returned base64-encoded. The link token lives in redis for 15
// minutes, matching how long a bank step-up page stays usable in practice.
func (s *QRService) GeneratePaymentQR(ctx context.Context, orderNumber string) (string, error) {
	resumeURL := fmt.Sprintf("%s/payment/resume?order=%s", s.baseURL, orderNumber)

	if s.redis != nil {
		key := fmt.Sprintf("paylink:%s", orderNumber)
		if err := s.redis.Set(ctx, key, resumeURL, 15*time.Minute).Err(); err != nil {
			return "", err
		}
	}

	qr, err := qrcode.New(resumeURL, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ResolvePayLink returns the resume URL for a previously issued token.
func (s *QRService) ResolvePayLink(ctx context.Context, orderNumber string) (string, error) {
	if s.redis == nil {
		return "", fmt.Errorf("pay links unavailable without redis")
	}

	key := fmt.Sprintf("paylink:%s", orderNumber)
	url, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("invalid or expired pay link")
	}
	if err != nil {
		return "", err
	}
	return url, nil
}
