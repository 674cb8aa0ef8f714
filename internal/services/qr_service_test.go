package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestQRService_GeneratePaymentQR(t *testing.T) {
	t.Run("returns a decodable PNG and stores the pay link", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(redisClient, "http://localhost:8080")

		resumeURL := "http://localhost:8080/payment/resume?order=ord-1"
		redisMock.ExpectSet("paylink:ord-1", resumeURL, 15*time.Minute).SetVal("OK")

		encoded, err := service.GeneratePaymentQR(context.Background(), "ord-1")
		assert.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(encoded)
		assert.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(raw))
		assert.NoError(t, err)
		assert.Equal(t, 256, img.Bounds().Dx())

		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("works without redis, link just cannot be resolved later", func(t *testing.T) {
		service := NewQRService(nil, "http://localhost:8080")

		encoded, err := service.GeneratePaymentQR(context.Background(), "ord-2")
		assert.NoError(t, err)
		assert.NotEmpty(t, encoded)
	})
}

func TestQRService_ResolvePayLink(t *testing.T) {
	t.Run("known token", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(redisClient, "http://localhost:8080")

		redisMock.ExpectGet("paylink:ord-1").SetVal("http://localhost:8080/payment/resume?order=ord-1")

		url, err := service.ResolvePayLink(context.Background(), "ord-1")
		assert.NoError(t, err)
		assert.Contains(t, url, "order=ord-1")
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired token", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(redisClient, "http://localhost:8080")

		redisMock.ExpectGet("paylink:gone").RedisNil()

		_, err := service.ResolvePayLink(context.Background(), "gone")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})
}
