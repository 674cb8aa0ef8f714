package services

import (
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/tapvizit/backend/internal/gateway"
	"github.com/tapvizit/backend/internal/models"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) BuildAuthorizationRequest(intent *models.PaymentIntent, card *models.CardInfo, buyer *models.BuyerInfo) (*gateway.SignedRequest, error) {
	args := m.Called(intent, card, buyer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SignedRequest), args.Error(1)
}

func (m *MockGateway) SubmitAuthorization(req *gateway.SignedRequest) (*gateway.AuthorizationResult, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.AuthorizationResult), args.Error(1)
}

func (m *MockGateway) ParseCallback(r *http.Request) (*gateway.CallbackResult, error) {
	args := m.Called(r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.CallbackResult), args.Error(1)
}
