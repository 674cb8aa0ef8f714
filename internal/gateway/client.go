package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/tapvizit/backend/internal/config"
	"github.com/tapvizit/backend/internal/models"
)

// authorizePath is the processor's 3-D Secure initialization endpoint. It
// participates in the request signature, so it must match the submitted URL
// byte for byte.
const authorizePath = "/payment/3dsecure/initialize"

// Authorization outcomes.
const (
	StatusRedirectRequired = "REDIRECT_REQUIRED"
	StatusAuthorized       = "AUTHORIZED"
	StatusRejected         = "REJECTED"
)

// ErrMalformedCallback marks a callback missing its correlation fields.
var ErrMalformedCallback = errors.New("callback is missing conversationId or paymentId")

// mdStatus values the processor documents as successful step-up results.
var approvedStatusCodes = map[string]bool{
	"1": true, // full authentication
	"2": true, // card not enrolled
	"3": true, // issuer not enrolled
	"4": true, // attempted authentication
}

// Client speaks the processor's signed-request protocol and parses its
// asynchronous callback. It holds no business state.
type Client interface {
	BuildAuthorizationRequest(intent *models.PaymentIntent, card *models.CardInfo, buyer *models.BuyerInfo) (*SignedRequest, error)
	SubmitAuthorization(req *SignedRequest) (*AuthorizationResult, error)
	ParseCallback(r *http.Request) (*CallbackResult, error)
}

// SignedRequest is a ready-to-send authorization call.
type SignedRequest struct {
	Path          string
	Body          []byte
	Authorization string
	RandomKey     string
}

// AuthorizationResult is the processor's synchronous answer.
type AuthorizationResult struct {
	Status           string
	GatewayPaymentID string
	RedirectHTML     string
	ErrorCode        string
	ErrorMessage     string
}

// CallbackResult is the parsed asynchronous callback. ConversationID equals
// the intent's order number.
type CallbackResult struct {
	ConversationID string
	PaymentID      string
	StatusCode     string
	Approved       bool
}

type client struct {
	cfg  *config.GatewayConfig
	http *resty.Client
}

// NewClient builds the adapter from merchant configuration.
func NewClient(cfg *config.GatewayConfig) Client {
	return &client{
		cfg:  cfg,
		http: resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(cfg.Timeout),
	}
}

// authorizationRequest is the canonical body. Field order matters: the
// signature is computed over the marshaled bytes and the processor
// re-canonicalizes the same order on its side.
type authorizationRequest struct {
	ConversationID string      `json:"conversationId"`
	Price          string      `json:"price"`
	PaidPrice      string      `json:"paidPrice"`
	Currency       string      `json:"currency"`
	CallbackURL    string      `json:"callbackUrl"`
	PaymentCard    paymentCard `json:"paymentCard"`
	Buyer          buyer       `json:"buyer"`
}

type paymentCard struct {
	CardHolderName string `json:"cardHolderName"`
	CardNumber     string `json:"cardNumber"`
	ExpireMonth    string `json:"expireMonth"`
	ExpireYear     string `json:"expireYear"`
	CVC            string `json:"cvc"`
}

type buyer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
	Phone   string `json:"gsmNumber,omitempty"`
	Address string `json:"registrationAddress,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

type authorizationResponse struct {
	Status             string `json:"status"`
	PaymentID          string `json:"paymentId"`
	ThreeDSHTMLContent string `json:"threeDSHtmlContent"` // base64
	ErrorCode          string `json:"errorCode"`
	ErrorMessage       string `json:"errorMessage"`
}

// BuildAuthorizationRequest serializes the canonical body and signs it with
// the merchant secret. The random key is unique per request (timestamp
// concatenated with a random integer) to prevent replay.
func (c *client) BuildAuthorizationRequest(intent *models.PaymentIntent, card *models.CardInfo, buyerInfo *models.BuyerInfo) (*SignedRequest, error) {
	if intent == nil || card == nil || buyerInfo == nil {
		return nil, errors.New("intent, card and buyer are all required")
	}

	reqBody := authorizationRequest{
		ConversationID: intent.OrderNumber,
		Price:          intent.Amount.String(),
		PaidPrice:      intent.Amount.String(),
		Currency:       c.cfg.Currency,
		CallbackURL:    c.cfg.CallbackURL,
		PaymentCard: paymentCard{
			CardHolderName: card.HolderName,
			CardNumber:     card.Number,
			ExpireMonth:    card.ExpireMonth,
			ExpireYear:     card.ExpireYear,
			CVC:            card.CVC,
		},
		Buyer: buyer{
			ID:      buyerInfo.ID,
			Name:    buyerInfo.Name,
			Surname: buyerInfo.Surname,
			Email:   buyerInfo.Email,
			Phone:   buyerInfo.Phone,
			Address: buyerInfo.Address,
			City:    buyerInfo.City,
			Country: buyerInfo.Country,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	randomKey := newRandomKey(time.Now())
	signature := Sign(c.cfg.SecretKey, randomKey, authorizePath, body)

	return &SignedRequest{
		Path:          authorizePath,
		Body:          body,
		Authorization: AuthorizationHeader(c.cfg.APIKey, randomKey, signature),
		RandomKey:     randomKey,
	}, nil
}

// SubmitAuthorization performs the network call. In sandbox mode it
// short-circuits to a synthetic immediate success so the rest of the flow
// can be exercised without processor credentials.
func (c *client) SubmitAuthorization(req *SignedRequest) (*AuthorizationResult, error) {
	if c.cfg.Sandbox {
		return &AuthorizationResult{
			Status:           StatusAuthorized,
			GatewayPaymentID: "sandbox-" + uuid.NewString(),
		}, nil
	}

	resp, err := c.http.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", req.Authorization).
		SetBody(req.Body).
		Post(req.Path)
	if err != nil {
		log.Printf("[GATEWAY] authorization call failed: %v", err)
		return &AuthorizationResult{
			Status:       StatusRejected,
			ErrorCode:    "NETWORK_ERROR",
			ErrorMessage: "payment processor unreachable",
		}, nil
	}

	var gwResp authorizationResponse
	if err := json.Unmarshal(resp.Body(), &gwResp); err != nil {
		log.Printf("[GATEWAY] unparseable authorization response (http %d): %v", resp.StatusCode(), err)
		return &AuthorizationResult{
			Status:       StatusRejected,
			ErrorCode:    "BAD_RESPONSE",
			ErrorMessage: fmt.Sprintf("processor returned http %d", resp.StatusCode()),
		}, nil
	}

	if !strings.EqualFold(gwResp.Status, "success") {
		return &AuthorizationResult{
			Status:       StatusRejected,
			ErrorCode:    gwResp.ErrorCode,
			ErrorMessage: gwResp.ErrorMessage,
		}, nil
	}

	if gwResp.ThreeDSHTMLContent != "" {
		html, err := base64.StdEncoding.DecodeString(gwResp.ThreeDSHTMLContent)
		if err != nil {
			return &AuthorizationResult{
				Status:       StatusRejected,
				ErrorCode:    "BAD_REDIRECT_DOCUMENT",
				ErrorMessage: "redirect document was not valid base64",
			}, nil
		}
		return &AuthorizationResult{
			Status:           StatusRedirectRequired,
			GatewayPaymentID: gwResp.PaymentID,
			RedirectHTML:     string(html),
		}, nil
	}

	return &AuthorizationResult{
		Status:           StatusAuthorized,
		GatewayPaymentID: gwResp.PaymentID,
	}, nil
}

// ParseCallback accepts the processor's callback as JSON, form-encoded POST
// or GET query string. Both correlation fields are mandatory.
func (c *client) ParseCallback(r *http.Request) (*CallbackResult, error) {
	values, err := callbackValues(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	result := &CallbackResult{
		ConversationID: values.Get("conversationId"),
		PaymentID:      values.Get("paymentId"),
		StatusCode:     values.Get("mdStatus"),
	}
	if result.StatusCode == "" {
		result.StatusCode = values.Get("status")
	}

	if result.ConversationID == "" || result.PaymentID == "" {
		return nil, ErrMalformedCallback
	}

	result.Approved = approvedStatusCodes[result.StatusCode]
	return result, nil
}

func callbackValues(r *http.Request) (url.Values, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query(), nil
	}

	contentType := r.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/json" {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return nil, err
		}
		values := url.Values{}
		for key, value := range payload {
			values.Set(key, fmt.Sprintf("%v", value))
		}
		return values, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.PostForm, nil
}
