package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stashworks/jobhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *zap.Logger
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

func NewClient(p Params) Gateway {
	return &client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(p.Cfg.Gateway.BaseURL, "/"),
		apiKey:     p.Cfg.Gateway.APIKey,
		log:        p.Log.Named("payment.gateway"),
	}
}

type chargePayload struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	PricingType string         `json:"pricing_type"`
	LocalPrice  localPrice     `json:"local_price"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	CancelURL   string         `json:"cancel_url,omitempty"`
}

type localPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type chargeResponse struct {
	Data struct {
		ID        string `json:"id"`
		HostedURL string `json:"hosted_url"`
	} `json:"data"`
}

func (c *client) CreateCharge(ctx context.Context, req CreateChargeRequest) (*Charge, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if req.Amount <= 0 || strings.TrimSpace(req.Currency) == "" {
		return nil, ErrInvalidCharge
	}

	payload := chargePayload{
		Name:        "JobHub subscription",
		Description: req.Description,
		PricingType: "fixed_price",
		LocalPrice: localPrice{
			Amount:   fmt.Sprintf("%.2f", req.Amount),
			Currency: strings.ToUpper(req.Currency),
		},
		Metadata:    req.Metadata,
		RedirectURL: req.RedirectURL,
		CancelURL:   req.CancelURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-CC-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChargeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("charge creation rejected", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrChargeFailed, resp.StatusCode)
	}

	var decoded chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChargeFailed, err)
	}
	if decoded.Data.ID == "" || decoded.Data.HostedURL == "" {
		return nil, ErrChargeFailed
	}

	return &Charge{ID: decoded.Data.ID, URL: decoded.Data.HostedURL}, nil
}

var Module = fx.Module("payment.gateway",
	fx.Provide(NewClient),
)
