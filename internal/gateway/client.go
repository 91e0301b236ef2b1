package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"medvik/internal/config"
	"medvik/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client asks the payment gateway to start a charge. Initiation is
// fire-and-forget: the outcome always comes back through the callback
// endpoint, never through this request.
type Client struct {
	cfg     config.GatewayConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewClient(cfg config.GatewayConfig, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:  logger,
	}
}

type initiateRequest struct {
	TransactionID int64  `json:"transaction_id"`
	BookingID     int64  `json:"booking_id"`
	Amount        int64  `json:"amount"`
	CallbackHint  string `json:"callback_hint,omitempty"`
}

// InitiatePayment submits the charge request. With no URL configured the
// client runs in log-only mode, which keeps local setups working without
// a gateway sandbox.
func (c *Client) InitiatePayment(ctx context.Context, txn *models.Transaction) error {
	if c.cfg.URL == "" {
		c.logger.Info().
			Int64("transaction_id", txn.ID).
			Int64("booking_id", txn.BookingID).
			Int64("amount", txn.Amount).
			Msg("payment gateway not configured, charge logged only")
		return nil
	}

	body, err := json.Marshal(initiateRequest{
		TransactionID: txn.ID,
		BookingID:     txn.BookingID,
		Amount:        txn.Amount,
	})
	if err != nil {
		return fmt.Errorf("marshal initiate request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("initiate payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	c.logger.Info().
		Int64("transaction_id", txn.ID).
		Int64("amount", txn.Amount).
		Msg("payment initiated")
	return nil
}
