// Package gateway is the HTTP client for the external notification provider
// that renders templates and delivers SMS and email on our behalf.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/careroute/referral-engine/pkg/prom"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// SendRequest is one notification handed to the provider. To is a mobile
// number for SMS templates and an email address for email templates; the
// provider resolves which from the template itself.
type SendRequest struct {
	ClientReference string                `json:"client_reference"`
	To              string                `json:"to"`
	TemplateID      string                `json:"template_id"`
	Personalisation model.Personalisation `json:"personalisation,omitempty"`
	SenderID        string                `json:"sender_id,omitempty"`
}

// SendResponse carries the provider's own reference for the accepted
// notification. Delivery callbacks quote this reference, not ours.
type SendResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type StatusResponse struct {
	Reference   string     `json:"reference"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NotifyGateway is what the dispatcher depends on; the production
// implementation is Client, tests substitute a mock.
type NotifyGateway interface {
	Send(ctx context.Context, messageType model.MessageType, req *SendRequest) (*SendResponse, error)
	GetStatus(ctx context.Context, reference string) (*StatusResponse, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	SenderID   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxConns   int
}

type Client struct {
	config *Config
	client *fasthttp.Client
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 200 * time.Millisecond
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 64
	}

	client := &Client{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}

	logger.Info("notify gateway client initialized", "url", config.BaseURL, "timeout", config.Timeout.String(), "retries", config.MaxRetries)
	return client, nil
}

// Send delivers one notification, retrying transport failures up to
// MaxRetries times. A non-2xx response from the provider is not retried: the
// provider saw the request and retrying could deliver the message twice.
func (c *Client) Send(ctx context.Context, messageType model.MessageType, req *SendRequest) (*SendResponse, error) {
	if req.SenderID == "" && messageType == model.MessageTypeSMS {
		req.SenderID = c.config.SenderID
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal send request")
	}

	path := "/v2/notifications/" + string(messageType)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		startTime := time.Now()
		response, retryable, err := c.doRequest(ctx, "POST", path, reqBody)
		latency := time.Since(startTime)
		prom.AddHistogramVec(prom.SystemNotifications, prom.MetricGatewayDuration, latency.Seconds(), string(messageType))

		if err != nil {
			lastErr = err
			if !retryable {
				return nil, err
			}
			logger.Warn("gateway request failed, retrying", "error", err, "reference", req.ClientReference, "attempt", attempt+1)
			continue
		}

		var resp SendResponse
		if err := json.Unmarshal(response, &resp); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal send response")
		}

		logger.Info("notification accepted by gateway",
			"client_reference", req.ClientReference,
			"reference", resp.Reference,
			"type", string(messageType),
			"latency_ms", latency.Milliseconds())
		return &resp, nil
	}

	return nil, errors.Wrapf(lastErr, "gateway send failed after %d attempts", c.config.MaxRetries+1)
}

// GetStatus queries the provider for the current delivery status of a
// previously accepted notification.
func (c *Client) GetStatus(ctx context.Context, reference string) (*StatusResponse, error) {
	path := "/v2/notifications/status/" + reference
	response, _, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp StatusResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal status response")
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, true, errors.Wrap(err, "gateway request failed")
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusCreated {
		return nil, false, fmt.Errorf("gateway returned status %d: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, false, nil
}
