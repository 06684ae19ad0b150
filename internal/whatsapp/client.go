// Package whatsapp is a client for the WhatsApp Cloud (Graph) API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solvejet/pixe-whatspp-sub001/internal/config"
	"github.com/solvejet/pixe-whatspp-sub001/internal/observability"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

const maxResponseBytes = 4 << 20

// Client talks to the Graph API with a bearer token. Calls share one rate limiter.
type Client struct {
	httpClient       *http.Client
	baseURL          string
	apiVersion       string
	token            string
	phoneNumberID    string
	businessAccount  string
	maxDownloadBytes int64
	limiter          *rate.Limiter
	logger           *zap.Logger
	metrics          *observability.Metrics
	retries          uint64
}

// NewClient builds a client from configuration.
func NewClient(cfg config.WhatsAppConfig, maxDownloadBytes int64, logger *zap.Logger, metrics *observability.Metrics) *Client {
	qps := cfg.RateLimitQPS
	if qps <= 0 {
		qps = 20
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		httpClient:       &http.Client{Timeout: cfg.Timeout()},
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:       cfg.APIVersion,
		token:            cfg.AccessToken,
		phoneNumberID:    cfg.PhoneNumberID,
		businessAccount:  cfg.BusinessAccountID,
		maxDownloadBytes: maxDownloadBytes,
		limiter:          rate.NewLimiter(rate.Limit(qps), burst),
		logger:           logger.Named("whatsapp"),
		metrics:          metrics,
		retries:          3,
	}
}

// PhoneNumberID returns the business phone number id messages are sent from.
func (c *Client) PhoneNumberID() string {
	return c.phoneNumberID
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, strings.Join(escaped, "/"))
}

func (c *Client) do(ctx context.Context, op, method, target string, body io.Reader, contentType string, limit int64) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewUpstreamUnavailable(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("%s: build request: %w", op, err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstream(op, err)
		return nil, apperrors.NewUpstreamUnavailable(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		c.metrics.RecordUpstream(op, err)
		return nil, apperrors.NewUpstreamUnavailable(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upstreamErr := apperrors.NewUpstreamError(op, resp.StatusCode, respBody)
		c.metrics.RecordUpstream(op, upstreamErr)
		c.logger.Warn("provider rejected call",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", time.Since(start)))
		return nil, upstreamErr
	}

	c.metrics.RecordUpstream(op, nil)
	return respBody, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, target string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return apperrors.NewInternalError(fmt.Errorf("%s: encode: %w", op, err))
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	respBody, err := c.do(ctx, op, method, target, body, contentType, maxResponseBytes)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.NewUpstreamError(op+": decode response", http.StatusOK, respBody)
	}
	return nil
}

// withRetry retries idempotent calls on retryable failures.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		c.logger.Debug("retrying provider call", zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.retries), ctx))
}

// SendMessage sends msg and returns the provider message id.
func (c *Client) SendMessage(ctx context.Context, msg OutboundMessage) (string, error) {
	msg.MessagingProduct = messagingProduct
	if msg.RecipientType == "" {
		msg.RecipientType = "individual"
	}
	var resp sendResponse
	if err := c.doJSON(ctx, "send message", http.MethodPost, c.endpoint(c.phoneNumberID, "messages"), msg, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", apperrors.NewUpstreamError("send message: missing message id", http.StatusOK, nil)
	}
	return resp.Messages[0].ID, nil
}

// MarkRead tells the provider an inbound message was read.
func (c *Client) MarkRead(ctx context.Context, providerMessageID string) error {
	body := map[string]string{
		"messaging_product": messagingProduct,
		"status":            "read",
		"message_id":        providerMessageID,
	}
	return c.doJSON(ctx, "mark read", http.MethodPost, c.endpoint(c.phoneNumberID, "messages"), body, nil)
}

// UploadMedia pushes bytes to the provider and returns the provider media id.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	if filename == "" {
		filename = "upload"
	}
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, strings.ReplaceAll(filename, `"`, "")))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	if _, err := part.Write(data); err != nil {
		return "", apperrors.NewInternalError(err)
	}
	_ = writer.WriteField("messaging_product", messagingProduct)
	_ = writer.WriteField("type", mimeType)
	if err := writer.Close(); err != nil {
		return "", apperrors.NewInternalError(err)
	}

	respBody, err := c.do(ctx, "upload media", http.MethodPost, c.endpoint(c.phoneNumberID, "media"), buf, writer.FormDataContentType(), maxResponseBytes)
	if err != nil {
		return "", err
	}
	var resp idResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.ID == "" {
		return "", apperrors.NewUpstreamError("upload media: missing media id", http.StatusOK, respBody)
	}
	return resp.ID, nil
}

// GetMedia returns the provider's metadata and short-lived URL for a media id.
func (c *Client) GetMedia(ctx context.Context, providerMediaID string) (*MediaInfo, error) {
	var info MediaInfo
	err := c.withRetry(ctx, "get media", func() error {
		return c.doJSON(ctx, "get media", http.MethodGet, c.endpoint(providerMediaID), nil, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// DownloadMedia fetches bytes from a URL returned by GetMedia.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	var data []byte
	err := c.withRetry(ctx, "download media", func() error {
		body, err := c.do(ctx, "download media", http.MethodGet, mediaURL, nil, "", c.maxDownloadBytes+1)
		if err != nil {
			return err
		}
		data = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxDownloadBytes {
		return nil, apperrors.NewValidationError("provider media exceeds download limit", map[string]any{"limit": c.maxDownloadBytes})
	}
	return data, nil
}

// DeleteMedia revokes a provider media id.
func (c *Client) DeleteMedia(ctx context.Context, providerMediaID string) error {
	return c.doJSON(ctx, "delete media", http.MethodDelete, c.endpoint(providerMediaID), nil, nil)
}

// ListTemplates returns every template of the business account, following pagination.
func (c *Client) ListTemplates(ctx context.Context) ([]RemoteTemplate, error) {
	next := c.endpoint(c.businessAccount, "message_templates") + "?limit=100"
	var all []RemoteTemplate
	for next != "" {
		var page templatePage
		target := next
		err := c.withRetry(ctx, "list templates", func() error {
			page = templatePage{}
			return c.doJSON(ctx, "list templates", http.MethodGet, target, nil, &page)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		next = page.Paging.Next
	}
	return all, nil
}

// CreateTemplate submits a template for review.
func (c *Client) CreateTemplate(ctx context.Context, req TemplateRequest) (*TemplateCreated, error) {
	var resp TemplateCreated
	if err := c.doJSON(ctx, "create template", http.MethodPost, c.endpoint(c.businessAccount, "message_templates"), req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, apperrors.NewUpstreamError("create template: missing template id", http.StatusOK, nil)
	}
	return &resp, nil
}

// EditTemplate replaces the components of an existing template.
func (c *Client) EditTemplate(ctx context.Context, providerTemplateID string, components any) error {
	body := map[string]any{"components": components}
	return c.doJSON(ctx, "edit template", http.MethodPost, c.endpoint(providerTemplateID), body, nil)
}

// DeleteTemplate deletes a template by name, narrowed to one language by id when given.
func (c *Client) DeleteTemplate(ctx context.Context, name, providerTemplateID string) error {
	q := url.Values{}
	q.Set("name", name)
	if providerTemplateID != "" {
		q.Set("hsm_id", providerTemplateID)
	}
	target := c.endpoint(c.businessAccount, "message_templates") + "?" + q.Encode()
	return c.doJSON(ctx, "delete template", http.MethodDelete, target, nil, nil)
}
