package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/surajmurari02/ocr-card/config"
	"github.com/surajmurari02/ocr-card/model"
	"github.com/surajmurari02/ocr-card/pkg/logger"
)

const (
	healthTimeout   = 5 * time.Second
	maxResponseBody = 1 << 20
	responseSchema  = "ocr_response.json"
)

// retryableStatus lists provider statuses that are retried like network errors.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// SubmitOptions overrides the client's configured defaults for one call.
// Zero values fall back to the configuration.
type SubmitOptions struct {
	Prompt     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// OCRClient posts one image to the external OCR provider and turns its
// answer into a contact record.
type OCRClient struct {
	config     *config.OCRConfig
	httpClient *http.Client
	schema     *jsonschema.Schema
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewOCRClient(cfg *config.OCRConfig) (*OCRClient, error) {
	schema, err := compileResponseSchema()
	if err != nil {
		return nil, err
	}
	return &OCRClient{
		config:     cfg,
		httpClient: &http.Client{},
		schema:     schema,
		sleep:      sleepContext,
	}, nil
}

// compileResponseSchema builds a schema accepting any object that carries at
// least one spelling of at least one contact field.
func compileResponseSchema() (*jsonschema.Schema, error) {
	keys := KnownKeys()
	anyOf := make([]any, 0, len(keys))
	for _, k := range keys {
		anyOf = append(anyOf, map[string]any{"required": []string{k}})
	}
	doc := map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"anyOf":   anyOf,
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(responseSchema, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(responseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func (c *OCRClient) options(opts SubmitOptions) SubmitOptions {
	if opts.Prompt == "" {
		opts.Prompt = c.config.Query
	}
	if opts.Prompt == "" {
		opts.Prompt = config.DefaultQuery
	}
	if opts.Timeout <= 0 {
		opts.Timeout = c.config.RequestTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = c.config.MaxRetries
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = c.config.RetryDelay
	}
	return opts
}

// Submit sends the candidate, retrying network failures and transient
// provider statuses. MaxRetries is the total number of attempts; the wait
// after failed attempt n is RetryDelay*n.
func (c *OCRClient) Submit(ctx context.Context, candidate *model.UploadCandidate, opts SubmitOptions) (*model.ContactRecord, error) {
	opts = c.options(opts)

	body, contentType, err := buildMultipart(candidate, opts.Prompt)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := opts.RetryDelay * time.Duration(attempt-1)
			logger.Warn(ctx, "ocr.retry",
				"attempt", attempt,
				"max_attempts", opts.MaxRetries,
				"delay_ms", delay.Milliseconds(),
				"reason", lastErr,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, abandoned(err)
			}
		}

		status, raw, err := c.post(ctx, body, contentType, opts.Timeout, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, abandoned(ctx.Err())
			}
			lastErr = unreachable(err, opts.Timeout)
			continue
		}

		if status/100 != 2 {
			rejected := serverRejected(status, raw)
			if retryableStatus[status] {
				lastErr = rejected
				continue
			}
			return nil, rejected
		}

		rec, err := c.decode(raw)
		if err != nil {
			logger.Error(ctx, "ocr.malformed", "error", err, "bytes", len(raw))
			return nil, err
		}
		rec.ProcessingTime = math.Round(time.Since(start).Seconds()*100) / 100
		logger.Info(ctx, "ocr.extracted",
			"attempts", attempt,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"name", rec.Name,
			"company", rec.Company,
		)
		return rec, nil
	}

	logger.Error(ctx, "ocr.failed", "attempts", opts.MaxRetries, "error", lastErr)
	return nil, lastErr
}

func (c *OCRClient) post(ctx context.Context, body []byte, contentType string, timeout time.Duration, attempt int) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	logger.Info(ctx, "ocr.request", "url", c.config.APIURL, "attempt", attempt, "content_length", len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn(ctx, "ocr.send_error", "attempt", attempt, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	logger.Info(ctx, "ocr.response",
		"attempt", attempt,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp.StatusCode, raw, nil
}

func (c *OCRClient) decode(raw []byte) (*model.ContactRecord, error) {
	obj, err := ParsePayload(raw)
	if err != nil {
		return nil, malformed(err)
	}
	if err := c.schema.Validate(normalizeKeys(obj)); err != nil {
		return nil, malformed(fmt.Errorf("no contact fields in response: %w", err))
	}
	return Normalize(obj), nil
}

// Ping reports whether the provider answers a HEAD request. Upload endpoints
// commonly reply 405 to HEAD, which still proves they are up.
func (c *OCRClient) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.config.APIURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn(ctx, "ocr.health_check_failed", "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusMethodNotAllowed
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// buildMultipart encodes the image and prompt once so every attempt resends
// identical bytes.
func buildMultipart(candidate *model.UploadCandidate, prompt string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := candidate.Filename
	if filename == "" {
		filename = ProcessedFilename
	}
	contentType := candidate.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(candidate.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write image part: %w", err)
	}
	if err := w.WriteField("query", prompt); err != nil {
		return nil, "", fmt.Errorf("failed to write query field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func unreachable(err error, timeout time.Duration) error {
	msg := "Unable to reach the OCR service. Please try again later."
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("OCR service did not respond within %s.", timeout)
	}
	return model.NewScanError(model.CategoryNetwork, model.ErrUnreachable, msg, err)
}

func serverRejected(status int, raw []byte) error {
	msg := fmt.Sprintf("OCR service returned status %d", status)
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && strings.TrimSpace(body.Error) != "" {
		msg = body.Error
	}
	se := model.NewScanError(model.CategoryServerRejected, model.ErrServerRejected, msg, nil)
	se.StatusCode = status
	return se
}

func malformed(err error) error {
	return model.NewScanError(model.CategoryMalformed, model.ErrMalformedResponse,
		"The OCR service returned an unexpected response. Please try again.", err)
}

func abandoned(err error) error {
	return model.NewScanError(model.CategoryState, model.ErrScanAbandoned, "Scan abandoned", err)
}
