package inference

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
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nimishamba325/Coral-reef/internal/prediction"
)

const (
	maxErrorBody   = 64 << 10
	maxSuccessBody = 1 << 20
)

// Image is the payload sent to the inference service.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client produces predictions for an image with a chosen model.
type Client interface {
	Predict(ctx context.Context, image Image, model prediction.Model) (*prediction.Result, error)
}

// HTTPClient talks to the inference service's /api/predict endpoint.
// It never retries; callers decide whether to try again.
type HTTPClient struct {
	endpoint *url.URL
	http     *http.Client
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the transport used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) { c.http = client }
}

// WithTimeout bounds every Predict call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) { c.timeout = timeout }
}

// WithClock overrides the source of result timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) { c.now = now }
}

// NewHTTPClient builds a client for the service rooted at endpoint.
func NewHTTPClient(endpoint string, logger *zap.Logger, opts ...Option) (*HTTPClient, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse inference endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("inference endpoint %q must be an http(s) URL", endpoint)
	}

	c := &HTTPClient{
		endpoint: parsed,
		http:     &http.Client{},
		logger:   logger.Named("inference_client"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type predictResponse struct {
	Prediction string          `json:"prediction"`
	Confidence json.RawMessage `json:"confidence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Predict uploads the image and returns the normalized prediction. Every
// failure is an *Error.
func (c *HTTPClient) Predict(ctx context.Context, image Image, model prediction.Model) (*prediction.Result, error) {
	if len(image.Data) == 0 {
		return nil, validationError("no image selected", nil)
	}
	if !model.Valid() {
		_, err := prediction.ParseModel(string(model))
		return nil, validationError(err.Error(), err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, contentType, err := encodeImage(image)
	if err != nil {
		return nil, validationError("could not encode image", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.predictURL(model), body)
	if err != nil {
		return nil, networkError("could not build inference request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	logger := c.logger.With(zap.String("model", string(model)), zap.String("filename", image.Filename))
	started := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn("inference request failed", zap.Error(err), zap.Duration("latency", time.Since(started)))
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	logger = logger.With(zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := readErrorMessage(resp.Body)
		logger.Warn("inference service returned an error", zap.String("message", message))
		return nil, serverError(resp.StatusCode, message, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSuccessBody))
	if err != nil {
		logger.Warn("reading inference response failed", zap.Error(err))
		return nil, transportError(ctx, err)
	}

	result, err := c.decodePrediction(raw, image.Filename, model)
	if err != nil {
		logger.Warn("inference response rejected", zap.Error(err))
		return nil, err
	}

	logger.Info("prediction received", zap.String("label", string(result.Label)), zap.Float64("confidence", result.Confidence))
	return result, nil
}

func (c *HTTPClient) predictURL(model prediction.Model) string {
	u := c.endpoint.JoinPath("api", "predict")
	query := u.Query()
	query.Set("model", string(model))
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *HTTPClient) decodePrediction(raw []byte, filename string, model prediction.Model) (*prediction.Result, error) {
	var payload predictResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, serverError(http.StatusOK, "inference service returned a malformed response", err)
	}

	label, err := prediction.ParseLabel(payload.Prediction)
	if err != nil {
		return nil, serverError(http.StatusOK, fmt.Sprintf("inference service returned an unexpected prediction %q", payload.Prediction), err)
	}

	confidence, err := parseConfidence(payload.Confidence)
	if err != nil {
		return nil, serverError(http.StatusOK, "inference service returned an invalid confidence", err)
	}

	return &prediction.Result{
		Label:      label,
		Confidence: confidence,
		Filename:   filename,
		Model:      model,
		Timestamp:  c.now().UTC(),
	}, nil
}

// parseConfidence accepts a JSON number or a numeric string.
func parseConfidence(raw json.RawMessage) (float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, errors.New("confidence missing")
	}

	var value float64
	if err := json.Unmarshal(trimmed, &value); err != nil {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return 0, fmt.Errorf("confidence %s is not a number", trimmed)
		}
		value, err = strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return 0, fmt.Errorf("confidence %q is not a number", text)
		}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("confidence %v is not finite", value)
	}
	return value, nil
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return DefaultServerMessage
	}
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return DefaultServerMessage
	}
	if message := strings.TrimSpace(payload.Error); message != "" {
		return message
	}
	return DefaultServerMessage
}

func transportError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return networkError("inference request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return networkError("inference request was cancelled", err)
	}
	return networkError("could not reach the inference service", err)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeImage(image Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := image.Filename
	if filename == "" {
		filename = "upload"
	}
	contentType := image.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(image.Data)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(filename)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
