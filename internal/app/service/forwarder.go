package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/x402wrap/x402wrap/internal/infra/metrics"
	"go.uber.org/zap"
)

// PaymentHeaderPrefix is the payment-control header namespace. Headers under
// it carry proof/metadata for the gateway and are never forwarded upstream.
const PaymentHeaderPrefix = "X-Payment-"

// ErrUpstreamUnavailable signals that the origin API could not be reached or
// did not produce a readable response. Distinct from payment failures.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ForwardRequest carries everything needed to replay an inbound call against
// the origin API.
type ForwardRequest struct {
	Method    string
	OriginURL string
	Query     url.Values
	Header    http.Header
	Body      []byte
}

// UpstreamResponse is the origin's reply, passed back to the caller.
type UpstreamResponse struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// Forwarder proxies a paid call to the origin API.
type Forwarder interface {
	Forward(ctx context.Context, req ForwardRequest) (*UpstreamResponse, error)
}

type httpForwarder struct {
	client *http.Client
	logger *zap.Logger
}

// NewForwarder returns a Forwarder with an explicit upstream timeout.
func NewForwarder(timeout time.Duration, logger *zap.Logger) Forwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpForwarder{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (f *httpForwarder) Forward(ctx context.Context, req ForwardRequest) (*UpstreamResponse, error) {
	target, err := url.Parse(req.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}

	// Inbound query parameters override same-named origin defaults.
	query := target.Query()
	for key, values := range req.Query {
		query[key] = values
	}
	target.RawQuery = query.Encode()

	var body io.Reader
	if len(req.Body) > 0 && req.Method != http.MethodGet && req.Method != http.MethodHead {
		body = bytes.NewReader(req.Body)
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	// Forward every inbound header except the payment-control namespace and
	// Host; the origin sees its own host.
	for key, values := range req.Header {
		if strings.HasPrefix(http.CanonicalHeaderKey(key), PaymentHeaderPrefix) {
			continue
		}
		if http.CanonicalHeaderKey(key) == "Host" {
			continue
		}
		for _, value := range values {
			upstreamReq.Header.Add(key, value)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(upstreamReq)
	metrics.ForwardDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		f.logger.Warn("upstream call failed",
			zap.String("origin", req.OriginURL),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Warn("failed to read upstream response",
			zap.String("origin", req.OriginURL),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	return &UpstreamResponse{
		StatusCode:  resp.StatusCode,
		Body:        respBody,
		ContentType: contentType,
	}, nil
}
