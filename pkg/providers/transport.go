// Package providers holds the outbound HTTP plumbing shared by the data
// provider and key custody clients.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	HeaderClientAPIKey = "client_api_key"
	HeaderJWSSignature = "x-jws-signature"

	maxErrorBody = 4 << 10
)

type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		Logger:       zerolog.Nop(),
	}
}

type Transport struct {
	client *retryablehttp.Client
}

func NewTransport(opts Options) *Transport {
	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	client.Logger = leveledLogger{logger: opts.Logger}
	// Hand the last response back so non-2xx statuses surface as ProviderError.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Transport{client: client}
}

// Call describes one outbound request.
type Call struct {
	Service string
	Op      string
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Do sends the call and decodes a 2xx JSON response into out.
func (t *Transport) Do(ctx context.Context, call Call, out any) error {
	logger := zerolog.Ctx(ctx)

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return call.fail(0, err)
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return call.fail(0, err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logger.Warn().Err(err).Str("service", call.Service).Msg("failed to close response body")
		}
	}(resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return call.fail(resp.StatusCode, fmt.Errorf("unexpected response: %s", bytes.TrimSpace(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return call.fail(resp.StatusCode, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err))
	}
	return nil
}

func (c Call) fail(status int, err error) error {
	return &domain.ProviderError{
		Service:    c.Service,
		Op:         c.Op,
		StatusCode: status,
		Err:        err,
	}
}

// Malformed reports a response that decoded but is missing a required field.
func Malformed(service, op, field string) error {
	return &domain.ProviderError{
		Service: service,
		Op:      op,
		Err:     fmt.Errorf("%w: missing %s", domain.ErrMalformedPayload, field),
	}
}

type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
