// Package rahasya is the client for the key custody service that generates
// ECDH key pairs and decrypts FI payloads.
package rahasya

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/providers"
	"github.com/de-tools/aaflow/pkg/signature"
)

const service = "rahasya"

type Config struct {
	BaseURL      string
	ClientAPIKey string
}

type Client struct {
	baseURL   string
	apiKey    string
	transport *providers.Transport
	signer    signature.Signer
}

func NewClient(cfg Config, transport *providers.Transport, signer signature.Signer) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rahasya base url is empty")
	}
	if transport == nil || signer == nil {
		return nil, fmt.Errorf("rahasya client needs a transport and a signer")
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.ClientAPIKey,
		transport: transport,
		signer:    signer,
	}, nil
}

// GenerateKey returns a fresh key pair. The private half stays with the caller.
func (c *Client) GenerateKey(ctx context.Context) (*api.GenerateKeyResponse, error) {
	const op = "generate key"

	var resp api.GenerateKeyResponse
	err := c.transport.Do(ctx, providers.Call{
		Service: service,
		Op:      op,
		Method:  http.MethodGet,
		URL:     c.baseURL + "/ecc/v1/generateKey",
		Headers: c.headers(signature.None),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if err := errorInfo(op, resp.ErrorInfo); err != nil {
		return nil, err
	}
	if resp.PrivateKey == "" {
		return nil, providers.Malformed(service, op, "privateKey")
	}
	return &resp, nil
}

// Decrypt decrypts one encrypted FI block. Every call is signed on its own.
func (c *Client) Decrypt(ctx context.Context, req api.DecryptRequest) (*api.DecryptResponse, error) {
	const op = "decrypt"

	body, err := signature.Canonicalize(req)
	if err != nil {
		return nil, err
	}
	sig, err := c.signer.SignBytes(body)
	if err != nil {
		return nil, err
	}

	var resp api.DecryptResponse
	err = c.transport.Do(ctx, providers.Call{
		Service: service,
		Op:      op,
		Method:  http.MethodPost,
		URL:     c.baseURL + "/ecc/v1/decrypt",
		Headers: c.headers(sig),
		Body:    body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if err := errorInfo(op, resp.ErrorInfo); err != nil {
		return nil, err
	}
	if resp.Base64Data == "" {
		return nil, providers.Malformed(service, op, "base64Data")
	}
	return &resp, nil
}

func (c *Client) headers(sig string) map[string]string {
	return map[string]string{
		providers.HeaderClientAPIKey: c.apiKey,
		providers.HeaderJWSSignature: sig,
	}
}

func errorInfo(op string, info *api.ErrorInfo) error {
	if info == nil || (info.ErrorCode == "" && info.ErrorMessage == "") {
		return nil
	}
	return &domain.ProviderError{
		Service: service,
		Op:      op,
		Err:     fmt.Errorf("%s: %s", info.ErrorCode, info.ErrorMessage),
	}
}
