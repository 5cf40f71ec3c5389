// Package setu is the client for the account aggregator (data provider) API.
package setu

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/providers"
	"github.com/de-tools/aaflow/pkg/signature"
)

const service = "setu"

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
		return nil, fmt.Errorf("setu base url is empty")
	}
	if transport == nil || signer == nil {
		return nil, fmt.Errorf("setu client needs a transport and a signer")
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.ClientAPIKey,
		transport: transport,
		signer:    signer,
	}, nil
}

// GetSignedConsent fetches the signed consent artefact for consentID.
func (c *Client) GetSignedConsent(ctx context.Context, consentID string) (string, error) {
	var resp api.SignedConsentResponse
	err := c.transport.Do(ctx, providers.Call{
		Service: service,
		Op:      "get signed consent",
		Method:  http.MethodGet,
		URL:     c.baseURL + "/Consent/" + url.PathEscape(consentID),
		Headers: c.headers(signature.None),
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.SignedConsent == "" {
		return "", providers.Malformed(service, "get signed consent", "signedConsent")
	}
	return resp.SignedConsent, nil
}

// RequestFIData asks the provider to start preparing FI data and returns the session.
func (c *Client) RequestFIData(ctx context.Context, req api.FIRequest) (*api.FIRequestResponse, error) {
	body, err := signature.Canonicalize(req)
	if err != nil {
		return nil, err
	}
	sig, err := c.signer.SignBytes(body)
	if err != nil {
		return nil, err
	}

	var resp api.FIRequestResponse
	err = c.transport.Do(ctx, providers.Call{
		Service: service,
		Op:      "request fi data",
		Method:  http.MethodPost,
		URL:     c.baseURL + "/FI/request",
		Headers: c.headers(sig),
		Body:    body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, providers.Malformed(service, "request fi data", "sessionId")
	}
	return &resp, nil
}

// FetchFIData downloads the encrypted FI dataset for a session.
func (c *Client) FetchFIData(ctx context.Context, sessionID string) (*api.FIFetchResponse, error) {
	var resp api.FIFetchResponse
	err := c.transport.Do(ctx, providers.Call{
		Service: service,
		Op:      "fetch fi data",
		Method:  http.MethodGet,
		URL:     c.baseURL + "/FI/fetch/" + url.PathEscape(sessionID),
		Headers: c.headers(signature.None),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) headers(sig string) map[string]string {
	return map[string]string{
		providers.HeaderClientAPIKey: c.apiKey,
		providers.HeaderJWSSignature: sig,
	}
}
