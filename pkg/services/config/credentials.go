package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// Credentials are the secrets of one provider environment.
type Credentials struct {
	ClientAPIKey   string
	SigningKeyPath string
	SetuBaseURL    string
	RahasyaBaseURL string
	// ProviderPublicKeyPath is only needed when inbound signatures are checked.
	ProviderPublicKeyPath string
}

// SigningKey reads the PEM encoded private key the profile points at.
func (c *Credentials) SigningKey() ([]byte, error) {
	if c.SigningKeyPath == "" {
		return nil, fmt.Errorf("signing_key_path is not set")
	}
	pem, err := os.ReadFile(c.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return pem, nil
}

// ProviderPublicKey reads the PEM encoded key the provider signs webhooks with.
func (c *Credentials) ProviderPublicKey() ([]byte, error) {
	if c.ProviderPublicKeyPath == "" {
		return nil, fmt.Errorf("provider_public_key_path is not set")
	}
	pem, err := os.ReadFile(c.ProviderPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider public key: %w", err)
	}
	return pem, nil
}

type Registry interface {
	GetProfiles(ctx context.Context) ([]string, error)
	GetCredentials(ctx context.Context, profile string) (*Credentials, error)
}

type cfgRegistry struct {
	cfg *ini.File
}

// NewRegistry loads an .aaflowcfg style file: one section per environment.
func NewRegistry(path string) (Registry, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return &cfgRegistry{cfg: cfg}, nil
}

func (cr *cfgRegistry) GetProfiles(_ context.Context) ([]string, error) {
	var profiles []string
	for _, section := range cr.cfg.Sections() {
		if len(section.Keys()) > 0 {
			profiles = append(profiles, section.Name())
		}
	}
	return profiles, nil
}

func (cr *cfgRegistry) GetCredentials(_ context.Context, profile string) (*Credentials, error) {
	section, err := cr.cfg.GetSection(profile)
	if err != nil {
		return nil, fmt.Errorf("profile %s not found", profile)
	}

	creds := &Credentials{
		ClientAPIKey:   section.Key("client_api_key").String(),
		SigningKeyPath: section.Key("signing_key_path").String(),
		SetuBaseURL:    section.Key("setu_base_url").String(),
		RahasyaBaseURL: section.Key("rahasya_base_url").String(),

		ProviderPublicKeyPath: section.Key("provider_public_key_path").String(),
	}
	if creds.ClientAPIKey == "" || creds.SetuBaseURL == "" || creds.RahasyaBaseURL == "" {
		return nil, fmt.Errorf("profile %s is missing client_api_key, setu_base_url or rahasya_base_url", profile)
	}
	return creds, nil
}
