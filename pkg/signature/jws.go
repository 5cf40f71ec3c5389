package signature

import (
	"bytes"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/golang-jwt/jwt/v5"
)

// None is the signature header value for calls that carry no signed body.
const None = ""

type Signer interface {
	// Sign canonicalizes payload and returns a detached signature over it.
	Sign(payload any) (string, error)
	// SignBytes signs an already canonical body.
	SignBytes(body []byte) (string, error)
}

type RSASigner struct {
	key *rsa.PrivateKey
}

// NewSigner parses a PEM encoded RSA private key (PKCS#1 or PKCS#8).
func NewSigner(pemBytes []byte) (*RSASigner, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", domain.ErrSigning, err)
	}
	return &RSASigner{key: key}, nil
}

// ParsePublicKey parses a PEM encoded RSA public key or certificate.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", domain.ErrSigning, err)
	}
	return key, nil
}

func (s *RSASigner) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

func (s *RSASigner) Sign(payload any) (string, error) {
	body, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return s.SignBytes(body)
}

func (s *RSASigner) SignBytes(body []byte) (string, error) {
	if s == nil || s.key == nil {
		return "", fmt.Errorf("%w: no signing key", domain.ErrSigning)
	}

	token := jwt.New(jwt.SigningMethodRS256)
	header, err := json.Marshal(token.Header)
	if err != nil {
		return "", fmt.Errorf("%w: encode header: %v", domain.ErrSigning, err)
	}

	encodedHeader := token.EncodeSegment(header)
	signingString := encodedHeader + "." + token.EncodeSegment(body)
	sig, err := token.Method.Sign(signingString, s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSigning, err)
	}

	return encodedHeader + ".." + token.EncodeSegment(sig), nil
}

// Canonicalize renders payload as compact JSON with object keys sorted, so the
// same logical payload always produces the same bytes.
func Canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", domain.ErrSigning, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", domain.ErrSigning, err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", domain.ErrSigning, err)
	}
	return out, nil
}

// Verify checks a detached token against the body it was computed over.
func Verify(detached string, body []byte, key *rsa.PublicKey) error {
	parts := strings.Split(detached, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%w: token must have 3 segments, got %d", domain.ErrSigning, len(parts))
	}
	if parts[1] != "" {
		return fmt.Errorf("%w: payload segment is not detached", domain.ErrSigning)
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return fmt.Errorf("%w: decode header: %v", domain.ErrSigning, err)
	}
	var header map[string]any
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return fmt.Errorf("%w: decode header: %v", domain.ErrSigning, err)
	}
	if alg, _ := header["alg"].(string); alg != jwt.SigningMethodRS256.Alg() {
		return fmt.Errorf("%w: unexpected alg %q", domain.ErrSigning, alg)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("%w: decode signature: %v", domain.ErrSigning, err)
	}

	signingString := parts[0] + "." + base64.RawURLEncoding.EncodeToString(body)
	if err := jwt.SigningMethodRS256.Verify(signingString, sig, key); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSigning, err)
	}
	return nil
}
