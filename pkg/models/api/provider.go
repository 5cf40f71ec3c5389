package api

import "github.com/de-tools/aaflow/pkg/models/domain"

const FIRequestVersion = "1.0"

type SignedConsentResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	SignedConsent string `json:"signedConsent"`
}

type FIRequest struct {
	Ver         string             `json:"ver"`
	Timestamp   string             `json:"timestamp"`
	TxnID       string             `json:"txnid"`
	FIDataRange domain.DateRange   `json:"FIDataRange"`
	Consent     FIRequestConsent   `json:"Consent"`
	KeyMaterial domain.KeyMaterial `json:"KeyMaterial"`
}

type FIRequestConsent struct {
	ID               string `json:"id"`
	DigitalSignature string `json:"digitalSignature"`
}

type FIRequestResponse struct {
	Ver       string `json:"ver"`
	Timestamp string `json:"timestamp"`
	TxnID     string `json:"txnid"`
	ConsentID string `json:"consentId"`
	SessionID string `json:"sessionId"`
}

type FIFetchResponse struct {
	Ver       string            `json:"ver"`
	Timestamp string            `json:"timestamp"`
	TxnID     string            `json:"txnid"`
	FI        []EncryptedFIItem `json:"FI"`
}

// EncryptedFIItem is what one FIP delivered for the session.
type EncryptedFIItem struct {
	FipID       string             `json:"fipId"`
	KeyMaterial domain.KeyMaterial `json:"KeyMaterial"`
	Data        []EncryptedBlock   `json:"data"`
}

type EncryptedBlock struct {
	LinkRefNumber   string `json:"linkRefNumber"`
	MaskedAccNumber string `json:"maskedAccNumber"`
	EncryptedFI     string `json:"encryptedFI"`
}

type GenerateKeyResponse struct {
	PrivateKey  string             `json:"privateKey"`
	KeyMaterial domain.KeyMaterial `json:"KeyMaterial"`
	ErrorInfo   *ErrorInfo         `json:"errorInfo,omitempty"`
}

type DecryptRequest struct {
	Base64Data        string             `json:"base64Data"`
	Base64RemoteNonce string             `json:"base64RemoteNonce"`
	Base64YourNonce   string             `json:"base64YourNonce"`
	OurPrivateKey     string             `json:"ourPrivateKey"`
	RemoteKeyMaterial domain.KeyMaterial `json:"remoteKeyMaterial"`
}

type DecryptResponse struct {
	Base64Data string     `json:"base64Data"`
	ErrorInfo  *ErrorInfo `json:"errorInfo,omitempty"`
}

type ErrorInfo struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}
