package fi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/de-tools/aaflow/pkg/models/domain"
)

const (
	AccountTypeEquities    = "equities"
	AccountTypeMutualFunds = "mutual_funds"

	// Sandbox data sometimes carries non-numeric prices. These stand in for
	// them so one bad field does not drop the holding.
	FallbackStrikePrice int64 = 200
	FallbackNAV         int64 = 56
)

type fiObject struct {
	Account *fiAccount `json:"account"`
}

type fiAccount struct {
	Type         string          `json:"type"`
	LinkedAccRef string          `json:"linkedAccRef"`
	Transactions *fiTransactions `json:"transactions"`
	Summary      *fiSummary      `json:"summary"`
}

type fiTransactions struct {
	Transactions []equityTransaction `json:"transactions"`
}

type equityTransaction struct {
	ISIN        string          `json:"isin"`
	CompanyName string          `json:"companyName"`
	StrikePrice json.RawMessage `json:"strikePrice"`
}

type fiSummary struct {
	Investment *struct {
		Holdings *struct {
			Holding []fundHolding `json:"holding"`
		} `json:"holdings"`
	} `json:"investment"`
}

type fundHolding struct {
	ISIN       string          `json:"isin"`
	AMC        string          `json:"amc"`
	SchemeCode string          `json:"schemeCode"`
	NAV        json.RawMessage `json:"nav"`
}

// Extraction is what one decoded FI object yields.
type Extraction struct {
	AccountType  string
	LinkedAccRef string
	// Supported is false for account types that carry no holdings we track.
	Supported bool
	Holdings  []domain.LinkedHolding
}

// Extract reads holdings out of a decoded FI object, dispatching on the
// account type. Holdings carry only isin, name and average price.
func Extract(decoded []byte) (*Extraction, error) {
	var obj fiObject
	if err := json.Unmarshal(decoded, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}
	if obj.Account == nil {
		return nil, fmt.Errorf("%w: missing account", domain.ErrExtraction)
	}
	acc := obj.Account
	out := &Extraction{AccountType: acc.Type, LinkedAccRef: acc.LinkedAccRef}

	switch acc.Type {
	case AccountTypeEquities:
		if acc.Transactions == nil {
			return nil, fmt.Errorf("%w: equities account %s has no transactions", domain.ErrExtraction, acc.LinkedAccRef)
		}
		out.Supported = true
		for _, tr := range acc.Transactions.Transactions {
			out.Holdings = append(out.Holdings, domain.LinkedHolding{
				ISIN:         tr.ISIN,
				Name:         tr.CompanyName,
				AveragePrice: parsePrice(tr.StrikePrice, FallbackStrikePrice),
			})
		}
	case AccountTypeMutualFunds:
		s := acc.Summary
		if s == nil || s.Investment == nil || s.Investment.Holdings == nil {
			return nil, fmt.Errorf("%w: mutual fund account %s has no holdings", domain.ErrExtraction, acc.LinkedAccRef)
		}
		out.Supported = true
		for _, h := range s.Investment.Holdings.Holding {
			out.Holdings = append(out.Holdings, domain.LinkedHolding{
				ISIN:         h.ISIN,
				Name:         h.AMC + h.SchemeCode,
				AveragePrice: parsePrice(h.NAV, FallbackNAV),
			})
		}
	case "":
		return nil, fmt.Errorf("%w: account type missing", domain.ErrExtraction)
	}
	return out, nil
}

// parsePrice accepts an integer string or a JSON number. Numbers with a
// fraction are truncated, strings with one fall back.
func parsePrice(raw json.RawMessage, fallback int64) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fallback
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fallback
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fallback
		}
		return v
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fallback
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return fallback
	}
	return int64(f)
}
