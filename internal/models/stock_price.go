package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StockPrice is one trading day of OHLCV data for one symbol. Price and
// volume fields are independently nullable: null means the provider value
// was missing or unparsable.
type StockPrice struct {
	Symbol    string              `json:"symbol"`
	Timestamp Date                `json:"timestamp"`
	Open      decimal.NullDecimal `json:"open"`
	High      decimal.NullDecimal `json:"high"`
	Low       decimal.NullDecimal `json:"low"`
	Close     decimal.NullDecimal `json:"close"`
	Volume    *int64              `json:"volume"`
	UpdatedAt time.Time           `json:"updated_at,omitempty"`
}

// Validate checks the natural key and volume sign.
func (p *StockPrice) Validate() error {
	if p.Symbol == "" {
		return errors.New("symbol is required")
	}
	if p.Symbol != strings.ToUpper(p.Symbol) {
		return fmt.Errorf("symbol %q must be uppercase", p.Symbol)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required for %s", p.Symbol)
	}
	if p.Volume != nil && *p.Volume < 0 {
		return fmt.Errorf("negative volume for %s on %s", p.Symbol, p.Timestamp)
	}
	return nil
}

// HasNullPrice reports whether any of open/high/low/close is null.
func (p *StockPrice) HasNullPrice() bool {
	return !p.Open.Valid || !p.High.Valid || !p.Low.Valid || !p.Close.Valid
}
