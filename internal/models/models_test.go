package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate(t *testing.T) {
	t.Run("NewDate normalizes overflow", func(t *testing.T) {
		assert.Equal(t, "2024-03-01", NewDate(2024, time.February, 30).String())
	})

	t.Run("DateOf keeps the local calendar day", func(t *testing.T) {
		ny := time.FixedZone("EST", -5*60*60)
		evening := time.Date(2024, time.January, 15, 22, 0, 0, 0, ny)
		assert.Equal(t, NewDate(2024, time.January, 15), DateOf(evening))
	})

	t.Run("ParseDate rejects other layouts", func(t *testing.T) {
		_, err := ParseDate("01/15/2024")
		assert.Error(t, err)
	})

	t.Run("ordering", func(t *testing.T) {
		a, b := NewDate(2024, time.January, 12), NewDate(2024, time.January, 15)
		assert.True(t, a.Before(b))
		assert.True(t, b.After(a))
		assert.False(t, a.After(a))
	})
}

func TestDateScan(t *testing.T) {
	want := NewDate(2024, time.January, 15)

	tests := []struct {
		name string
		src  interface{}
	}{
		{"text", "2024-01-15"},
		{"bytes", []byte("2024-01-15")},
		{"sqlite timestamp text", "2024-01-15 00:00:00+00:00"},
		{"rfc3339", "2024-01-15T00:00:00Z"},
		{"time", time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Date
			require.NoError(t, d.Scan(tt.src))
			assert.Equal(t, want, d)
		})
	}

	t.Run("nil is zero", func(t *testing.T) {
		d := want
		require.NoError(t, d.Scan(nil))
		assert.True(t, d.IsZero())

		v, err := d.Value()
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("unsupported type", func(t *testing.T) {
		var d Date
		assert.Error(t, d.Scan(42))
	})
}

func TestDateJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		D Date `json:"d"`
		Z Date `json:"z"`
	}{D: NewDate(2024, time.January, 15)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d": "2024-01-15", "z": null}`, string(data))

	var back struct {
		D Date `json:"d"`
		Z Date `json:"z"`
	}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, NewDate(2024, time.January, 15), back.D)
	assert.True(t, back.Z.IsZero())
}

func TestStockPriceValidate(t *testing.T) {
	vol := func(v int64) *int64 { return &v }
	day := NewDate(2024, time.January, 15)

	tests := []struct {
		name    string
		price   StockPrice
		wantErr bool
	}{
		{"valid", StockPrice{Symbol: "AAPL", Timestamp: day, Volume: vol(10)}, false},
		{"null volume", StockPrice{Symbol: "AAPL", Timestamp: day}, false},
		{"missing symbol", StockPrice{Timestamp: day}, true},
		{"lowercase symbol", StockPrice{Symbol: "aapl", Timestamp: day}, true},
		{"missing timestamp", StockPrice{Symbol: "AAPL"}, true},
		{"negative volume", StockPrice{Symbol: "AAPL", Timestamp: day, Volume: vol(-1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.price.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHasNullPrice(t *testing.T) {
	full := decimal.NewNullDecimal(decimal.RequireFromString("100.10"))
	p := StockPrice{Open: full, High: full, Low: full, Close: full}
	assert.False(t, p.HasNullPrice())

	p.Close = decimal.NullDecimal{}
	assert.True(t, p.HasNullPrice())
}

func TestRunReportHelpers(t *testing.T) {
	r := &RunReport{Outcomes: []SymbolOutcome{
		{Symbol: "AAPL", State: StateDone},
		{Symbol: "NOPE", State: StateFailed},
		{Symbol: "MSFT", State: StatePending},
	}}
	assert.Equal(t, []string{"AAPL"}, r.Succeeded())
	assert.Equal(t, []string{"NOPE"}, r.Failed())

	o, ok := r.Outcome("MSFT")
	require.True(t, ok)
	assert.Equal(t, StatePending, o.State)

	_, ok = r.Outcome("TSLA")
	assert.False(t, ok)
}
