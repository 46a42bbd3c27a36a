// Package parser turns raw provider payloads into stock price records.
// It never fails on malformed data: a bad field becomes null, a bad date
// drops its entry, and a missing time series yields no records.
package parser

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
)

// TimeSeriesMarker identifies the top-level key holding the date-keyed entries.
const TimeSeriesMarker = "Time Series"

// ErrNotAnObject is returned when the payload or its time series container is not a JSON object.
var ErrNotAnObject = errors.New("payload is not a JSON object")

// Parser converts payloads for one provider format.
type Parser struct {
	log logger.Emitter
}

// New creates a Parser reporting to e.
func New(e logger.Emitter) *Parser {
	return &Parser{log: logger.OrNop(e)}
}

// Parse converts payload into records for symbol. Output order is not
// chronological.
func (p *Parser) Parse(payload map[string]json.RawMessage, symbol string) ([]models.StockPrice, error) {
	if payload == nil {
		return nil, ErrNotAnObject
	}

	key, ok := timeSeriesKey(payload)
	if !ok {
		p.log.Emit(logger.WarnLevel, "No time series data found",
			logger.F("symbol", symbol), logger.F("keys", sortedKeys(payload)))
		return []models.StockPrice{}, nil
	}

	var series map[string]json.RawMessage
	if err := json.Unmarshal(payload[key], &series); err != nil {
		p.log.Emit(logger.ErrorLevel, "Failed to parse stock data", logger.F("symbol", symbol), logger.F("key", key))
		return nil, ErrNotAnObject
	}
	if series == nil {
		p.log.Emit(logger.WarnLevel, "No time series data found",
			logger.F("symbol", symbol), logger.F("key", key), logger.F("reason", "time series is null"))
		return []models.StockPrice{}, nil
	}

	records := make([]models.StockPrice, 0, len(series))
	for dateKey, raw := range series {
		ts, err := models.ParseDate(dateKey)
		if err != nil {
			p.log.Emit(logger.WarnLevel, "Failed to parse data point",
				logger.F("symbol", symbol), logger.F("timestamp", dateKey), logger.Err(err))
			continue
		}

		var entry map[string]interface{}
		if err := json.Unmarshal(raw, &entry); err != nil || entry == nil {
			p.log.Emit(logger.WarnLevel, "Failed to parse data point",
				logger.F("symbol", symbol), logger.F("timestamp", dateKey), logger.F("reason", "entry is not an object"))
			continue
		}

		records = append(records, p.buildRecord(symbol, ts, entry))
	}

	p.log.Emit(logger.InfoLevel, "Successfully parsed stock data",
		logger.F("symbol", symbol), logger.F("data_points", len(records)))
	return records, nil
}

func (p *Parser) buildRecord(symbol string, ts models.Date, entry map[string]interface{}) models.StockPrice {
	fields := labelled(entry)
	rec := models.StockPrice{Symbol: symbol, Timestamp: ts}

	for _, target := range []struct {
		label string
		dst   *decimal.NullDecimal
	}{
		{"open", &rec.Open},
		{"high", &rec.High},
		{"low", &rec.Low},
		{"close", &rec.Close},
	} {
		v, ok := toDecimal(fields[target.label])
		if !ok {
			p.fieldFailed(symbol, ts, target.label, fields[target.label])
			continue
		}
		*target.dst = decimal.NewNullDecimal(v)
	}

	if v, ok := toVolume(fields["volume"]); ok {
		rec.Volume = &v
	} else {
		p.fieldFailed(symbol, ts, "volume", fields["volume"])
	}
	return rec
}

func (p *Parser) fieldFailed(symbol string, ts models.Date, field string, value interface{}) {
	p.log.Emit(logger.WarnLevel, "Failed to convert field",
		logger.F("symbol", symbol), logger.F("timestamp", ts.String()), logger.F("field", field), logger.F("value", value))
}

// timeSeriesKey picks the first key, in sorted order, containing the marker.
func timeSeriesKey(payload map[string]json.RawMessage) (string, bool) {
	for _, k := range sortedKeys(payload) {
		if strings.Contains(k, TimeSeriesMarker) {
			return k, true
		}
	}
	return "", false
}

// labelled strips the "1. " ordinal prefix so "1. open" and the adjusted
// series' "6. volume" both resolve by name.
func labelled(entry map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(entry))
	for k, v := range entry {
		label := k
		if i := strings.Index(k, ". "); i > 0 && isDigits(k[:i]) {
			label = k[i+2:]
		}
		label = strings.ToLower(strings.TrimSpace(label))
		if _, exists := out[label]; !exists {
			out[label] = v
		}
	}
	return out
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(n), true
	default:
		return decimal.Decimal{}, false
	}
}

var maxVolume = decimal.NewFromInt(math.MaxInt64)

// toVolume accepts float text and truncates; negatives and values past
// int64 are treated as unparsable.
func toVolume(v interface{}) (int64, bool) {
	d, ok := toDecimal(v)
	if !ok || d.IsNegative() || d.Truncate(0).GreaterThan(maxVolume) {
		return 0, false
	}
	return d.IntPart(), true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
