package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// OhlcvBar is a single daily/minute price bar, the unit the broker, fetcher,
// and indicators packages all exchange (spec.md §4.7).
type OhlcvBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// tabularType tags which of the two cache-entry shapes an envelope carries
// (spec.md §3: "ordered sequence of bars, or key->numeric-series").
type tabularType string

const (
	tabularFrame  tabularType = "frame"
	tabularSeries tabularType = "series"
)

// envelope is the tagged wire shape every cached tabular value is wrapped
// in (spec.md §3/§4.3): `{__tabular_type__, index, columns?, data}`. Tagging
// the schema lets a decoder reject a value encoded for a different shape
// rather than silently misreading a stale cached blob.
type envelope struct {
	Type    tabularType     `json:"__tabular_type__"`
	Index   []string        `json:"index"`
	Columns []string        `json:"columns,omitempty"`
	Data    json.RawMessage `json:"data"`
}

var ohlcvColumns = []string{"open", "high", "low", "close", "volume"}

const isoDate = "2006-01-02"

// marshalNumeric marshals v, translating a NaN float64 to JSON null per the
// envelope's NaN rule (spec.md §4.3 property: "NaN becomes null"). Every
// other value marshals normally; encoding/json errors on a bare NaN, which
// is exactly what this exists to avoid.
func marshalNumeric(v any) (json.RawMessage, error) {
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// EncodeFrame serializes an OHLCV bar series into the tagged frame
// envelope. Dates become ISO-8601 index entries; each row is the bar's
// numeric columns in ohlcvColumns order.
func EncodeFrame(bars []OhlcvBar) ([]byte, error) {
	index := make([]string, len(bars))
	rows := make([][]json.RawMessage, len(bars))
	for i, b := range bars {
		index[i] = b.Date.UTC().Format(isoDate)
		row := make([]json.RawMessage, len(ohlcvColumns))
		for j, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
			raw, err := marshalNumeric(v)
			if err != nil {
				return nil, fmt.Errorf("cache: encode frame row %d: %w", i, err)
			}
			row[j] = raw
		}
		rows[i] = row
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("cache: encode frame: %w", err)
	}
	return json.Marshal(envelope{Type: tabularFrame, Index: index, Columns: ohlcvColumns, Data: data})
}

// DecodeFrame parses bytes previously produced by EncodeFrame, rejecting
// anything tagged for a different tabular shape.
func DecodeFrame(raw []byte) ([]OhlcvBar, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("cache: decode frame: %w", err)
	}
	if env.Type != tabularFrame {
		return nil, fmt.Errorf("cache: unexpected tabular type %q (want %q)", env.Type, tabularFrame)
	}

	var rows [][]*float64
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("cache: decode frame rows: %w", err)
	}
	if len(rows) != len(env.Index) {
		return nil, fmt.Errorf("cache: frame index/data length mismatch: %d index, %d rows", len(env.Index), len(rows))
	}

	bars := make([]OhlcvBar, len(rows))
	for i, row := range rows {
		if len(row) != len(ohlcvColumns) {
			return nil, fmt.Errorf("cache: frame row %d has %d columns, want %d", i, len(row), len(ohlcvColumns))
		}
		date, err := time.Parse(isoDate, env.Index[i])
		if err != nil {
			return nil, fmt.Errorf("cache: frame index %q: %w", env.Index[i], err)
		}
		bars[i] = OhlcvBar{
			Date:   date,
			Open:   floatOrNaN(row[0]),
			High:   floatOrNaN(row[1]),
			Low:    floatOrNaN(row[2]),
			Close:  floatOrNaN(row[3]),
			Volume: floatOrNaN(row[4]),
		}
	}
	return bars, nil
}

// floatOrNaN restores a JSON null (decoded as a nil *float64) back to NaN,
// the envelope's inverse of marshalNumeric.
func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Series is the cache's other tabular shape (spec.md §3): a numeric value
// keyed by date, generic so callers can key indicator values, returns, or
// any other per-date scalar rather than a full OHLCV bar.
type Series[T any] struct {
	Index  []time.Time
	Values []T
}

// EncodeSeries serializes s into the tagged series envelope. Each value is
// marshaled independently so a float64 NaN (e.g. an indicator still
// warming up) encodes as JSON null instead of failing the whole batch.
func EncodeSeries[T any](s Series[T]) ([]byte, error) {
	if len(s.Index) != len(s.Values) {
		return nil, fmt.Errorf("cache: encode series: %d index entries, %d values", len(s.Index), len(s.Values))
	}

	index := make([]string, len(s.Index))
	values := make([]json.RawMessage, len(s.Values))
	for i, t := range s.Index {
		index[i] = t.UTC().Format(isoDate)
		raw, err := marshalNumeric(s.Values[i])
		if err != nil {
			return nil, fmt.Errorf("cache: encode series value %d: %w", i, err)
		}
		values[i] = raw
	}

	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("cache: encode series: %w", err)
	}
	return json.Marshal(envelope{Type: tabularSeries, Index: index, Data: data})
}

// DecodeSeries parses bytes previously produced by EncodeSeries, rejecting
// anything tagged for a different tabular shape. A JSON null value decodes
// back to NaN when T is float64, the inverse of the NaN->null encode rule;
// for any other T it decodes to the zero value.
func DecodeSeries[T any](raw []byte) (Series[T], error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Series[T]{}, fmt.Errorf("cache: decode series: %w", err)
	}
	if env.Type != tabularSeries {
		return Series[T]{}, fmt.Errorf("cache: unexpected tabular type %q (want %q)", env.Type, tabularSeries)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(env.Data, &raws); err != nil {
		return Series[T]{}, fmt.Errorf("cache: decode series values: %w", err)
	}
	if len(raws) != len(env.Index) {
		return Series[T]{}, fmt.Errorf("cache: series index/data length mismatch: %d index, %d values", len(env.Index), len(raws))
	}

	out := Series[T]{Index: make([]time.Time, len(raws)), Values: make([]T, len(raws))}
	for i, raw := range raws {
		date, err := time.Parse(isoDate, env.Index[i])
		if err != nil {
			return Series[T]{}, fmt.Errorf("cache: series index %q: %w", env.Index[i], err)
		}
		out.Index[i] = date

		if string(raw) == "null" {
			if _, ok := any(out.Values[i]).(float64); ok {
				out.Values[i] = any(math.NaN()).(T)
			}
			continue
		}
		if err := json.Unmarshal(raw, &out.Values[i]); err != nil {
			return Series[T]{}, fmt.Errorf("cache: decode series value %d: %w", i, err)
		}
	}
	return out, nil
}
