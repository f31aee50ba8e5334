package stream

import (
	"strconv"
	"strings"
	"time"
)

// Field counts below are sanity floors, not exact widths — real KIS frames
// carry more trailing fields than any consumer here reads (spec.md §4.5).
const (
	minTradeFields     = 20
	minOrderbookFields = 60
)

// Fixed field offsets into a trade frame's pipe-delimited body.
const (
	tradeFieldCode       = 0
	tradeFieldTime       = 1
	tradeFieldPrice      = 2
	tradeFieldSign       = 3
	tradeFieldChangeAbs  = 4
	tradeFieldChangeRate = 5
	tradeFieldVolume     = 12
	tradeFieldCumVolume  = 13
	tradeFieldOpen       = 16
	tradeFieldHigh       = 17
	tradeFieldLow        = 18
)

// Fixed field offsets into an orderbook frame's pipe-delimited body
// (spec.md §4.5: "fields 4..13 are 10-level ask prices, 14..23 bid prices,
// 24..33 ask sizes, 34..43 bid sizes, 44 total ask, 45 total bid" — 1-indexed
// in the spec, converted to 0-indexed offsets here).
const (
	obAskPriceStart = 3
	obBidPriceStart = 13
	obAskSizeStart  = 23
	obBidSizeStart  = 33
	obTotalAskIdx   = 43
	obTotalBidIdx   = 44
)

// TradeFrame is a parsed H0STCNT0 tick.
type TradeFrame struct {
	Code       string
	Time       time.Time
	Price      float64
	Sign       string
	ChangeAbs  float64
	ChangeRate float64
	Volume     float64
	CumVolume  float64
	Open       float64
	High       float64
	Low        float64
}

// OrderbookFrame is a parsed H0STASP0 book snapshot.
type OrderbookFrame struct {
	Code         string
	AskPrices    [10]float64
	BidPrices    [10]float64
	AskSizes     [10]float64
	BidSizes     [10]float64
	TotalAskSize float64
	TotalBidSize float64
}

// Frame is the envelope dispatched to registered callbacks. Exactly one of
// Trade/Orderbook/Raw is populated, selected by TRID.
type Frame struct {
	TRID      string
	Code      string
	Trade     *TradeFrame
	Orderbook *OrderbookFrame
	Raw       string
}

func coerceFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFrameTime(hhmmss string) time.Time {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.UTC
	}
	if len(hhmmss) != 6 {
		return time.Time{}
	}
	h, e1 := strconv.Atoi(hhmmss[0:2])
	m, e2 := strconv.Atoi(hhmmss[2:4])
	s, e3 := strconv.Atoi(hhmmss[4:6])
	if e1 != nil || e2 != nil || e3 != nil {
		return time.Time{}
	}
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), h, m, s, 0, loc)
}

func parseTradeFrame(fields []string) (*TradeFrame, bool) {
	if len(fields) < minTradeFields {
		return nil, false
	}
	return &TradeFrame{
		Code:       fields[tradeFieldCode],
		Time:       parseFrameTime(fields[tradeFieldTime]),
		Price:      coerceFloat(fields[tradeFieldPrice]),
		Sign:       fields[tradeFieldSign],
		ChangeAbs:  coerceFloat(fields[tradeFieldChangeAbs]),
		ChangeRate: coerceFloat(fields[tradeFieldChangeRate]),
		Volume:     coerceFloat(fields[tradeFieldVolume]),
		CumVolume:  coerceFloat(fields[tradeFieldCumVolume]),
		Open:       coerceFloat(fields[tradeFieldOpen]),
		High:       coerceFloat(fields[tradeFieldHigh]),
		Low:        coerceFloat(fields[tradeFieldLow]),
	}, true
}

func parseOrderbookFrame(fields []string) (*OrderbookFrame, bool) {
	if len(fields) < minOrderbookFields {
		return nil, false
	}
	ob := &OrderbookFrame{Code: fields[0]}
	for i := 0; i < 10; i++ {
		ob.AskPrices[i] = coerceFloat(fields[obAskPriceStart+i])
		ob.BidPrices[i] = coerceFloat(fields[obBidPriceStart+i])
		ob.AskSizes[i] = coerceFloat(fields[obAskSizeStart+i])
		ob.BidSizes[i] = coerceFloat(fields[obBidSizeStart+i])
	}
	ob.TotalAskSize = coerceFloat(fields[obTotalAskIdx])
	ob.TotalBidSize = coerceFloat(fields[obTotalBidIdx])
	return ob, true
}

// parseFrame parses one raw KIS WS text message:
// "<encrypt_flag>|<tr_id>|<data_count>|<pipe-delimited body>". A frame too
// short to contain the header is dropped; an unrecognized TR-ID is
// forwarded as a raw envelope (spec.md §4.5: "Unknown TR-ID: forward a
// {raw: body} envelope").
func parseFrame(raw string) (Frame, bool) {
	parts := strings.SplitN(raw, "|", 4)
	if len(parts) < 4 {
		return Frame{}, false
	}
	trID := parts[1]
	fields := strings.Split(parts[3], "|")
	if len(fields) == 0 || fields[0] == "" {
		return Frame{}, false
	}
	code := fields[0]

	switch trID {
	case "H0STCNT0":
		tf, ok := parseTradeFrame(fields)
		if !ok {
			return Frame{}, false
		}
		return Frame{TRID: trID, Code: code, Trade: tf}, true
	case "H0STASP0":
		ob, ok := parseOrderbookFrame(fields)
		if !ok {
			return Frame{}, false
		}
		return Frame{TRID: trID, Code: code, Orderbook: ob}, true
	default:
		return Frame{TRID: trID, Code: code, Raw: raw}, true
	}
}
