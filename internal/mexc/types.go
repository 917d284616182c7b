package mexc

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// ExchangeInfo is the subset of /api/v3/exchangeInfo the scanner uses.
type ExchangeInfo struct {
	Symbols []ExchangeSymbol `json:"symbols"`
}

// ExchangeSymbol describes one trading pair's listing metadata.
type ExchangeSymbol struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	QuoteAsset string `json:"quoteAsset"`
}

// BookTicker is a top-of-book quote. Prices and quantities arrive as
// decimal strings and are parsed downstream so that invalid quotes can
// be counted instead of dropped.
type BookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

// Ticker24h is one row of /api/v3/ticker/24hr. The API legitimately
// reports null for auxiliary statistics; that is not an error.
type Ticker24h struct {
	Symbol      string        `json:"symbol"`
	QuoteVolume OptionalFloat `json:"quoteVolume"`
	Volume      OptionalFloat `json:"volume"`
	Count       OptionalInt   `json:"count"`
}

// DepthSnapshot is an order book: levels are [price, quantity] decimal
// string pairs, bids sorted price-descending, asks ascending.
type DepthSnapshot struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// OptionalFloat decodes a JSON number, numeric string, or null.
// Null and unparseable values leave Valid false; the two cases are
// distinguished by ParseError.
type OptionalFloat struct {
	Value      float64
	Valid      bool
	ParseError bool
}

func (o *OptionalFloat) UnmarshalJSON(data []byte) error {
	*o = OptionalFloat{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			o.ParseError = true
			return nil
		}
	} else {
		raw = string(data)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		o.ParseError = true
		return nil
	}
	o.Value = value
	o.Valid = true
	return nil
}

// Ptr returns the value as a nullable pointer.
func (o OptionalFloat) Ptr() *float64 {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// OptionalInt decodes a JSON integer, numeric string, or null with the
// same semantics as OptionalFloat.
type OptionalInt struct {
	Value      int64
	Valid      bool
	ParseError bool
}

func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	var f OptionalFloat
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	*o = OptionalInt{Value: int64(f.Value), Valid: f.Valid, ParseError: f.ParseError}
	return nil
}

// Ptr returns the value as a nullable pointer.
func (o OptionalInt) Ptr() *int64 {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}
