// Package order defines the order record domain type and the rules for
// normalizing, validating, and merging independently-sourced views of it.
package order

import (
	"strconv"
	"strings"
	"time"
)

// Placeholder is the sentinel the upstream storefront uses for fields it
// could not resolve. A placeholder value counts as missing.
const Placeholder = "unknown"

// Record is the structured result of one order extraction.
// Once returned to a caller it is never mutated.
type Record struct {
	OrderID         string    `json:"order_id" yaml:"order_id"`
	URL             string    `json:"url" yaml:"url"`
	PageTitle       string    `json:"title" yaml:"title"`
	OrderStatus     string    `json:"order_status" yaml:"order_status"`
	StatusText      string    `json:"status_text" yaml:"status_text"`
	ItemTitle       string    `json:"item_title" yaml:"item_title"`
	ItemID          string    `json:"item_id" yaml:"item_id"`
	SpecName        string    `json:"spec_name" yaml:"spec_name"`
	SpecValue       string    `json:"spec_value" yaml:"spec_value"`
	Quantity        string    `json:"quantity" yaml:"quantity"`
	Amount          string    `json:"amount" yaml:"amount"`
	OrderTime       string    `json:"order_time" yaml:"order_time"`
	ReceiverName    string    `json:"receiver_name" yaml:"receiver_name"`
	ReceiverPhone   string    `json:"receiver_phone" yaml:"receiver_phone"`
	ReceiverAddress string    `json:"receiver_address" yaml:"receiver_address"`
	ReceiverCity    string    `json:"receiver_city" yaml:"receiver_city"`
	BuyerID         string    `json:"buyer_id" yaml:"buyer_id"`
	CanRate         bool      `json:"can_rate" yaml:"can_rate"`
	FetchedAt       time.Time `json:"fetched_at" yaml:"fetched_at"`
	FromCache       bool      `json:"from_cache" yaml:"from_cache"`
}

// View is one partially-populated observation of an order from a single
// source (intercepted API payload or rendered page). Empty fields mean the
// source did not provide them.
type View struct {
	OrderStatus     string
	StatusText      string
	ItemTitle       string
	ItemID          string
	Price           string
	SpecName        string
	SpecValue       string
	Quantity        string
	Amount          string
	OrderTime       string
	ReceiverName    string
	ReceiverPhone   string
	ReceiverAddress string
	ReceiverCity    string
	BuyerID         string
	CanRate         bool
}

// Empty reports whether the view carries no data at all.
func (v View) Empty() bool {
	return v == View{}
}

// Merge combines the network-sourced and DOM-sourced views of one order into
// a final record. The network view is authoritative for status, item
// identity, buyer, and the rateable flag; the DOM view is authoritative for
// amount, specification, quantity, order time, and receiver details, falling
// back to the network values when the DOM did not yield them.
func Merge(orderID string, network, dom View) *Record {
	r := &Record{
		OrderID:     orderID,
		OrderStatus: network.OrderStatus,
		StatusText:  network.StatusText,
		ItemTitle:   network.ItemTitle,
		ItemID:      network.ItemID,
		BuyerID:     network.BuyerID,
		CanRate:     network.CanRate,

		SpecName:  dom.SpecName,
		SpecValue: dom.SpecValue,
		Quantity:  dom.Quantity,
		OrderTime: dom.OrderTime,

		Amount:          firstNonEmpty(dom.Amount, network.Price),
		ReceiverName:    firstNonEmpty(dom.ReceiverName, network.ReceiverName),
		ReceiverPhone:   firstNonEmpty(dom.ReceiverPhone, network.ReceiverPhone),
		ReceiverAddress: firstNonEmpty(dom.ReceiverAddress, network.ReceiverAddress),
		ReceiverCity:    network.ReceiverCity,

		FetchedAt: time.Now(),
		FromCache: false,
	}

	if r.OrderStatus == "" {
		r.OrderStatus = Placeholder
	}
	if r.Quantity == "" {
		r.Quantity = "1"
	}
	return r
}

// NormalizeAmount strips currency markers from an amount string and parses
// it. It returns false when the value is absent, unparsable, or non-positive;
// all three are treated as "missing" for freshness purposes.
func NormalizeAmount(s string) (float64, bool) {
	cleaned := strings.NewReplacer("¥", "", "￥", "", "$", "").Replace(s)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ReceiverComplete reports whether all three receiver fields are present and
// non-placeholder. A record missing any of them is considered incomplete.
func (r *Record) ReceiverComplete() bool {
	for _, f := range []string{r.ReceiverName, r.ReceiverPhone, r.ReceiverAddress} {
		if f == "" || f == Placeholder {
			return false
		}
	}
	return true
}

// Fresh reports whether a cached record can be served without a live fetch:
// the amount must normalize to a positive number and the receiver details
// must be complete.
func (r *Record) Fresh() bool {
	_, ok := NormalizeAmount(r.Amount)
	return ok && r.ReceiverComplete()
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
