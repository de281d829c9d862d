package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/entrhq/orderpull/pkg/order"
)

// DefaultEndpointSubstring identifies the order-detail backend API inside an
// intercepted request URL.
const DefaultEndpointSubstring = "mtop.idle.web.trade.order.detail"

// rateAction is the trade action the storefront puts on the footer button
// when an order can still be rated.
const rateAction = "RATE"

// EnvelopeError reports an intercepted payload whose envelope indicates
// failure. Callers degrade to DOM-only data; this is not fatal to a fetch.
type EnvelopeError struct {
	Ret string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("order-detail API returned failure envelope: %s", e.Ret)
}

// apiEnvelope is the mtop response wrapper. ret[0] starts with "SUCCESS"
// when the call worked; data carries the order payload.
type apiEnvelope struct {
	Ret  []string     `json:"ret"`
	Data apiOrderData `json:"data"`
}

type apiOrderData struct {
	Status json.RawMessage `json:"status"`
	UtArgs struct {
		OrderStatusName string `json:"orderStatusName"`
	} `json:"utArgs"`
	Components  []apiComponent `json:"components"`
	BottomBarVO struct {
		ButtonList []struct {
			TradeAction string `json:"tradeAction"`
		} `json:"buttonList"`
	} `json:"bottomBarVO"`
}

type apiComponent struct {
	Render string `json:"render"`
	Data   struct {
		ItemInfo struct {
			Title  string `json:"title"`
			ItemID string `json:"itemId"`
		} `json:"itemInfo"`
		PriceInfo struct {
			Amount struct {
				Value string `json:"value"`
			} `json:"amount"`
		} `json:"priceInfo"`
		AddressInfo struct {
			ReceiverName   string `json:"receiverName"`
			ReceiverMobile string `json:"receiverMobile"`
			Province       string `json:"province"`
			City           string `json:"city"`
			District       string `json:"district"`
			DetailAddress  string `json:"detailAddress"`
			FullAddress    string `json:"fullAddress"`
		} `json:"addressInfo"`
		BuyerInfo struct {
			UserID string `json:"userId"`
		} `json:"buyerInfo"`
	} `json:"data"`
}

// parseEnvelope decodes one intercepted order-detail response body into a
// network-sourced view. A failure envelope returns an *EnvelopeError with
// the reported reason; a malformed body returns the decode error.
func parseEnvelope(body []byte) (order.View, error) {
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return order.View{}, fmt.Errorf("malformed order-detail payload: %w", err)
	}

	if len(env.Ret) == 0 || !strings.HasPrefix(env.Ret[0], "SUCCESS") {
		ret := "unknown error"
		if len(env.Ret) > 0 {
			ret = env.Ret[0]
		}
		return order.View{}, &EnvelopeError{Ret: ret}
	}

	v := order.View{
		OrderStatus: rawToString(env.Data.Status),
		StatusText:  env.Data.UtArgs.OrderStatusName,
	}

	for _, component := range env.Data.Components {
		if component.Render != "orderInfoVO" {
			continue
		}
		data := component.Data

		v.ItemTitle = data.ItemInfo.Title
		v.ItemID = data.ItemInfo.ItemID
		v.Price = data.PriceInfo.Amount.Value
		v.BuyerID = data.BuyerInfo.UserID

		addr := data.AddressInfo
		v.ReceiverName = addr.ReceiverName
		v.ReceiverPhone = addr.ReceiverMobile
		v.ReceiverCity = addr.City

		switch {
		case addr.FullAddress != "":
			v.ReceiverAddress = addr.FullAddress
		default:
			var parts []string
			for _, p := range []string{addr.Province, addr.City, addr.District, addr.DetailAddress} {
				if p != "" {
					parts = append(parts, p)
				}
			}
			v.ReceiverAddress = strings.Join(parts, " ")
		}
	}

	for _, btn := range env.Data.BottomBarVO.ButtonList {
		if btn.TradeAction == rateAction {
			v.CanRate = true
			break
		}
	}

	return v, nil
}

// rawToString renders a status value that the backend sends as either a
// string or a bare number.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
