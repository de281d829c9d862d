package extract

import (
	"regexp"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/orderpull/pkg/order"
)

// Selectors are the CSS hooks into the rendered order-detail page.
type Selectors struct {
	// Amount matches the bold price element.
	Amount string

	// SKU matches the specification and quantity elements, in document
	// order: first is "name:value", second is the quantity.
	SKU string

	// AddressValue matches the value span next to the shipping-address
	// label.
	AddressValue string
}

// DefaultSelectors match the storefront's current hashed CSS-module names.
func DefaultSelectors() Selectors {
	return Selectors{
		Amount:       `[class^="boldNum--"]`,
		SKU:          `[class^="sku--"]`,
		AddressValue: `[class*="textItemValue"]`,
	}
}

var (
	// orderTimePattern matches "2025-01-02 10:30" and "2025/01/02 10:30:00"
	// style timestamps.
	orderTimePattern = regexp.MustCompile(`(\d{4}[-/]\d{2}[-/]\d{2}\s+\d{2}:\d{2}(?::\d{2})?)`)

	// orderTimeLabeled anchors the timestamp to one of the order-time
	// labels when scanning raw page content.
	orderTimeLabeled = regexp.MustCompile(`(?:下单时间|订单创建时间|创建时间).*?(\d{4}[-/]\d{2}[-/]\d{2}\s+\d{2}:\d{2}(?::\d{2})?)`)

	// receiverPhonePattern matches a mainland mobile number, possibly
	// masked with asterisks the way the storefront renders it.
	receiverPhonePattern = regexp.MustCompile(`1[3-9]\d[\d\*]{8}`)
)

// orderTimeLabels are the selectors tried, in order, to find the labeled
// order-creation timestamp in the rendered page.
var orderTimeLabels = []string{
	`text=/下单时间/`,
	`text=/订单创建时间/`,
	`text=/创建时间/`,
}

const (
	addressLabelSelector = `text=/收货地址/`
	addressLabelText     = "收货地址"
	copySuffix           = "复制"
)

// normalizeOrderTime extracts a timestamp from label-adjacent text and
// canonicalizes its date separator.
func normalizeOrderTime(text string) (string, bool) {
	m := orderTimePattern.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.ReplaceAll(m, "/", "-"), true
}

// parseSpec splits a rendered "name:value" specification pair.
func parseSpec(text string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(text, ":")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(name), strings.TrimSpace(value), true
}

// parseQuantity extracts a quantity from its rendered element, tolerating a
// "label:value" wrapper and a leading multiplier marker ("x2").
func parseQuantity(text string) string {
	if _, after, ok := strings.Cut(text, ":"); ok {
		text = after
	}
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "x")
	return text
}

// splitReceiver splits a shipping-address line into name, phone, and
// address using the phone number as the pivot: everything before the match
// is the name, everything after is the address. A trailing copy-button
// caption is stripped from the address.
func splitReceiver(text string) (name, phone, address string, ok bool) {
	loc := receiverPhonePattern.FindStringIndex(text)
	if loc == nil {
		return "", "", "", false
	}

	phone = text[loc[0]:loc[1]]
	name = strings.TrimSpace(text[:loc[0]])
	address = strings.TrimSpace(text[loc[1]:])
	address = strings.TrimSpace(strings.TrimSuffix(address, copySuffix))
	return name, phone, address, true
}

// domStrategy is one named way of pulling a value out of the rendered page.
// Strategies are tried in priority order until one reports found.
type domStrategy struct {
	name string
	run  func(page playwright.Page) (string, bool)
}

func (e *Extractor) runStrategies(page playwright.Page, field string, strategies []domStrategy) (string, bool) {
	for _, s := range strategies {
		value, found := s.run(page)
		if found {
			e.log.Debugf("%s resolved via %s strategy", field, s.name)
			return value, true
		}
	}
	return "", false
}

// scrapeDOM reads the rendered page into a DOM-sourced view. Every field is
// best-effort: a failed selector or query degrades that field only.
func (e *Extractor) scrapeDOM(page playwright.Page) order.View {
	var v order.View

	if el, err := page.QuerySelector(e.selectors.Amount); err == nil && el != nil {
		if text, err := el.TextContent(); err == nil {
			v.Amount = strings.TrimSpace(text)
		}
	}

	if t, ok := e.runStrategies(page, "order time", e.orderTimeStrategies()); ok {
		v.OrderTime = t
	}

	e.scrapeSKU(page, &v)

	if line, ok := e.runStrategies(page, "receiver", e.receiverStrategies()); ok {
		if name, phone, address, ok := splitReceiver(line); ok {
			v.ReceiverName = name
			v.ReceiverPhone = phone
			v.ReceiverAddress = address
		}
	}

	return v
}

// orderTimeStrategies: labeled element first, then a raw-content regex scan
// for pages that render the timestamp outside any labeled node.
func (e *Extractor) orderTimeStrategies() []domStrategy {
	return []domStrategy{
		{
			name: "label selector",
			run: func(page playwright.Page) (string, bool) {
				for _, sel := range orderTimeLabels {
					el, err := page.QuerySelector(sel)
					if err != nil || el == nil {
						continue
					}
					text, err := el.TextContent()
					if err != nil {
						continue
					}
					if t, ok := normalizeOrderTime(text); ok {
						return t, true
					}
				}
				return "", false
			},
		},
		{
			name: "raw content scan",
			run: func(page playwright.Page) (string, bool) {
				content, err := page.Content()
				if err != nil {
					return "", false
				}
				m := orderTimeLabeled.FindStringSubmatch(content)
				if m == nil {
					return "", false
				}
				return strings.ReplaceAll(m[1], "/", "-"), true
			},
		},
	}
}

// scrapeSKU reads the sequential sku elements: the first carries the
// specification pair, the second the quantity.
func (e *Extractor) scrapeSKU(page playwright.Page, v *order.View) {
	elements, err := page.QuerySelectorAll(e.selectors.SKU)
	if err != nil {
		e.log.Debugf("sku query failed: %v", err)
		return
	}

	if len(elements) >= 1 {
		if text, err := elements[0].TextContent(); err == nil {
			if name, value, ok := parseSpec(strings.TrimSpace(text)); ok {
				v.SpecName = name
				v.SpecValue = value
			}
		}
	}
	if len(elements) >= 2 {
		if text, err := elements[1].TextContent(); err == nil {
			v.Quantity = parseQuantity(strings.TrimSpace(text))
		}
	}
}

// receiverStrategies: the labeled value span first, then the browser's
// rendered body text, then a visible-text reconstruction of the raw HTML
// for pages where the inner-text query itself fails.
func (e *Extractor) receiverStrategies() []domStrategy {
	return []domStrategy{
		{
			name: "address label",
			run: func(page playwright.Page) (string, bool) {
				label, err := page.QuerySelector(addressLabelSelector)
				if err != nil || label == nil {
					return "", false
				}
				item, err := label.EvaluateHandle(`el => el.closest("li")`)
				if err != nil || item == nil {
					return "", false
				}
				parent := item.AsElement()
				if parent == nil {
					return "", false
				}
				span, err := parent.QuerySelector(e.selectors.AddressValue)
				if err != nil || span == nil {
					return "", false
				}
				text, err := span.TextContent()
				if err != nil {
					return "", false
				}
				text = strings.TrimSpace(text)
				if !receiverPhonePattern.MatchString(text) {
					return "", false
				}
				return text, true
			},
		},
		{
			name: "body text scan",
			run: func(page playwright.Page) (string, bool) {
				body, err := page.InnerText("body")
				if err != nil {
					return "", false
				}
				return receiverLineFromText(body)
			},
		},
		{
			name: "raw html scan",
			run: func(page playwright.Page) (string, bool) {
				content, err := page.Content()
				if err != nil {
					return "", false
				}
				text, err := visibleText(content)
				if err != nil {
					return "", false
				}
				return receiverLineFromText(text)
			},
		},
	}
}

// receiverLineFromText finds the shipping-address label in line-oriented
// visible text and returns the line carrying the receiver details.
func receiverLineFromText(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.Contains(line, addressLabelText) {
			continue
		}
		// The details usually sit on the following line, but some layouts
		// inline them after the label.
		candidates := []string{line}
		if i+1 < len(lines) {
			candidates = append(candidates, lines[i+1])
		}
		for _, c := range candidates {
			c = strings.TrimSpace(c)
			if receiverPhonePattern.MatchString(c) {
				return c, true
			}
		}
		return "", false
	}
	return "", false
}
