package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
		ok    bool
	}{
		{"plain number", "128.50", 128.50, true},
		{"cny symbol", "¥99.00", 99.00, true},
		{"fullwidth cny symbol", "￥45", 45, true},
		{"dollar symbol", "$12.30", 12.30, true},
		{"whitespace", "  ¥ 10.00 ", 10.00, true},
		{"interior space", "1 0.00", 0, false},
		{"zero", "0", 0, false},
		{"negative", "-5", 0, false},
		{"empty", "", 0, false},
		{"garbage", "free", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeAmount(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRecordFresh(t *testing.T) {
	fresh := &Record{
		Amount:          "128.50",
		ReceiverName:    "张三",
		ReceiverPhone:   "138****1234",
		ReceiverAddress: "浙江省 杭州市 西湖区",
	}
	assert.True(t, fresh.Fresh())

	zeroAmount := *fresh
	zeroAmount.Amount = "0"
	assert.False(t, zeroAmount.Fresh())

	missingReceiver := *fresh
	missingReceiver.ReceiverAddress = ""
	assert.False(t, missingReceiver.Fresh())

	placeholderReceiver := *fresh
	placeholderReceiver.ReceiverName = Placeholder
	assert.False(t, placeholderReceiver.Fresh())
}

func TestMergePrecedence(t *testing.T) {
	network := View{
		OrderStatus:  "FINISHED",
		StatusText:   "交易成功",
		ItemTitle:    "vintage camera",
		ItemID:       "item-1",
		BuyerID:      "buyer-9",
		Price:        "100.00",
		CanRate:      true,
		ReceiverCity: "杭州",
	}
	dom := View{
		Amount:          "99.00",
		SpecName:        "颜色",
		SpecValue:       "黑色",
		Quantity:        "2",
		OrderTime:       "2025-01-02 10:30:00",
		ReceiverName:    "李四",
		ReceiverPhone:   "139****5678",
		ReceiverAddress: "上海市 浦东新区",
	}

	r := Merge("ord-1", network, dom)

	// network wins identity/status fields
	assert.Equal(t, "FINISHED", r.OrderStatus)
	assert.Equal(t, "vintage camera", r.ItemTitle)
	assert.Equal(t, "item-1", r.ItemID)
	assert.Equal(t, "buyer-9", r.BuyerID)
	assert.True(t, r.CanRate)

	// DOM wins detail fields
	assert.Equal(t, "99.00", r.Amount)
	assert.Equal(t, "颜色", r.SpecName)
	assert.Equal(t, "2", r.Quantity)
	assert.Equal(t, "李四", r.ReceiverName)

	assert.Equal(t, "杭州", r.ReceiverCity)
	assert.False(t, r.FromCache)
}

func TestMergeFallsBackToNetwork(t *testing.T) {
	network := View{
		Price:           "100.00",
		ReceiverName:    "王五",
		ReceiverPhone:   "137****0000",
		ReceiverAddress: "北京市",
	}

	r := Merge("ord-2", network, View{})

	assert.Equal(t, "100.00", r.Amount)
	assert.Equal(t, "王五", r.ReceiverName)
	assert.Equal(t, "137****0000", r.ReceiverPhone)
	assert.Equal(t, "北京市", r.ReceiverAddress)
	assert.Equal(t, Placeholder, r.OrderStatus)
	assert.Equal(t, "1", r.Quantity)
}

func TestViewEmpty(t *testing.T) {
	assert.True(t, View{}.Empty())
	assert.False(t, View{Amount: "1"}.Empty())
}
