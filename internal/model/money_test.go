package model

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    int64
		wantErr bool
	}{
		{name: "whole", amount: "20", want: 2000},
		{name: "cents", amount: "10.55", want: 1055},
		{name: "zero", amount: "0", wantErr: true},
		{name: "negative", amount: "-5", wantErr: true},
		{name: "sub cent", amount: "1.005", wantErr: true},
		{name: "max", amount: "92233720368547758.07", want: math.MaxInt64},
		{name: "just above max", amount: "92233720368547758.08", wantErr: true},
		{name: "wraps to one cent", amount: "184467440737095516.17", wantErr: true},
		{name: "exponent", amount: "1e30", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinor(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromMinor(t *testing.T) {
	assert.True(t, FromMinor(11000).Equal(decimal.NewFromInt(110)))
	assert.Equal(t, "0.99", FromMinor(99).String())
}

func TestPaymentEventKeyFallsBackToEventID(t *testing.T) {
	assert.Equal(t, "in_1", PaymentEvent{EventID: "evt_1", InvoiceID: "in_1"}.Key())
	assert.Equal(t, "evt_1", PaymentEvent{EventID: "evt_1"}.Key())
}
