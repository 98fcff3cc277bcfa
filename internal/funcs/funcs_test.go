package funcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCents(t *testing.T) {
	tests := []struct {
		name   string
		amount any
		want   string
	}{
		{name: "grouped", amount: int64(250000), want: "$2,500.00"},
		{name: "fee", amount: int64(8750), want: "$87.50"},
		{name: "small int", amount: 5, want: "$0.05"},
		{name: "negative", amount: int64(-125), want: "-$1.25"},
		{name: "unsupported", amount: "n/a", want: "n/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Cents(tt.amount))
		})
	}
}
