package amount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConventions(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"european thousands", "1.234,56", "1234.56"},
		{"plain thousands", "1,234.56", "1234.56"},
		{"comma decimal", "12,50", "12.50"},
		{"dot decimal", "12.50", "12.50"},
		{"bare integer", "12", "12.00"},
		{"currency suffix", "12,50 EUR", "12.50"},
		{"currency symbol prefix", "€ 1.234,56", "1234.56"},
		{"nbsp separated", "12,50 €", "12.50"},
		{"narrow nbsp", "1 234,56", "1234.56"},
		{"multiple dot groups", "1.234.567,89", "1234567.89"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "abc", "€", "EUR", "12,5x", "-12,50"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.ErrorIs(t, err, ErrUnparseable)
		})
	}
}

func TestParseQuantizesToTwoDigits(t *testing.T) {
	got, err := Parse("12,505")
	require.NoError(t, err)
	assert.Equal(t, "12.51", got.StringFixed(2))
}
