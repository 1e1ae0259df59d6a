package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "BTCUSDT",
			expected: []string{"BTCUSDT"},
		},
		{
			name:     "two values",
			input:    "BTCUSDT, ETHUSDT",
			expected: []string{"BTCUSDT", "ETHUSDT"},
		},
		{
			name:     "varied spacing",
			input:    "BTCUSDT,  ETHUSDT , SOLUSDT",
			expected: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		},
		{
			name:     "trailing comma",
			input:    "BTCUSDT,",
			expected: []string{"BTCUSDT"},
		},
		{
			name:     "leading comma",
			input:    ",ETHUSDT",
			expected: []string{"ETHUSDT"},
		},
		{
			name:     "only spaces",
			input:    "   ",
			expected: nil,
		},
		{
			name:     "comma only",
			input:    ",",
			expected: nil,
		},
		{
			name:     "multiple commas",
			input:    ",,BTCUSDT,,ETHUSDT,,",
			expected: []string{"BTCUSDT", "ETHUSDT"},
		},
		{
			name:     "watchlist entries keep colon pairs intact",
			input:    "BTCUSDT:1h, ETHUSDT:4h",
			expected: []string{"BTCUSDT:1h", "ETHUSDT:4h"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseCSV(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}
