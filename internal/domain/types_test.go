package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSex(t *testing.T) {
	tests := []struct {
		input    string
		expected Sex
	}{
		{"", SexUnknown},
		{"   ", SexUnknown},
		{"male", SexMale},
		{"MALE", SexMale},
		{" Female ", SexFemale},
		{"f", SexFemale},
		{"M", SexMale},
		{"unknown", SexUnknown},
		{"nonbinary", SexOther},
		{"other", SexOther},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeSex(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.True(t, got.IsValid())
		})
	}
}

func TestSexIsValid(t *testing.T) {
	assert.True(t, SexMale.IsValid())
	assert.False(t, Sex("male").IsValid())
	assert.False(t, Sex("").IsValid())
}

func TestOrderStatus(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		valid    bool
		terminal bool
	}{
		{OrderPending, true, false},
		{OrderProcessing, true, false},
		{OrderAnalyzed, true, true},
		{OrderFailed, true, true},
		{OrderBlocked, true, true},
		{OrderStatus("shipped"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.IsValid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}
