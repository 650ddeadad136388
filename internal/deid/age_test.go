package deid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsight/deidgate/internal/domain"
)

func TestBucketAge(t *testing.T) {
	tests := []struct {
		name string
		age  domain.Age
		want AgeBucket
	}{
		{"newborn", domain.KnownAge(0), AgeUnder2},
		{"one", domain.KnownAge(1), AgeUnder2},
		{"two", domain.KnownAge(2), Age2to5},
		{"twelve", domain.KnownAge(12), Age6to12},
		{"thirteen", domain.KnownAge(13), Age13to17},
		{"eighteen", domain.KnownAge(18), Age18to24},
		{"thirty-four", domain.KnownAge(34), Age25to34},
		{"thirty-five", domain.KnownAge(35), Age35to44},
		{"sixty-five", domain.KnownAge(65), Age65to74},
		{"eighty-nine", domain.KnownAge(89), Age75to89},
		{"ninety", domain.KnownAge(90), Age90Plus},
		{"implausible", domain.KnownAge(150), Age90Plus},
		{"negative", domain.KnownAge(-1), AgeUnknown},
		{"unknown", domain.Age{}, AgeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BucketAge(tt.age)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.IsValid())
		})
	}
}

func TestBucketAgeIsTotal(t *testing.T) {
	for years := -5; years <= 200; years++ {
		assert.True(t, BucketAge(domain.KnownAge(years)).IsValid(), "age %d", years)
	}
}

func TestBucketAgeHugeAges(t *testing.T) {
	for _, input := range []string{`1e20`, `"9223372036854775808"`, `1.7e308`} {
		var age domain.Age
		require.NoError(t, json.Unmarshal([]byte(input), &age))
		assert.Equal(t, Age90Plus, BucketAge(age), input)
	}

	var age domain.Age
	require.NoError(t, json.Unmarshal([]byte(`-1e20`), &age))
	assert.Equal(t, AgeUnknown, BucketAge(age))
}

func TestAgeBucketIsValid(t *testing.T) {
	assert.Len(t, AgeBuckets, 13)
	assert.False(t, AgeBucket("90-100").IsValid())
	assert.False(t, AgeBucket("").IsValid())
}
