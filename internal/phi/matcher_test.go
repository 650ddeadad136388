package phi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  CategorySet
	}{
		{"dashed phone", "555-123-4567", NewCategorySet(Phone)},
		{"phone with area code in parens", "(555) 123-4567", NewCategorySet(Phone)},
		{"international phone", "+1 555.123.4567", NewCategorySet(Phone)},
		{"seven digit phone", "call 123-4567", NewCategorySet(Phone)},
		{"contiguous phone", "5551234567", NewCategorySet(Phone)},
		{"email", "john@email.com", NewCategorySet(Email)},
		{"dashed ssn", "123-45-6789", NewCategorySet(SSN)},
		{"bare ssn", "123456789", NewCategorySet(SSN)},
		{"ipv4", "192.168.1.10", NewCategorySet(IP)},
		{"https url", "see https://example.com/me", NewCategorySet(URL)},
		{"www url", "www.example.com", NewCategorySet(URL)},
		{"us date", "01/15/1980", NewCategorySet(Date)},
		{"dashed us date", "1-15-1980", NewCategorySet(Date)},
		{"iso date", "1980-01-15", NewCategorySet(Date)},
		{"written date", "born March 3, 1980", NewCategorySet(Date)},
		{"street", "123 Main Street", NewCategorySet(StreetAddress)},
		{"abbreviated street with unit", "42 Oak Ave Apt 4B", NewCategorySet(StreetAddress)},
		{"honorific", "Mr. Smith", NewCategorySet(NameTitle)},
		{"labelled name", "Patient: John", NewCategorySet(NameTitle)},
		{"lowercase label", "name: john", NewCategorySet(NameTitle)},
		{"dob keyword with date", "DOB 1/2/1990", NewCategorySet(NameTitle, Date)},
		{"mixed", "Contact John at john@email.com or 555-123-4567", NewCategorySet(Email, Phone)},
		{"plain complaint", "patient feels tired", CategorySet{}},
		{"lab with reference range", "Ferritin 18 ng/mL (ref 15-150)", CategorySet{}},
		{"empty", "", CategorySet{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scan(tt.input)
			assert.Equal(t, tt.want.Strings(), got.Strings())
		})
	}
}

func TestScanDoesNotBlockOnZip(t *testing.T) {
	assert.True(t, Scan("90210").Empty())
	assert.True(t, Scan("90210-1234").Empty())
}

func TestScanAll(t *testing.T) {
	got := ScanAll("patient feels tired", "john@email.com", "555-123-4567")

	assert.Equal(t, []string{"email", "phone"}, got.Strings())
	assert.True(t, ScanAll().Empty())
}

func TestScrub(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        string
		wantRemoved []string
	}{
		{
			name:        "phone and email",
			input:       "Call 555-123-4567 or email john@email.com",
			want:        "Call [REDACTED:phone] or email [REDACTED:email]",
			wantRemoved: []string{"email", "phone"},
		},
		{
			name:        "honorific takes the name with it",
			input:       "Seen by Dr. Smith Jones today",
			want:        "Seen by [REDACTED:name_title] today",
			wantRemoved: []string{"name_title"},
		},
		{
			name:        "zip only in scrub",
			input:       "Lives at 90210",
			want:        "Lives at [REDACTED:zip]",
			wantRemoved: []string{"zip"},
		},
		{
			name:        "replacement tokens are not rescanned",
			input:       "SSN 123-45-6789",
			want:        "[REDACTED:name_title] [REDACTED:ssn]",
			wantRemoved: []string{"name_title", "ssn"},
		},
		{
			name:        "nothing to redact",
			input:       "Ferritin trending down",
			want:        "Ferritin trending down",
			wantRemoved: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, removed := Scrub(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantRemoved, removed.Strings())
		})
	}
}

func TestCategorySetJSON(t *testing.T) {
	set := NewCategorySet(Phone, Email, Phone)

	data, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["email","phone"]`, string(data))

	var decoded CategorySet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Has(Email))
	assert.True(t, decoded.Has(Phone))
	assert.Len(t, decoded, 2)
}

func TestCategoryIsValid(t *testing.T) {
	for _, c := range ScanCategories {
		assert.True(t, c.IsValid(), c)
	}
	assert.True(t, Zip.IsValid())
	assert.False(t, Category("name").IsValid())
}
