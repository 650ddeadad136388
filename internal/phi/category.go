// Package phi detects HIPAA Safe Harbor identifiers in free text.
//
// The matcher is deliberately over-inclusive: a false positive costs the user a
// resubmission, a false negative sends an identifier to a third party.
package phi

import (
	"encoding/json"
	"sort"
)

// Category names a class of identifier.
type Category string

const (
	Phone         Category = "phone"
	Email         Category = "email"
	SSN           Category = "ssn"
	IP            Category = "ip"
	URL           Category = "url"
	Date          Category = "date"
	StreetAddress Category = "street_address"
	NameTitle     Category = "name_title"
	// Zip is only applied by Scrub. Five-digit runs collide with lab
	// reference ranges too often to block on.
	Zip Category = "zip"
)

// ScanCategories lists the categories Scan reports, in report order.
var ScanCategories = []Category{Phone, Email, SSN, IP, URL, Date, StreetAddress, NameTitle}

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case Phone, Email, SSN, IP, URL, Date, StreetAddress, NameTitle, Zip:
		return true
	default:
		return false
	}
}

// CategorySet is an unordered set of categories. The zero value is empty and
// ready to use for reads; use NewCategorySet or Add to populate it.
type CategorySet map[Category]struct{}

// NewCategorySet returns a set holding cats.
func NewCategorySet(cats ...Category) CategorySet {
	s := make(CategorySet, len(cats))
	for _, c := range cats {
		s[c] = struct{}{}
	}
	return s
}

// Add inserts c.
func (s CategorySet) Add(c Category) {
	s[c] = struct{}{}
}

// Has reports whether c is in the set.
func (s CategorySet) Has(c Category) bool {
	_, ok := s[c]
	return ok
}

// Union adds every member of other to s.
func (s CategorySet) Union(other CategorySet) {
	for c := range other {
		s[c] = struct{}{}
	}
}

// Empty reports whether the set has no members.
func (s CategorySet) Empty() bool {
	return len(s) == 0
}

// Sorted returns the members in lexical order.
func (s CategorySet) Sorted() []Category {
	out := make([]Category, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted members as plain strings.
func (s CategorySet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, c := range sorted {
		out[i] = string(c)
	}
	return out
}

// MarshalJSON writes the set as a sorted array.
func (s CategorySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON reads an array of category names.
func (s *CategorySet) UnmarshalJSON(data []byte) error {
	var names []Category
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewCategorySet(names...)
	return nil
}
