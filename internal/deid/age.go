// Package deid turns an identity-bearing submission into the de-identified
// payload that may leave the process, or blocks it.
package deid

import (
	"github.com/labsight/deidgate/internal/domain"
)

// AgeBucket is a coarse age range. Exact ages never leave the process.
type AgeBucket string

const (
	AgeUnder2  AgeBucket = "0-1"
	Age2to5    AgeBucket = "2-5"
	Age6to12   AgeBucket = "6-12"
	Age13to17  AgeBucket = "13-17"
	Age18to24  AgeBucket = "18-24"
	Age25to34  AgeBucket = "25-34"
	Age35to44  AgeBucket = "35-44"
	Age45to54  AgeBucket = "45-54"
	Age55to64  AgeBucket = "55-64"
	Age65to74  AgeBucket = "65-74"
	Age75to89  AgeBucket = "75-89"
	Age90Plus  AgeBucket = "90+"
	AgeUnknown AgeBucket = "Unknown"
)

// AgeBuckets lists every bucket in ascending order, Unknown last.
var AgeBuckets = []AgeBucket{
	AgeUnder2, Age2to5, Age6to12, Age13to17, Age18to24, Age25to34,
	Age35to44, Age45to54, Age55to64, Age65to74, Age75to89, Age90Plus, AgeUnknown,
}

var bucketUpperBounds = []struct {
	max    int
	bucket AgeBucket
}{
	{1, AgeUnder2},
	{5, Age2to5},
	{12, Age6to12},
	{17, Age13to17},
	{24, Age18to24},
	{34, Age25to34},
	{44, Age35to44},
	{54, Age45to54},
	{64, Age55to64},
	{74, Age65to74},
	{89, Age75to89},
}

// IsValid reports whether b is a member of the closed enumeration.
func (b AgeBucket) IsValid() bool {
	for _, known := range AgeBuckets {
		if b == known {
			return true
		}
	}
	return false
}

// BucketAge maps an age onto its bucket. Unknown and negative ages map to
// Unknown; every age of 90 or above maps to 90+.
func BucketAge(age domain.Age) AgeBucket {
	if !age.Known || age.Years < 0 {
		return AgeUnknown
	}
	for _, b := range bucketUpperBounds {
		if age.Years <= b.max {
			return b.bucket
		}
	}
	return Age90Plus
}
