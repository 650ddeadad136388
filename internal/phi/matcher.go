package phi

import (
	"regexp"
	"sort"
	"strings"
)

type rule struct {
	category Category
	pattern  *regexp.Regexp
}

// scanRules decide whether a value is blocked.
var scanRules = []rule{
	{URL, regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"]+`)},
	{Email, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{IP, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`)},
	{Date, regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])[/\-](?:0?[1-9]|[12]\d|3[01])[/\-]\d{4}\b`)},
	{Date, regexp.MustCompile(`\b\d{4}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])\b`)},
	{Date, regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b`)},
	{SSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{SSN, regexp.MustCompile(`\b\d{3} \d{2} \d{4}\b`)},
	{SSN, regexp.MustCompile(`\b\d{9}\b`)},
	{Phone, regexp.MustCompile(`(?:\+?1[\s.\-]?)?(?:\(\d{3}\)\s*|\b\d{3}[\s.\-])?\b\d{3}[\s.\-]\d{4}\b`)},
	{Phone, regexp.MustCompile(`\b\d{10}\b`)},
	{StreetAddress, regexp.MustCompile(`(?i)\b\d{1,6}[A-Za-z]?\s+(?:[A-Za-z0-9.'\-]+\s+){0,4}?(?:street|st|road|rd|avenue|ave|boulevard|blvd|lane|ln|drive|dr|court|ct|way|place|pl|terrace|highway|hwy|apt|apartment|suite|ste|unit)\b\.?`)},
	{NameTitle, regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr)\.`)},
	{NameTitle, regexp.MustCompile(`\b(?:Patient|Name|Address)\b`)},
	{NameTitle, regexp.MustCompile(`(?i)\b(?:patient|name|address)\s*:`)},
	{NameTitle, regexp.MustCompile(`(?i)\b(?:dob|ssn)\b`)},
}

// scrubRules extend scanRules for redaction: honorifics and labels take the
// following capitalized words with them, and zip codes are redacted.
var scrubRules = func() []rule {
	rules := make([]rule, 0, len(scanRules)+3)
	rules = append(rules,
		rule{NameTitle, regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr)\.(?:\s+[A-Z][A-Za-z'\-]+){0,3}`)},
		rule{NameTitle, regexp.MustCompile(`(?i:\b(?:patient|name)\s*:)(?:\s*[A-Z][A-Za-z'\-]+){0,3}`)},
	)
	rules = append(rules, scanRules...)
	return append(rules, rule{Zip, regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)})
}()

// Scan reports the categories present in value.
func Scan(value string) CategorySet {
	found := CategorySet{}
	if value == "" {
		return found
	}
	for _, r := range scanRules {
		if found.Has(r.category) {
			continue
		}
		if r.pattern.MatchString(value) {
			found.Add(r.category)
		}
	}
	return found
}

// ScanAll reports the union of categories present in values.
func ScanAll(values ...string) CategorySet {
	found := CategorySet{}
	for _, v := range values {
		found.Union(Scan(v))
	}
	return found
}

// Scrub replaces every identifier in text with [REDACTED:<category>] and
// returns the categories it removed. It is meant for display of clinical
// notes; the gate never uses scrubbed text as a substitute for blocking.
//
// Matches are collected against the original text so that a replacement
// token is never itself rescanned. Overlapping matches are merged and take
// the category of the earliest, longest match.
func Scrub(text string) (string, CategorySet) {
	removed := CategorySet{}
	var spans []span
	for prio, r := range scrubRules {
		for _, loc := range r.pattern.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			spans = append(spans, span{start: loc[0], end: loc[1], category: r.category, prio: prio})
		}
	}
	if len(spans) == 0 {
		return text, removed
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		if spans[i].end != spans[j].end {
			return spans[i].end > spans[j].end
		}
		return spans[i].prio < spans[j].prio
	})

	merged := []span{spans[0]}
	removed.Add(spans[0].category)
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		removed.Add(s.category)
		if s.start < last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, s := range merged {
		b.WriteString(text[prev:s.start])
		b.WriteString("[REDACTED:")
		b.WriteString(string(s.category))
		b.WriteString("]")
		prev = s.end
	}
	b.WriteString(text[prev:])
	return b.String(), removed
}

type span struct {
	start, end int
	category   Category
	prio       int
}
