package services

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"listing-watcher/models"
	"listing-watcher/utils"
)

// Match describes which rule excluded a listing.
type Match struct {
	Kind models.ExclusionKind
	Rule models.ExclusionRule
}

// Matcher evaluates exclusion rules against listings. Rules are checked by
// kind in a fixed order (id, street, address) and the first hit wins.
// Street rules match as substrings of the street, the full address, the
// title, the description and the neighborhood.
type Matcher struct {
	byID      []models.ExclusionRule
	byStreet  []models.ExclusionRule
	byAddress []models.ExclusionRule
}

// NewMatcher partitions rules by kind. Rules without a usable kind are
// skipped with a warning.
func NewMatcher(rules []models.ExclusionRule, logger *utils.Logger) *Matcher {
	m := &Matcher{}
	for i, r := range rules {
		kind, ok := r.Kind()
		if !ok {
			if logger != nil {
				logger.Warn("[exclusions] skipping rule without id, street or address", "index", i)
			}
			continue
		}
		switch kind {
		case models.ExcludeByID:
			m.byID = append(m.byID, r)
		case models.ExcludeByStreet:
			m.byStreet = append(m.byStreet, r)
		case models.ExcludeByAddress:
			m.byAddress = append(m.byAddress, r)
		}
	}
	return m
}

// Len is the number of usable rules.
func (m *Matcher) Len() int {
	return len(m.byID) + len(m.byStreet) + len(m.byAddress)
}

// IsExcluded reports whether any rule matches the listing.
func (m *Matcher) IsExcluded(l models.Listing) bool {
	_, ok := m.Match(l)
	return ok
}

// Match returns the first matching rule.
func (m *Matcher) Match(l models.Listing) (Match, bool) {
	id := strings.TrimSpace(l.ID)
	for _, r := range m.byID {
		if id != "" && strings.TrimSpace(r.ID) == id {
			return Match{Kind: models.ExcludeByID, Rule: r}, true
		}
	}

	street := normalize(l.Address.Street)
	if street == "" {
		// Unknown address: only id rules may apply.
		return Match{}, false
	}
	number := normalize(l.Address.Number)
	spaced := strings.TrimSpace(street + " " + number)
	joined := street + number

	fields := []string{
		street,
		spaced,
		joined,
		normalize(l.Title),
		normalize(l.Description),
		normalize(l.Address.Neighborhood),
	}
	for _, r := range m.byStreet {
		needle := normalize(r.Street)
		if needle == "" {
			continue
		}
		for _, f := range fields {
			if f != "" && strings.Contains(f, needle) {
				return Match{Kind: models.ExcludeByStreet, Rule: r}, true
			}
		}
	}

	for _, r := range m.byAddress {
		if addressMatches(r.Address, street, number, spaced, joined) {
			return Match{Kind: models.ExcludeByAddress, Rule: r}, true
		}
	}
	return Match{}, false
}

func addressMatches(a *models.RuleAddress, street, number, spaced, joined string) bool {
	ruleFull := normalize(a.Full)
	if ruleFull != "" && (ruleFull == spaced || ruleFull == joined) {
		return true
	}

	ruleStreet := normalize(a.Street)
	if ruleStreet == "" {
		return false
	}
	ruleNumber := normalize(a.Number)
	numberOK := ruleNumber == "" || ruleNumber == number

	if ruleStreet == street && numberOK {
		return true
	}
	// Streets recorded with extra words ("רחוב פנקס") still match, number permitting.
	return numberOK && strings.Contains(spaced, ruleStreet)
}

// normalize trims, lower-cases and collapses inner whitespace. NFC keeps
// Hebrew text with combining marks comparable byte-for-byte.
func normalize(s string) string {
	s = norm.NFC.String(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
