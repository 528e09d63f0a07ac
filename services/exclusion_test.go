package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"listing-watcher/models"
)

func at(street, number string) models.Listing {
	return models.Listing{
		ID:      street + number,
		Address: models.Address{Street: street, Number: number, Neighborhood: "הצפון החדש - צפון"},
	}
}

func addressRule(street, number string) models.ExclusionRule {
	return models.ExclusionRule{Address: &models.RuleAddress{Street: street, Number: number, Full: street + " " + number}}
}

func streetRule(street string) models.ExclusionRule {
	return models.ExclusionRule{Street: street, ExcludeEntireStreet: true}
}

func TestMatcherAddressRule(t *testing.T) {
	m := NewMatcher([]models.ExclusionRule{addressRule("פנקס", "67")}, nil)

	tests := []struct {
		name    string
		listing models.Listing
		want    bool
	}{
		{"exact", at("פנקס", "67"), true},
		{"padded", at("  פנקס ", " 67 "), true},
		{"other number", at("פנקס", "68"), false},
		{"other street", at("ארלוזורוב", "67"), false},
		{"empty street", at("", "67"), false},
		{"blank street", at("   ", "67"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.IsExcluded(tt.listing))
		})
	}
}

func TestMatcherAddressRuleWithPrefixedStreet(t *testing.T) {
	m := NewMatcher([]models.ExclusionRule{{Address: &models.RuleAddress{Street: "פנקס", Number: "67"}}}, nil)

	assert.True(t, m.IsExcluded(at("רחוב פנקס", "67")))
	assert.False(t, m.IsExcluded(at("רחוב פנקס", "68")))
}

func TestMatcherWholeStreetRule(t *testing.T) {
	m := NewMatcher([]models.ExclusionRule{streetRule("ויסוצקי"), streetRule(" הירקון ")}, nil)

	tests := []struct {
		name    string
		listing models.Listing
		want    bool
	}{
		{"any number", at("ויסוצקי", "6"), true},
		{"no number", at("ויסוצקי", ""), true},
		{"extra whitespace", at("  ויסוצקי  ", "12"), true},
		{"padded rule", at("הירקון", "288"), true},
		{"unrelated street", at("אבן גבירול", "288"), false},
		{"missing street", at("", "6"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.IsExcluded(tt.listing))
		})
	}
}

func TestMatcherStreetRuleSearchesTextFields(t *testing.T) {
	m := NewMatcher([]models.ExclusionRule{streetRule("הירקון")}, nil)

	inTitle := at("בן יהודה", "10")
	inTitle.Title = "דירה ליד   הירקון"
	assert.True(t, m.IsExcluded(inTitle))

	inDescription := at("בן יהודה", "10")
	inDescription.Description = "שתי דקות מהירקון והים"
	assert.True(t, m.IsExcluded(inDescription))

	noAddress := models.Listing{ID: "1", Title: "דירה בהירקון"}
	assert.False(t, m.IsExcluded(noAddress), "listings without a street are never matched by street")
}

func TestMatcherIDRule(t *testing.T) {
	m := NewMatcher([]models.ExclusionRule{{ID: "abc123"}}, nil)

	match, ok := m.Match(models.Listing{ID: "abc123"})
	assert.True(t, ok)
	assert.Equal(t, models.ExcludeByID, match.Kind)
	assert.False(t, m.IsExcluded(models.Listing{ID: "abc124"}))
}

func TestMatcherOrderAndUnusableRules(t *testing.T) {
	rules := []models.ExclusionRule{
		{Reason: "nothing set"},
		{Street: "הירקון"},
		addressRule("הירקון", "288"),
		streetRule("הירקון"),
		{ID: "x1"},
	}
	m := NewMatcher(rules, nil)
	assert.Equal(t, 3, m.Len())

	match, ok := m.Match(models.Listing{ID: "x1", Address: models.Address{Street: "הירקון", Number: "288"}})
	assert.True(t, ok)
	assert.Equal(t, models.ExcludeByID, match.Kind)

	match, ok = m.Match(at("הירקון", "288"))
	assert.True(t, ok)
	assert.Equal(t, models.ExcludeByStreet, match.Kind)
}

func TestMatcherCaseInsensitive(t *testing.T) {
	m := NewMatcher([]models.ExclusionRule{addressRule("Rothschild", "5")}, nil)
	assert.True(t, m.IsExcluded(at("ROTHSCHILD", "5")))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "הירקון 288", normalize("  הירקון \t 288 "))
	assert.Equal(t, "", normalize("   "))
}
