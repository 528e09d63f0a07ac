package models

import (
	"strings"
	"time"
)

// ExclusionKind identifies which matching branch a rule belongs to.
type ExclusionKind string

const (
	ExcludeByID      ExclusionKind = "id"
	ExcludeByStreet  ExclusionKind = "street"
	ExcludeByAddress ExclusionKind = "address"
)

// ExclusionRule is a user-owned rule suppressing listings. The kind is not
// stored; it is derived from which fields are populated.
type ExclusionRule struct {
	ID                  string       `json:"id,omitempty"`
	Address             *RuleAddress `json:"address,omitempty"`
	Street              string       `json:"street,omitempty"`
	ExcludeEntireStreet bool         `json:"exclude_entire_street,omitempty"`
	Reason              string       `json:"reason,omitempty"`
	ExcludedAt          time.Time    `json:"excluded_at,omitempty"`
}

// RuleAddress is the address part of a by-address rule. Full is the
// "street number" string as entered by the user.
type RuleAddress struct {
	Street string `json:"street,omitempty"`
	Number string `json:"number,omitempty"`
	Full   string `json:"full,omitempty"`
}

// Kind derives the rule kind. ok is false for rules with none of the
// identifying fields set.
func (r *ExclusionRule) Kind() (kind ExclusionKind, ok bool) {
	switch {
	case strings.TrimSpace(r.ID) != "":
		return ExcludeByID, true
	case r.ExcludeEntireStreet && strings.TrimSpace(r.Street) != "":
		return ExcludeByStreet, true
	case r.Address != nil && (strings.TrimSpace(r.Address.Street) != "" || strings.TrimSpace(r.Address.Full) != ""):
		return ExcludeByAddress, true
	}
	return "", false
}

// Key is the identifier used by remove operations: the listing id, the
// street, or the full address depending on kind.
func (r *ExclusionRule) Key() string {
	kind, ok := r.Kind()
	if !ok {
		return ""
	}
	switch kind {
	case ExcludeByID:
		return strings.TrimSpace(r.ID)
	case ExcludeByStreet:
		return strings.TrimSpace(r.Street)
	default:
		if full := strings.TrimSpace(r.Address.Full); full != "" {
			return full
		}
		return strings.TrimSpace(strings.TrimSpace(r.Address.Street) + " " + strings.TrimSpace(r.Address.Number))
	}
}
