package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"listing-watcher/models"
	"listing-watcher/utils"
)

// ExclusionsFile is the file name of the exclusion rule list.
const ExclusionsFile = "exclusions.json"

// JSONRuleStore keeps exclusion rules as a JSON array. Entries it cannot
// understand are skipped when matching but written back untouched, so a
// hand-edited file never loses data through the management commands.
type JSONRuleStore struct {
	path   string
	logger *utils.Logger
	now    func() time.Time
}

// NewJSONRuleStore returns a rule store backed by the file at path.
func NewJSONRuleStore(path string, logger *utils.Logger) *JSONRuleStore {
	return &JSONRuleStore{path: path, logger: logger, now: time.Now}
}

func (s *JSONRuleStore) readRaw() ([]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("exclusions: read %q: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("exclusions: decode %q: %w", s.path, err)
	}
	return raw, nil
}

func (s *JSONRuleStore) writeRaw(raw []json.RawMessage) error {
	if raw == nil {
		raw = []json.RawMessage{}
	}
	data, err := marshalIndented(raw)
	if err != nil {
		return fmt.Errorf("exclusions: encode: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("exclusions: save %q: %w", s.path, err)
	}
	return nil
}

func decodeRule(raw json.RawMessage) (models.ExclusionRule, error) {
	var rule models.ExclusionRule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return rule, err
	}
	if _, ok := rule.Kind(); !ok {
		return rule, errors.New("rule has no id, street or address")
	}
	return rule, nil
}

// Rules returns every well-formed rule in file order. An unreadable file
// yields no rules.
func (s *JSONRuleStore) Rules() []models.ExclusionRule {
	raw, err := s.readRaw()
	if err != nil {
		s.logger.Warn("[exclusions] could not load rules, nothing will be excluded", "error", err)
		return nil
	}

	rules := make([]models.ExclusionRule, 0, len(raw))
	for i, entry := range raw {
		rule, err := decodeRule(entry)
		if err != nil {
			s.logger.Warn("[exclusions] skipping malformed rule", "index", i, "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// AddID excludes a single listing by id.
func (s *JSONRuleStore) AddID(id, reason string) (models.ExclusionRule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.ExclusionRule{}, errors.New("exclusions: id must not be empty")
	}
	return s.add(models.ExclusionRule{ID: id, Reason: reason})
}

// AddAddress excludes one building. number may be empty to cover every
// number on the street that matches the address branch.
func (s *JSONRuleStore) AddAddress(street, number, reason string) (models.ExclusionRule, error) {
	street, number = strings.TrimSpace(street), strings.TrimSpace(number)
	if street == "" {
		return models.ExclusionRule{}, errors.New("exclusions: street must not be empty")
	}
	return s.add(models.ExclusionRule{
		Address: &models.RuleAddress{
			Street: street,
			Number: number,
			Full:   strings.TrimSpace(street + " " + number),
		},
		Reason: reason,
	})
}

// AddStreet excludes every listing that mentions the street.
func (s *JSONRuleStore) AddStreet(street, reason string) (models.ExclusionRule, error) {
	street = strings.TrimSpace(street)
	if street == "" {
		return models.ExclusionRule{}, errors.New("exclusions: street must not be empty")
	}
	return s.add(models.ExclusionRule{Street: street, ExcludeEntireStreet: true, Reason: reason})
}

func (s *JSONRuleStore) add(rule models.ExclusionRule) (models.ExclusionRule, error) {
	raw, err := s.readRaw()
	if err != nil {
		return rule, err
	}

	kind, _ := rule.Kind()
	for _, entry := range raw {
		existing, err := decodeRule(entry)
		if err != nil {
			continue
		}
		if k, _ := existing.Kind(); k == kind && sameKey(existing.Key(), rule.Key()) {
			return existing, fmt.Errorf("exclusions: %s %q: %w", kind, rule.Key(), ErrDuplicateRule)
		}
	}

	rule.ExcludedAt = s.now()
	encoded, err := json.Marshal(rule)
	if err != nil {
		return rule, fmt.Errorf("exclusions: encode rule: %w", err)
	}
	if err := s.writeRaw(append(raw, encoded)); err != nil {
		return rule, err
	}

	s.logger.Info("[exclusions] rule added", "kind", kind, "key", rule.Key(), "reason", rule.Reason)
	return rule, nil
}

// Remove deletes every rule whose key matches and returns the first one
// removed.
func (s *JSONRuleStore) Remove(key string) (models.ExclusionRule, error) {
	raw, err := s.readRaw()
	if err != nil {
		return models.ExclusionRule{}, err
	}

	var (
		removed models.ExclusionRule
		found   bool
		kept    = make([]json.RawMessage, 0, len(raw))
	)
	for _, entry := range raw {
		rule, err := decodeRule(entry)
		if err == nil && sameKey(rule.Key(), key) {
			if !found {
				removed = rule
			}
			found = true
			continue
		}
		kept = append(kept, entry)
	}

	if !found {
		return removed, fmt.Errorf("exclusions: %q: %w", key, ErrRuleNotFound)
	}
	if err := s.writeRaw(kept); err != nil {
		return removed, err
	}

	s.logger.Info("[exclusions] rule removed", "key", key)
	return removed, nil
}

func sameKey(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}
