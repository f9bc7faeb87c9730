// Package token holds the immutable memory-token reference data: the
// catalog loaded at startup, normalized identifier lookup, and the scoring
// tables used to value a scan.
package token

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Token describes one discoverable item. Loaded once, never mutated.
type Token struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ValueRating int    `json:"valueRating"`
	MemoryType  string `json:"memoryType"`
	// Group carries the group name and completion multiplier in the
	// "Name (xN)" form used by the token authoring pipeline.
	Group     string `json:"group,omitempty"`
	Video     string `json:"video,omitempty"`
	Exclusive bool   `json:"exclusive,omitempty"`
}

var groupSuffix = regexp.MustCompile(`(?i)\s*\(x(\d+)\)\s*$`)

// GroupName returns the group name without the multiplier suffix, or ""
// when the token belongs to no group.
func (t Token) GroupName() string {
	return strings.TrimSpace(groupSuffix.ReplaceAllString(t.Group, ""))
}

// GroupMultiplier parses the "(xN)" suffix. Tokens without a parseable
// suffix fall back to x1, which makes the completion bonus zero.
func (t Token) GroupMultiplier() int {
	m := groupSuffix.FindStringSubmatch(t.Group)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Normalize maps a scanned identifier to its canonical lookup form:
// lowercase with spaces, hyphens, and underscores removed. Physical tags are
// hand-labelled, so "Server-Logs_01" and "server logs 01" must match.
func Normalize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range strings.ToLower(id) {
		switch r {
		case ' ', '-', '_':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ScoringConfig maps a token's rating and memory type to its point value.
type ScoringConfig struct {
	RatingValues    map[int]int
	TypeMultipliers map[string]float64
}

// DefaultScoring returns the production scoring tables.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		RatingValues: map[int]int{
			1: 100,
			2: 500,
			3: 1000,
			4: 5000,
			5: 10000,
		},
		TypeMultipliers: map[string]float64{
			"Personal":  1.0,
			"Business":  3.0,
			"Technical": 5.0,
		},
	}
}

// BaseValue computes rating value × type multiplier. Unknown ratings score
// as rating 1 and unknown memory types as ×1 rather than failing, so a
// mis-authored token still lands on the board.
func (c ScoringConfig) BaseValue(t Token) int {
	base, ok := c.RatingValues[t.ValueRating]
	if !ok {
		base = c.RatingValues[1]
	}
	mult, ok := c.TypeMultipliers[t.MemoryType]
	if !ok {
		mult = 1.0
	}
	return int(float64(base) * mult)
}

// Catalog is the in-memory token index: normalized id → token, plus the
// group membership lists needed for completion bonuses.
type Catalog struct {
	scoring ScoringConfig
	byID    map[string]Token
	groups  map[string][]Token
}

func NewCatalog(tokens []Token, scoring ScoringConfig) *Catalog {
	c := &Catalog{
		scoring: scoring,
		byID:    make(map[string]Token, len(tokens)),
		groups:  make(map[string][]Token),
	}
	for _, t := range tokens {
		c.byID[Normalize(t.ID)] = t
		if g := t.GroupName(); g != "" {
			c.groups[g] = append(c.groups[g], t)
		}
	}
	return c
}

// Load reads the catalog from a JSON array file.
func Load(path string, scoring ScoringConfig) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token catalog: %w", err)
	}
	var tokens []Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parsing token catalog %s: %w", path, err)
	}
	return NewCatalog(tokens, scoring), nil
}

// Lookup resolves a scanned identifier, tolerant of case and separators.
func (c *Catalog) Lookup(id string) (Token, bool) {
	t, ok := c.byID[Normalize(id)]
	return t, ok
}

// GroupMembers returns all tokens in the named group.
func (c *Catalog) GroupMembers(name string) []Token {
	return c.groups[name]
}

func (c *Catalog) BaseValue(t Token) int {
	return c.scoring.BaseValue(t)
}

func (c *Catalog) Len() int {
	return len(c.byID)
}
