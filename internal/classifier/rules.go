package classifier

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"budget/internal/core"
)

// DefaultTransferPatterns match source categories used by common exports for moves between own accounts.
var DefaultTransferPatterns = []string{
	"virement interne",
	"virements internes",
	"transfert interne",
	"internal transfer",
	"transfer between accounts",
	"mouvements internes",
}

// Rules holds local classification settings loaded from YAML.
type Rules struct {
	// TransferPatterns are case-insensitive substrings of the source category or
	// subcategory that mark a transaction as an internal transfer.
	TransferPatterns []string `yaml:"transfer_patterns,omitempty"`

	// ExtraSubcategories extends the built-in allow-lists, keyed by category name.
	ExtraSubcategories map[string][]string `yaml:"extra_subcategories,omitempty"`

	patterns []string `yaml:"-"`
}

// DefaultRules uses DefaultTransferPatterns and no taxonomy extensions.
func DefaultRules() *Rules {
	r := &Rules{TransferPatterns: append([]string(nil), DefaultTransferPatterns...)}
	r.compile()
	return r
}

// LoadRules reads a rules file. An empty path returns DefaultRules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules. Omitting transfer_patterns keeps the defaults.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	if r.TransferPatterns == nil {
		r.TransferPatterns = append([]string(nil), DefaultTransferPatterns...)
	}
	r.compile()
	if _, err := r.Taxonomy(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) compile() {
	r.patterns = r.patterns[:0]
	for _, p := range r.TransferPatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			r.patterns = append(r.patterns, p)
		}
	}
}

// IsInternalTransfer reports whether the source category or subcategory matches a transfer pattern.
func (r *Rules) IsInternalTransfer(t core.ParsedTransaction) bool {
	if r == nil {
		return false
	}
	cat := strings.ToLower(t.SourceCategory)
	sub := strings.ToLower(t.SourceSubcategory)
	for _, p := range r.patterns {
		if strings.Contains(cat, p) || strings.Contains(sub, p) {
			return true
		}
	}
	return false
}

// Taxonomy returns the default taxonomy extended with ExtraSubcategories.
func (r *Rules) Taxonomy() (core.Taxonomy, error) {
	base := core.DefaultTaxonomy()
	if r == nil || len(r.ExtraSubcategories) == 0 {
		return base, nil
	}
	extra := make(map[core.Category][]string, len(r.ExtraSubcategories))
	for name, subs := range r.ExtraSubcategories {
		c, err := core.ParseCategory(name)
		if err != nil {
			return core.Taxonomy{}, fmt.Errorf("rules: %w", err)
		}
		extra[c] = append(extra[c], subs...)
	}
	tax, err := base.WithExtra(extra)
	if err != nil {
		return core.Taxonomy{}, fmt.Errorf("rules: %w", err)
	}
	return tax, nil
}
