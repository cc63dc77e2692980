package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Category is one of the five budget buckets. The zero value means "not yet categorized".
type Category string

const (
	Uncategorized Category = ""
	Income        Category = "INCOME"
	Core          Category = "CORE"
	Choice        Category = "CHOICE"
	Compound      Category = "COMPOUND"
	Excluded      Category = "EXCLUDED"
)

// Categories lists the closed set in display order.
var Categories = []Category{Income, Core, Choice, Compound, Excluded}

var (
	ErrUnknownCategory       = errors.New("unknown category")
	ErrSubcategoryNotAllowed = errors.New("subcategory not allowed for category")
)

// ParseCategory matches a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if slices.Contains(Categories, c) {
		return c, nil
	}
	return Uncategorized, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Taxonomy maps each category to the subcategories a classifier may assign to it.
// EXCLUDED has no subcategories.
type Taxonomy struct {
	subcategories map[Category][]string
}

// DefaultTaxonomy returns the built-in allow-lists.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{subcategories: map[Category][]string{
		Income: {
			"Salary", "Bonus", "Freelance", "Benefits", "Refunds", "Other income",
		},
		Core: {
			"Housing", "Utilities", "Groceries", "Transport", "Health", "Insurance",
			"Taxes", "Childcare", "Education", "Bank fees", "Telecom",
		},
		Choice: {
			"Restaurants", "Entertainment", "Shopping", "Travel", "Subscriptions",
			"Gifts", "Hobbies", "Personal care", "Other purchases",
		},
		Compound: {
			"Savings", "Investments", "Retirement", "Debt repayment",
		},
		Excluded: {},
	}}
}

// WithExtra returns a copy of t extended with additional subcategories. EXCLUDED cannot be extended.
func (t Taxonomy) WithExtra(extra map[Category][]string) (Taxonomy, error) {
	out := Taxonomy{subcategories: make(map[Category][]string, len(t.subcategories))}
	for c, subs := range t.subcategories {
		out.subcategories[c] = slices.Clone(subs)
	}
	for c, subs := range extra {
		if !slices.Contains(Categories, c) {
			return Taxonomy{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
		}
		if c == Excluded && len(subs) > 0 {
			return Taxonomy{}, fmt.Errorf("category %s takes no subcategories", Excluded)
		}
		for _, s := range subs {
			s = strings.TrimSpace(s)
			if s != "" && !slices.Contains(out.subcategories[c], s) {
				out.subcategories[c] = append(out.subcategories[c], s)
			}
		}
	}
	return out, nil
}

// Subcategories returns the allow-list for c.
func (t Taxonomy) Subcategories(c Category) []string {
	return slices.Clone(t.subcategories[c])
}

// Validate checks a classifier's raw answer and returns the canonical category and subcategory.
// Subcategory matching is case-insensitive; the canonical spelling is returned.
func (t Taxonomy) Validate(category, subcategory string) (Category, string, error) {
	c, err := ParseCategory(category)
	if err != nil {
		return Uncategorized, "", err
	}
	sub := strings.TrimSpace(subcategory)
	if c == Excluded {
		if sub != "" {
			return Uncategorized, "", fmt.Errorf("%w: %q under %s", ErrSubcategoryNotAllowed, sub, c)
		}
		return c, "", nil
	}
	for _, allowed := range t.subcategories[c] {
		if strings.EqualFold(allowed, sub) {
			return c, allowed, nil
		}
	}
	return Uncategorized, "", fmt.Errorf("%w: %q under %s", ErrSubcategoryNotAllowed, sub, c)
}
