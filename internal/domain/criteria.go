package domain

import "strings"

// Criterion is one rating dimension on the 1..5 star scale.
type Criterion struct {
	Key   string
	Label string
}

// CriteriaSet is the ordered, fixed set of criteria a full vote covers.
type CriteriaSet []Criterion

// DefaultCriteria is the reference set of five dimensions.
var DefaultCriteria = CriteriaSet{
	{Key: "reputation", Label: "Institutional reputation and academic credibility"},
	{Key: "training_offer", Label: "Quality and diversity of the training offer"},
	{Key: "governance", Label: "Governance, leadership and institutional strategy"},
	{Key: "societal_impact", Label: "Research, employability and societal impact"},
	{Key: "student_experience", Label: "Attractiveness and student experience"},
}

// Len is the number of rows written by one full vote.
func (c CriteriaSet) Len() int {
	return len(c)
}

// Has reports whether key belongs to the set.
func (c CriteriaSet) Has(key string) bool {
	for _, criterion := range c {
		if criterion.Key == key {
			return true
		}
	}
	return false
}

// Label returns the display label for key. Unknown keys are title-cased.
func (c CriteriaSet) Label(key string) string {
	for _, criterion := range c {
		if criterion.Key == key {
			return criterion.Label
		}
	}
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

// Keys returns the criterion keys in set order.
func (c CriteriaSet) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, criterion := range c {
		keys = append(keys, criterion.Key)
	}
	return keys
}
