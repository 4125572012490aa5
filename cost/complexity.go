package cost

import (
	"strings"
)

// Complexity is the estimated difficulty of a query.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Analysis phrases that call for the strongest tier.
var complexIndicators = []string{
	"compare", "explain why", "analyze", "analyse", "differential",
	"pros and cons", "trade-off", "contraindicat", "mechanism",
}

// Medical terminology that rules out the cheapest tier.
var medicalTerms = []string{
	"diagnosis", "symptom", "treatment", "medication", "disease",
	"condition", "prescription", "dosage", "side effect",
}

// ClassifyComplexity grades a query from its length and vocabulary.
//
// Classification rules (in order of priority):
//  1. Complex: analysis indicators, or more than 50 words
//  2. Moderate: medical terminology, how/why questions, or more than 20 words
//  3. Simple: everything else
func ClassifyComplexity(query string) Complexity {
	q := strings.ToLower(query)
	wc := len(strings.Fields(query))

	if wc > 50 || containsAny(q, complexIndicators) {
		return ComplexityComplex
	}
	if wc > 20 || containsAny(q, medicalTerms) ||
		strings.HasPrefix(q, "how ") || strings.HasPrefix(q, "why ") {
		return ComplexityModerate
	}
	return ComplexitySimple
}

// HasMedicalTerms reports whether the query uses clinical vocabulary.
func HasMedicalTerms(query string) bool {
	return containsAny(strings.ToLower(query), medicalTerms)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
