// Package textutil holds the word-level text helpers shared by retrieval,
// routing, cost estimation and evaluation.
package textutil

import "strings"

// Stop words to filter out when comparing texts word by word
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "what": true, "which": true, "how": true,
	"or": true, "can": true, "i": true, "my": true, "me": true, "should": true,
	"does": true, "there": true, "any": true,
}

// Normalize lowercases a word and trims surrounding punctuation.
func Normalize(word string) string {
	return strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
}

// Words splits text on whitespace and normalizes each word, keeping stop words.
func Words(text string) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for _, field := range fields {
		if w := Normalize(field); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// Tokenize splits text into words, lowercases, trims punctuation, and removes stop words
func Tokenize(text string) []string {
	words := Words(text)
	filtered := words[:0]
	for _, word := range words {
		if !stopWords[word] {
			filtered = append(filtered, word)
		}
	}
	return filtered
}

// WordSet returns the distinct non-stop words of text.
func WordSet(text string) map[string]struct{} {
	words := Tokenize(text)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// ContainsAllWords checks if all query words (after filtering) appear in the document
func ContainsAllWords(document, query string) bool {
	queryWords := Tokenize(query)
	if len(queryWords) == 0 {
		return false
	}

	docWords := WordSet(document)
	for _, qWord := range queryWords {
		if _, ok := docWords[qWord]; !ok {
			return false
		}
	}

	return true
}

// Coverage returns the fraction of distinct non-stop words of want that also
// appear in have. It returns 0 when want has no such words.
func Coverage(want, have string) float64 {
	wantSet := WordSet(want)
	if len(wantSet) == 0 {
		return 0
	}
	haveSet := WordSet(have)
	hits := 0
	for w := range wantSet {
		if _, ok := haveSet[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(wantSet))
}

// ContainsPhrase reports whether text contains phrase as whole words,
// ignoring case and punctuation. Multi-word phrases must appear in order.
func ContainsPhrase(text, phrase string) bool {
	needle := Words(phrase)
	if len(needle) == 0 {
		return false
	}
	hay := Words(text)
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j, w := range needle {
			if hay[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
