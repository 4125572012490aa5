package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"maximum", "daily", "dose", "ibuprofen"},
		Tokenize("What is the maximum daily dose of Ibuprofen?"))
	assert.Empty(t, Tokenize("the a an"))
	assert.Empty(t, Tokenize(""))
}

func TestContainsAllWords(t *testing.T) {
	doc := "The maximum daily dose of ibuprofen for adults is 1200 mg."
	assert.True(t, ContainsAllWords(doc, "ibuprofen dose"))
	assert.False(t, ContainsAllWords(doc, "ibuprofen children"))
	assert.False(t, ContainsAllWords(doc, "the of"))
}

func TestCoverage(t *testing.T) {
	assert.InDelta(t, 0.5, Coverage("ibuprofen dose", "ibuprofen tablets"), 1e-9)
	assert.InDelta(t, 1.0, Coverage("Dose!", "dose"), 1e-9)
	assert.Zero(t, Coverage("", "anything"))
}

func TestContainsPhrase(t *testing.T) {
	assert.True(t, ContainsPhrase("Patients with Heart Failure, often", "heart failure"))
	assert.False(t, ContainsPhrase("failure of the heart", "heart failure"))
	assert.False(t, ContainsPhrase("heartfailure", "heart failure"))
	assert.False(t, ContainsPhrase("anything", ""))
}
