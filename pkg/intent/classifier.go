// Package intent decides whether an assistant reply implies that a structured
// adjustment request should be created. Acting on it is left to the client.
package intent

import "strings"

// Classifier inspects an assistant reply.
type Classifier interface {
	Classify(text string) bool
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(text string) bool

func (f ClassifierFunc) Classify(text string) bool { return f(text) }

// DefaultKeywords are matched when no phrases are configured.
var DefaultKeywords = []string{"create adjustment", "new adjustment"}

// KeywordClassifier matches any phrase as a case-insensitive substring.
type KeywordClassifier struct {
	phrases []string
}

func NewKeywordClassifier(phrases ...string) *KeywordClassifier {
	if len(phrases) == 0 {
		phrases = DefaultKeywords
	}
	k := &KeywordClassifier{}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			k.phrases = append(k.phrases, p)
		}
	}
	return k
}

func (k *KeywordClassifier) Classify(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range k.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Never is the classifier used when intent detection is disabled.
var Never = ClassifierFunc(func(string) bool { return false })
