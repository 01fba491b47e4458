package ner

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/adverant/nexus/medscan/internal/textnorm"
)

//go:embed default_lexicon.json
var defaultLexicon []byte

// LexiconClassifier tags entities by longest match against a term list. It is
// the offline fallback when no NER service is configured.
type LexiconClassifier struct {
	terms    map[string]string // normalized term -> label
	maxWords int
}

// NewLexiconClassifier builds a classifier from label -> terms
func NewLexiconClassifier(lexicon map[string][]string) *LexiconClassifier {
	c := &LexiconClassifier{terms: make(map[string]string)}
	for label, terms := range lexicon {
		for _, term := range terms {
			key := textnorm.PostProcess(term)
			if key == "" {
				continue
			}
			c.terms[key] = label
			if n := textnorm.WordCount(key); n > c.maxWords {
				c.maxWords = n
			}
		}
	}
	return c
}

// DefaultLexiconClassifier uses the built-in chemical and disease term list
func DefaultLexiconClassifier() (*LexiconClassifier, error) {
	return parseLexicon(defaultLexicon)
}

// LoadLexiconClassifier reads a JSON object of label -> terms from path
func LoadLexiconClassifier(path string) (*LexiconClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon: %w", err)
	}
	return parseLexicon(data)
}

func parseLexicon(data []byte) (*LexiconClassifier, error) {
	var lexicon map[string][]string
	if err := json.Unmarshal(data, &lexicon); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	return NewLexiconClassifier(lexicon), nil
}

// Size returns the number of distinct terms
func (c *LexiconClassifier) Size() int {
	return len(c.terms)
}

// Classify scans text left to right and emits the longest known term at each
// position.
func (c *LexiconClassifier) Classify(ctx context.Context, text string) (*Entities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	keys := make([]string, len(words))
	for i, w := range words {
		keys[i] = textnorm.PostProcess(w)
	}

	var spans []Span
	for i := 0; i < len(words); {
		matched := 0
		for n := min(c.maxWords, len(words)-i); n > 0; n-- {
			label, ok := c.terms[strings.Join(keys[i:i+n], " ")]
			if ok {
				spans = append(spans, Span{Text: strings.Join(words[i:i+n], " "), Label: label})
				matched = n
				break
			}
		}
		if matched == 0 {
			matched = 1
		}
		i += matched
	}

	return FromSpans(spans), nil
}
