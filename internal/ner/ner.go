// Package ner tags chemical and disease mentions in normalized OCR text.
package ner

import "context"

// Labels kept from the classifier output
const (
	LabelChemical = "CHEMICAL"
	LabelDisease  = "DISEASE"
)

// Span is one entity emitted by a classifier
type Span struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Entities holds the chemical and disease spans of one text, in emission
// order, duplicates included.
type Entities struct {
	Chemicals []string `json:"chemicals"`
	Diseases  []string `json:"diseases"`
}

// Classifier extracts entities from text
type Classifier interface {
	Classify(ctx context.Context, text string) (*Entities, error)
}

// FromSpans keeps the CHEMICAL and DISEASE spans, preserving order. Every
// matching span is kept verbatim.
func FromSpans(spans []Span) *Entities {
	ents := &Entities{Chemicals: []string{}, Diseases: []string{}}
	for _, s := range spans {
		switch s.Label {
		case LabelChemical:
			ents.Chemicals = append(ents.Chemicals, s.Text)
		case LabelDisease:
			ents.Diseases = append(ents.Diseases, s.Text)
		}
	}
	return ents
}
