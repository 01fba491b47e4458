package ner

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLexiconClassifier(t *testing.T) {
	c := NewLexiconClassifier(map[string][]string{
		LabelChemical: {"Cisplatin", "sodium chloride", "sodium"},
		LabelDisease:  {"nephrotoxicity", "type 2 diabetes", "diabetes"},
		"GENE":        {"brca1"},
	})

	testCases := []struct {
		name      string
		text      string
		chemicals []string
		diseases  []string
	}{
		{
			"order and duplicates kept",
			"cisplatin caused nephrotoxicity then cisplatin was stopped",
			[]string{"cisplatin", "cisplatin"},
			[]string{"nephrotoxicity"},
		},
		{
			"longest match wins",
			"patient with type 2 diabetes given sodium chloride and sodium",
			[]string{"sodium chloride", "sodium"},
			[]string{"type 2 diabetes"},
		},
		{
			"other labels dropped",
			"brca1 mutation",
			[]string{},
			[]string{},
		},
		{
			"empty text",
			"",
			[]string{},
			[]string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Classify(context.Background(), tc.text)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if !reflect.DeepEqual(got.Chemicals, tc.chemicals) {
				t.Errorf("Chemicals = %q, want %q", got.Chemicals, tc.chemicals)
			}
			if !reflect.DeepEqual(got.Diseases, tc.diseases) {
				t.Errorf("Diseases = %q, want %q", got.Diseases, tc.diseases)
			}
		})
	}
}

func TestLexiconClassifierCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLexiconClassifier(nil).Classify(ctx, "aspirin"); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestDefaultLexicon(t *testing.T) {
	c, err := DefaultLexiconClassifier()
	if err != nil {
		t.Fatalf("DefaultLexiconClassifier() error = %v", err)
	}
	if c.Size() < 100 {
		t.Errorf("default lexicon has only %d terms", c.Size())
	}

	got, err := c.Classify(context.Background(), "take aspirin 100 mg daily for hypertension and type 2 diabetes")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !reflect.DeepEqual(got.Chemicals, []string{"aspirin"}) {
		t.Errorf("Chemicals = %q", got.Chemicals)
	}
	if !reflect.DeepEqual(got.Diseases, []string{"hypertension", "type 2 diabetes"}) {
		t.Errorf("Diseases = %q", got.Diseases)
	}
}

func TestLoadLexiconClassifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.json")
	if err := os.WriteFile(path, []byte(`{"CHEMICAL":["caffeine"],"DISEASE":["jet lag"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadLexiconClassifier(path)
	if err != nil {
		t.Fatalf("LoadLexiconClassifier() error = %v", err)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}

	if err := os.WriteFile(path, []byte(`["not", "an", "object"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLexiconClassifier(path); err == nil {
		t.Errorf("expected parse error")
	}
}

func TestFromSpans(t *testing.T) {
	got := FromSpans([]Span{
		{Text: "aspirin", Label: LabelChemical},
		{Text: "fever", Label: LabelDisease},
		{Text: "patient", Label: "ENTITY"},
		{Text: "aspirin", Label: LabelChemical},
	})
	if !reflect.DeepEqual(got.Chemicals, []string{"aspirin", "aspirin"}) {
		t.Errorf("Chemicals = %q", got.Chemicals)
	}
	if !reflect.DeepEqual(got.Diseases, []string{"fever"}) {
		t.Errorf("Diseases = %q", got.Diseases)
	}
}
