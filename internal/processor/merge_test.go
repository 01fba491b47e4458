package processor

import (
	"testing"

	"github.com/google/uuid"

	apperrors "github.com/adverant/nexus/medscan/internal/errors"
	"github.com/adverant/nexus/medscan/internal/preprocess"
	"github.com/adverant/nexus/medscan/internal/scanner"
)

func TestCompareOutputs(t *testing.T) {
	testCases := []struct {
		name     string
		normal   []string
		advanced []string
		want     []string
	}{
		{"advanced has more words", []string{"cat"}, []string{"cat dog"}, []string{"cat dog"}},
		{"normal has more words", []string{"cat dog"}, []string{"cat"}, []string{"cat dog"}},
		{"tie favors normal", []string{"cat dog"}, []string{"bird fish"}, []string{"cat dog"}},
		{"both empty", []string{""}, []string{""}, []string{""}},
		{"whitespace only counts as zero", []string{"   \n"}, []string{"x"}, []string{"x"}},
		{
			"pairs by position",
			[]string{"one", "two words here", ""},
			[]string{"one more", "two", "recovered text"},
			[]string{"one more", "two words here", "recovered text"},
		},
		{"no images", nil, nil, []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CompareOutputs(tc.normal, tc.advanced)
			if err != nil {
				t.Fatalf("CompareOutputs() error = %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("CompareOutputs() = %q, want %q", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("result[%d] = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestCompareOutputsLengthMismatch(t *testing.T) {
	_, err := CompareOutputs([]string{"a", "b"}, []string{"a"})
	if !apperrors.IsCode(err, apperrors.ErrorAlignmentMismatch) {
		t.Fatalf("CompareOutputs() error = %v, want ALIGNMENT_MISMATCH", err)
	}
}

func TestMergeByID(t *testing.T) {
	refs := []scanner.ImageRef{
		{ID: scanner.ImageID("a.png"), Index: 1, Filename: "a.png"},
		{ID: scanner.ImageID("b.png"), Index: 2, Filename: "b.png"},
		{ID: scanner.ImageID("c.png"), Index: 3, Filename: "c.png"},
		{ID: scanner.ImageID("d.png"), Index: 4, Filename: "d.png"},
	}
	// Maps have no order; merging must follow refs regardless.
	normal := map[uuid.UUID]*OCRResult{
		refs[0].ID: {Text: "cat"},
		refs[1].ID: {Text: "cat dog"},
		refs[2].ID: {Text: "only normal"},
	}
	advanced := map[uuid.UUID]*OCRResult{
		refs[3].ID: {Text: "only advanced here"},
		refs[1].ID: {Text: "cat"},
		refs[0].ID: {Text: "cat dog"},
	}

	merged := MergeByID(refs, normal, advanced)
	if len(merged) != 4 {
		t.Fatalf("MergeByID() returned %d results, want 4", len(merged))
	}

	expected := []struct {
		text    string
		chosen  preprocess.Variant
		partial bool
	}{
		{"cat dog", preprocess.VariantAdvanced, false},
		{"cat dog", preprocess.VariantNormal, false},
		{"only normal", preprocess.VariantNormal, true},
		{"only advanced here", preprocess.VariantAdvanced, true},
	}
	for i, want := range expected {
		got := merged[i]
		if got.Ref.Index != i+1 {
			t.Errorf("merged[%d].Ref.Index = %d, want %d", i, got.Ref.Index, i+1)
		}
		if got.Text != want.text || got.Chosen != want.chosen || got.Partial != want.partial {
			t.Errorf("merged[%d] = {%q %s partial=%v}, want {%q %s partial=%v}",
				i, got.Text, got.Chosen, got.Partial, want.text, want.chosen, want.partial)
		}
	}
	if merged[0].NormalWords != 1 || merged[0].AdvancedWords != 2 {
		t.Errorf("word counts = %d/%d, want 1/2", merged[0].NormalWords, merged[0].AdvancedWords)
	}
}

func TestMergeByIDSkipsImagesWithoutResults(t *testing.T) {
	refs := []scanner.ImageRef{
		{ID: scanner.ImageID("a.png"), Index: 1},
		{ID: scanner.ImageID("b.png"), Index: 2},
	}
	normal := map[uuid.UUID]*OCRResult{refs[1].ID: {Text: "text"}}

	merged := MergeByID(refs, normal, nil)
	if len(merged) != 1 || merged[0].Ref.Index != 2 {
		t.Fatalf("MergeByID() = %+v, want only image 2", merged)
	}
}
