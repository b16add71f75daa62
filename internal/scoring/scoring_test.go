package scoring

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

func TestChoicePoints(t *testing.T) {
	q := &model.Question{Variant: model.QuestionVariantChoice, Key: "B", Points: 4}

	tests := []struct {
		answer string
		want   int
	}{
		{"B", 4},
		{"", 0},
		{"C", 0},
		{"b", 0},
		{" B", 0},
	}
	for _, tt := range tests {
		if got := ChoicePoints(q, tt.answer); got != tt.want {
			t.Errorf("ChoicePoints(%q) = %d, want %d", tt.answer, got, tt.want)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		points, limit, want int
	}{
		{150, 100, 100},
		{-5, 100, 0},
		{42, 100, 42},
		{0, 0, 0},
		{3, -1, 0},
	}
	for _, tt := range tests {
		if got := Clamp(tt.points, tt.limit); got != tt.want {
			t.Errorf("Clamp(%d, %d) = %d, want %d", tt.points, tt.limit, got, tt.want)
		}
	}
}

func threeQuestionPaper() []model.Question {
	return []model.Question{
		{ID: uuid.New(), Ordinal: 1, Points: 10, Variant: model.QuestionVariantChoice, Key: "A"},
		{ID: uuid.New(), Ordinal: 2, Points: 10, Variant: model.QuestionVariantFreeText},
		{ID: uuid.New(), Ordinal: 3, Points: 10, Variant: model.QuestionVariantMultiPart, Parts: 2},
	}
}

func TestScoreMixedAssessment(t *testing.T) {
	qs := threeQuestionPaper()
	answers := []string{"A", "hello", `["x",""]`}

	b := Score(model.AssessmentKindMixed, qs, answers, nil)
	if b.AutoRaw != 10 || b.AutoMax != 10 {
		t.Fatalf("auto = %d/%d, want 10/10", b.AutoRaw, b.AutoMax)
	}
	if b.Pending != 2 || b.Combined != nil {
		t.Fatalf("pending = %d combined = %v; want 2 and nil", b.Pending, b.Combined)
	}

	manual := map[string]int{
		qs[1].ID.String(): 7,
		qs[2].ID.String(): 5,
	}
	b = Score(model.AssessmentKindMixed, qs, answers, manual)
	if b.ManualRaw != 12 || b.ManualMax != 20 {
		t.Fatalf("manual = %d/%d, want 12/20", b.ManualRaw, b.ManualMax)
	}
	if !b.Graded() {
		t.Fatal("expected fully graded")
	}
	if b.Combined == nil || *b.Combined != 73.33 {
		t.Fatalf("combined = %v, want 73.33", b.Combined)
	}

	again := Score(model.AssessmentKindMixed, qs, answers, manual)
	if *again.Combined != *b.Combined || again.ManualRaw != b.ManualRaw {
		t.Error("scoring is not deterministic")
	}
}

func TestScoreNonMixedHasNoCombined(t *testing.T) {
	qs := []model.Question{
		{ID: uuid.New(), Ordinal: 1, Points: 5, Variant: model.QuestionVariantChoice, Key: "C"},
		{ID: uuid.New(), Ordinal: 2, Points: 5, Variant: model.QuestionVariantChoice, Key: "D"},
	}
	b := Score(model.AssessmentKindChoice, qs, []string{"C", "A"}, nil)
	if b.AutoRaw != 5 || b.AutoMax != 10 {
		t.Errorf("auto = %d/%d", b.AutoRaw, b.AutoMax)
	}
	if b.Combined != nil {
		t.Error("combined should be nil for single-choice assessments")
	}
}

func TestScoreShortAnswerArray(t *testing.T) {
	qs := threeQuestionPaper()
	b := Score(model.AssessmentKindMixed, qs, nil, nil)
	if b.AutoRaw != 0 {
		t.Errorf("auto raw = %d, want 0", b.AutoRaw)
	}
	if len(b.Results) != 3 {
		t.Errorf("results = %d, want 3", len(b.Results))
	}
}

func TestScoreClampsStoredManualScores(t *testing.T) {
	qs := threeQuestionPaper()
	manual := map[string]int{
		qs[1].ID.String(): 150,
		qs[2].ID.String(): -5,
	}
	b := Score(model.AssessmentKindMixed, qs, []string{"", "", ""}, manual)
	if *b.Results[1].Points != 10 || *b.Results[2].Points != 0 {
		t.Errorf("points = %d, %d", *b.Results[1].Points, *b.Results[2].Points)
	}
}

func TestClampManual(t *testing.T) {
	qs := []model.Question{
		{ID: uuid.New(), Points: 100, Variant: model.QuestionVariantFreeText},
		{ID: uuid.New(), Points: 100, Variant: model.QuestionVariantMultiPart, Parts: 3},
		{ID: uuid.New(), Points: 10, Variant: model.QuestionVariantChoice, Key: "A"},
	}
	unknown := uuid.NewString()

	got, rejected := ClampManual(qs, map[string]int{
		qs[0].ID.String(): 150,
		qs[1].ID.String(): -5,
		qs[2].ID.String(): 10,
		unknown:           3,
	})

	if got[qs[0].ID.String()] != 100 {
		t.Errorf("150 clamped to %d, want 100", got[qs[0].ID.String()])
	}
	if got[qs[1].ID.String()] != 0 {
		t.Errorf("-5 clamped to %d, want 0", got[qs[1].ID.String()])
	}
	if _, ok := got[qs[2].ID.String()]; ok {
		t.Error("choice question must not take a manual score")
	}

	sort.Strings(rejected)
	want := []string{qs[2].ID.String(), unknown}
	sort.Strings(want)
	if len(rejected) != 2 || rejected[0] != want[0] || rejected[1] != want[1] {
		t.Errorf("rejected = %v, want %v", rejected, want)
	}
}
