package answer

import (
	"reflect"
	"testing"

	"github.com/stemsi/exstem-session/internal/model"
)

func TestDecodeParts(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		n       int
		want    []string
		wantErr bool
	}{
		{"empty raw", "", 3, []string{"", "", ""}, false},
		{"exact", `["a","b"]`, 2, []string{"a", "b"}, false},
		{"pads short", `["a"]`, 3, []string{"a", "", ""}, false},
		{"truncates long", `["a","b","c"]`, 2, []string{"a", "b"}, false},
		{"garbage", `not-json`, 2, []string{"", ""}, true},
		{"object", `{"a":1}`, 1, []string{""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeParts(tt.raw, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetPartKeepsEarlierParts(t *testing.T) {
	raw := ""
	var err error
	for i, v := range []string{"x", "y", "z"} {
		raw, err = SetPart(raw, 3, i, v)
		if err != nil {
			t.Fatalf("SetPart(%d): %v", i, err)
		}
	}
	if raw != `["x","y","z"]` {
		t.Fatalf("raw = %s", raw)
	}

	raw, err = SetPart(raw, 3, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if raw != `["x","","z"]` {
		t.Errorf("raw = %s", raw)
	}

	if _, err := SetPart(raw, 3, 3, "bad"); err == nil {
		t.Error("expected out of range error")
	}
}

func TestSetPartRepairsCorruptSlot(t *testing.T) {
	raw, err := SetPart("{broken", 2, 1, "b")
	if err != nil {
		t.Fatal(err)
	}
	if raw != `["","b"]` {
		t.Errorf("raw = %s", raw)
	}
}

func TestAnswered(t *testing.T) {
	choice := &model.Question{Variant: model.QuestionVariantChoice}
	free := &model.Question{Variant: model.QuestionVariantFreeText}
	multi := &model.Question{Variant: model.QuestionVariantMultiPart, Parts: 5}

	tests := []struct {
		name string
		q    *model.Question
		raw  string
		want bool
	}{
		{"choice set", choice, "B", true},
		{"choice empty", choice, "", false},
		{"choice whitespace", choice, "   ", false},
		{"free text", free, "hello", true},
		{"free text blank", free, "\n\t", false},
		{"multi one of five", multi, `["","","x","",""]`, true},
		{"multi five empty", multi, `["","","","",""]`, false},
		{"multi whitespace only", multi, `[" ","","","",""]`, false},
		{"multi unparseable", multi, `["x",`, false},
		{"multi empty slot", multi, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Answered(tt.q, tt.raw); got != tt.want {
				t.Errorf("Answered(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	qs := []model.Question{
		{Variant: model.QuestionVariantChoice},
		{Variant: model.QuestionVariantFreeText},
		{Variant: model.QuestionVariantMultiPart, Parts: 2},
	}

	if !Complete(qs, []string{"A", "hello", `["x",""]`}) {
		t.Error("expected complete")
	}
	if Complete(qs, []string{"A", "", `["x",""]`}) {
		t.Error("expected incomplete with blank free text")
	}
	if Complete(qs, []string{"A", "hello"}) {
		t.Error("expected incomplete with missing slot")
	}
	if got := Unanswered(qs, []string{"", "hello", `["",""]`}); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Errorf("Unanswered = %v", got)
	}
}

func TestReconcile(t *testing.T) {
	got, changed := Reconcile([]string{"a", "b", "c"}, 2)
	if !changed || !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("truncate: %v %v", got, changed)
	}

	got, changed = Reconcile([]string{"a"}, 3)
	if !changed || !reflect.DeepEqual(got, []string{"a", "", ""}) {
		t.Errorf("pad: %v %v", got, changed)
	}

	in := []string{"a", "b"}
	got, changed = Reconcile(in, 2)
	if changed {
		t.Error("unexpected resize")
	}
	got[0] = "mutated"
	if in[0] != "a" {
		t.Error("Reconcile must copy")
	}
}
