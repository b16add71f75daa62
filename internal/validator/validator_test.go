package validator

import (
	"testing"
)

type optionForm struct {
	Label string `json:"label" binding:"required,option_label"`
	Text  string `json:"text" binding:"required,max=10"`
}

func TestStruct(t *testing.T) {
	Setup()

	tests := []struct {
		name   string
		in     optionForm
		fields []string
	}{
		{"valid", optionForm{Label: "B", Text: "yes"}, nil},
		{"lowercase label", optionForm{Label: "b", Text: "yes"}, []string{"label"}},
		{"long label", optionForm{Label: "AB", Text: "yes"}, []string{"label"}},
		{"missing text", optionForm{Label: "C"}, []string{"text"}},
		{"both", optionForm{Label: "", Text: "far too long text"}, []string{"label", "text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Struct(&tt.in)
			if len(got) != len(tt.fields) {
				t.Fatalf("fields = %v, want keys %v", got, tt.fields)
			}
			for _, f := range tt.fields {
				if got[f] == "" {
					t.Errorf("missing message for %q in %v", f, got)
				}
			}
		})
	}
}
