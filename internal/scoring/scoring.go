// Package scoring computes auto-graded and manually-graded scores for a
// finalized attempt. Every function here is pure.
package scoring

import (
	"math"

	"github.com/stemsi/exstem-session/internal/model"
)

// Result is the outcome for a single question.
type Result struct {
	QuestionID  string `json:"question_id"`
	Ordinal     int    `json:"ordinal"`
	MaxPoints   int    `json:"max_points"`
	Points      *int   `json:"points"`
	NeedsManual bool   `json:"needs_manual"`
}

// Breakdown aggregates per-question results. Raw sub-scores stay
// available next to the combined value so the scaling can be audited.
type Breakdown struct {
	Results   []Result `json:"results"`
	AutoRaw   int      `json:"auto_raw"`
	AutoMax   int      `json:"auto_max"`
	ManualRaw int      `json:"manual_raw"`
	ManualMax int      `json:"manual_max"`
	// Pending counts manual questions without a grader score.
	Pending  int      `json:"pending"`
	Combined *float64 `json:"combined,omitempty"`
}

// Graded reports whether every manual question has a score.
func (b *Breakdown) Graded() bool {
	return b.Pending == 0
}

// ChoicePoints awards full points iff answer equals the key exactly.
func ChoicePoints(q *model.Question, answer string) int {
	if q.Key != "" && answer == q.Key {
		return q.Points
	}
	return 0
}

// Clamp bounds a grader-entered score to [0, limit].
func Clamp(points, limit int) int {
	if limit < 0 {
		limit = 0
	}
	if points < 0 {
		return 0
	}
	if points > limit {
		return limit
	}
	return points
}

// Score grades answers against questions. manual maps question id to a
// grader score and may be nil; its values are clamped again here.
func Score(kind model.AssessmentKind, questions []model.Question, answers []string, manual map[string]int) Breakdown {
	b := Breakdown{Results: make([]Result, 0, len(questions))}

	for i := range questions {
		q := &questions[i]
		r := Result{
			QuestionID: q.ID.String(),
			Ordinal:    q.Ordinal,
			MaxPoints:  q.Points,
		}

		if q.AutoGradable() {
			var ans string
			if i < len(answers) {
				ans = answers[i]
			}
			pts := ChoicePoints(q, ans)
			r.Points = &pts
			b.AutoRaw += pts
			b.AutoMax += q.Points
		} else {
			r.NeedsManual = true
			b.ManualMax += q.Points
			if v, ok := manual[r.QuestionID]; ok {
				pts := Clamp(v, q.Points)
				r.Points = &pts
				b.ManualRaw += pts
			} else {
				b.Pending++
			}
		}

		b.Results = append(b.Results, r)
	}

	if kind == model.AssessmentKindMixed {
		b.Combined = Combined(b.AutoRaw, b.AutoMax, b.ManualRaw, b.ManualMax, b.Pending)
	}
	return b
}

// Combined scales raw sub-scores to a 0..100 result weighted by max
// points: (autoRaw + manualRaw) / (autoMax + manualMax) * 100, rounded to
// two decimals. It is nil while manual grading is pending or when there
// are no points to earn.
func Combined(autoRaw, autoMax, manualRaw, manualMax, pending int) *float64 {
	if pending > 0 {
		return nil
	}
	total := autoMax + manualMax
	if total <= 0 {
		return nil
	}
	v := float64(autoRaw+manualRaw) / float64(total) * 100
	v = math.Round(v*100) / 100
	return &v
}

// ClampManual clamps every score in scores against its question and
// drops ids that do not name a manually graded question. The second
// return lists the dropped ids.
func ClampManual(questions []model.Question, scores map[string]int) (map[string]int, []string) {
	byID := make(map[string]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID.String()] = &questions[i]
	}

	out := make(map[string]int, len(scores))
	var rejected []string
	for id, v := range scores {
		q, ok := byID[id]
		if !ok || q.AutoGradable() {
			rejected = append(rejected, id)
			continue
		}
		out[id] = Clamp(v, q.Points)
	}
	return out, rejected
}
