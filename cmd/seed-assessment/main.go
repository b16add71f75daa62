package main

import (
	"context"
	"fmt"
	"time"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
)

// Seeds a small published assessment and a batch of students for local runs.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stores, err := database.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record store")
	}
	defer stores.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	assessments := service.NewAssessmentService(stores.Assessments, stores.Questions, rdb, log)

	// ─── Students ──────────────────────────────────────────────────────
	names := []string{
		"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
		"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	}
	fmt.Printf("=== Seeding %d Students ===\n", len(names))
	for i, name := range names {
		s := &model.Student{
			NISN:    fmt.Sprintf("00%08d", 1000+i),
			Name:    name,
			ClassID: 1,
		}
		if err := stores.Students.Create(ctx, s); err != nil {
			log.Error().Err(err).Str("name", name).Msg("Failed to create student")
			continue
		}
		fmt.Printf("  student %d  %s\n", s.ID, name)
	}

	// ─── Assessment ────────────────────────────────────────────────────
	a := &model.Assessment{
		Title:           "Latihan Matematika Dasar",
		Kind:            model.AssessmentKindMixed,
		DurationMinutes: 30,
	}
	if err := assessments.Create(ctx, a); err != nil {
		log.Fatal().Err(err).Msg("Failed to create assessment")
	}

	questions := []model.AddQuestionRequest{
		{
			Prompt:  "Berapakah 7 x 8?",
			Variant: model.QuestionVariantChoice,
			Points:  10,
			Options: []model.Option{
				{Label: "A", Text: "54"},
				{Label: "B", Text: "56"},
				{Label: "C", Text: "58"},
				{Label: "D", Text: "64"},
			},
			Key: "B",
		},
		{
			Prompt:  "Jelaskan perbedaan bilangan prima dan bilangan komposit.",
			Variant: model.QuestionVariantFreeText,
			Points:  20,
			Rubric:  "Prima: tepat dua faktor. Komposit: lebih dari dua faktor.",
		},
		{
			Prompt:  "Tuliskan tiga bilangan prima pertama, satu per kolom.",
			Variant: model.QuestionVariantMultiPart,
			Points:  15,
			Parts:   3,
			Rubric:  "2, 3, 5",
		},
	}
	for i := range questions {
		if _, err := assessments.AddQuestion(ctx, a.ID, &questions[i]); err != nil {
			log.Fatal().Err(err).Int("ordinal", i).Msg("Failed to add question")
		}
	}

	if err := assessments.Publish(ctx, a.ID); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish assessment")
	}

	fmt.Printf("Published assessment %s (%d questions)\n", a.ID, len(questions))
}
