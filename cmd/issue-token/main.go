package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
)

func main() {
	var (
		studentID int
		classID   int
		graderID  int
		perms     string
	)
	flag.IntVar(&studentID, "student", 0, "Issue a student token for this student id")
	flag.IntVar(&classID, "class", 0, "Class id embedded in a student token")
	flag.IntVar(&graderID, "grader", 0, "Issue a grader token for this admin id")
	flag.StringVar(&perms, "perms", "all", "Comma-separated grader permissions, or \"all\"")
	flag.Parse()

	cfg := config.Load()
	authService := service.NewAuthService(cfg)

	switch {
	case studentID > 0 && graderID > 0:
		log.Fatal("choose one of -student or -grader")

	case studentID > 0:
		token, err := authService.GenerateStudentToken(studentID, classID)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)

	case graderID > 0:
		granted, err := parsePermissions(perms)
		if err != nil {
			log.Fatal(err)
		}
		token, err := authService.GenerateAdminToken(graderID, granted)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)

	default:
		fmt.Println("Usage: issue-token -student <id> [-class <id>] | -grader <id> [-perms a,b]")
		flag.PrintDefaults()
	}
}

func parsePermissions(raw string) ([]string, error) {
	known := make(map[string]bool, len(model.AllPermissions))
	all := make([]string, 0, len(model.AllPermissions))
	for _, p := range model.AllPermissions {
		known[string(p)] = true
		all = append(all, string(p))
	}
	if raw == "all" {
		return all, nil
	}

	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !known[p] {
			return nil, fmt.Errorf("unknown permission %q (known: %s)", p, strings.Join(all, ", "))
		}
		out = append(out, p)
	}
	return out, nil
}
