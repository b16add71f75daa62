package model

import "time"

// Student is the test-taker profile read from the roster.
type Student struct {
	ID        int       `json:"id"`
	NISN      string    `json:"nisn"`
	Name      string    `json:"name"`
	ClassID   int       `json:"class_id"`
	CreatedAt time.Time `json:"created_at"`
}
