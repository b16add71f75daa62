package service

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/session"
)

func TestRegistryTakeover(t *testing.T) {
	r := NewSessionRegistry(session.Deps{Log: zerolog.Nop()}, zerolog.Nop())
	asm := uuid.New()

	first := r.Open(asm, 7)
	second := r.Open(asm, 7)
	other := r.Open(asm, 8)

	if _, err := first.Snapshot(); !errors.Is(err, session.ErrClosed) {
		t.Errorf("taken-over session: err = %v, want ErrClosed", err)
	}
	if _, err := second.Snapshot(); err != nil {
		t.Errorf("new session: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("live = %d, want 2", r.Len())
	}

	// Releasing the stale handle must not drop its replacement.
	r.Release(first)
	if r.Len() != 2 {
		t.Fatalf("live after stale release = %d, want 2", r.Len())
	}

	r.Release(second)
	if r.Len() != 1 {
		t.Fatalf("live after release = %d, want 1", r.Len())
	}

	r.CloseAll()
	if r.Len() != 0 {
		t.Errorf("live after CloseAll = %d", r.Len())
	}
	if _, err := other.Snapshot(); !errors.Is(err, session.ErrClosed) {
		t.Errorf("after CloseAll: err = %v, want ErrClosed", err)
	}
}
