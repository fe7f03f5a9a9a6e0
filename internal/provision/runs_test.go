package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"nithronos/poolwizard/internal/wizard"
)

func TestRunStoreRoundTrip(t *testing.T) {
	s := NewRunStore(t.TempDir())
	r := &Run{ID: uuid.NewString(), StartedAt: time.Now().UTC().Truncate(time.Second), Tasks: []wizard.Task{{ID: wizard.TaskFormat, Status: wizard.TaskDone}}}
	if err := s.Save(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(r.ID)
	if err != nil || got.ID != r.ID || len(got.Tasks) != 1 || !got.StartedAt.Equal(r.StartedAt) {
		t.Fatalf("got %+v %v", got, err)
	}
	if _, err := s.Load(uuid.NewString()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("missing run: %v", err)
	}
	if _, err := s.Load("../../etc/passwd"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("bad id: %v", err)
	}
}

func TestLogTailCursor(t *testing.T) {
	s := NewRunStore(t.TempDir())
	id := uuid.NewString()
	for i := 0; i < 5; i++ {
		s.AppendLog(id, "info", wizard.TaskFormat, "line")
	}
	lines, next := s.LogTail(id, 0, 3)
	if len(lines) != 3 || next != 3 {
		t.Fatalf("first page: %d lines, next %d", len(lines), next)
	}
	lines, next = s.LogTail(id, next, 3)
	if len(lines) != 2 || next != 5 {
		t.Fatalf("second page: %d lines, next %d", len(lines), next)
	}
	lines, next = s.LogTail(id, next, 3)
	if len(lines) != 0 || next != 5 {
		t.Fatalf("past end: %d lines, next %d", len(lines), next)
	}
}

func TestDisabledRunStore(t *testing.T) {
	var s *RunStore
	if err := s.Save(context.Background(), &Run{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	s.AppendLog("x", "info", "", "ignored")
	if _, err := s.Load(uuid.NewString()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("got %v", err)
	}
}
