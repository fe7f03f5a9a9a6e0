package provision

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"nithronos/poolwizard/internal/fsatomic"
	"nithronos/poolwizard/internal/wizard"
)

// Run is the record of one provisioning attempt.
type Run struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  *time.Time       `json:"finishedAt,omitempty"`
	Selection   wizard.Selection `json:"selection"`
	Tasks       []wizard.Task    `json:"tasks"`
	OK          bool             `json:"ok"`
	Error       string           `json:"error,omitempty"`
	PoolMount   string           `json:"poolMount,omitempty"`
	SyncOutcome string           `json:"syncOutcome,omitempty"`
}

var ErrRunNotFound = errors.New("run not found")

// RunStore keeps run records as <dir>/<id>.json with a JSON-lines log beside
// each one. A RunStore with an empty dir records nothing.
type RunStore struct {
	dir string
}

func NewRunStore(dir string) *RunStore { return &RunStore{dir: dir} }

func (s *RunStore) enabled() bool { return s != nil && s.dir != "" }

func (s *RunStore) path(id string) string    { return filepath.Join(s.dir, id+".json") }
func (s *RunStore) logPath(id string) string { return filepath.Join(s.dir, id+".log") }

// Save overwrites the record atomically.
func (s *RunStore) Save(ctx context.Context, r *Run) error {
	if !s.enabled() {
		return nil
	}
	return fsatomic.SaveJSON(ctx, s.path(r.ID), r, 0o600)
}

// Load returns ErrRunNotFound for unknown or malformed ids.
func (s *RunStore) Load(id string) (*Run, error) {
	if !s.enabled() {
		return nil, ErrRunNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrRunNotFound
	}
	var r Run
	ok, err := fsatomic.LoadJSON(s.path(id), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRunNotFound
	}
	return &r, nil
}

// AppendLog adds one line to the run log. Failures are ignored.
func (s *RunStore) AppendLog(id, level string, task wizard.TaskID, msg string) {
	if !s.enabled() {
		return
	}
	_ = os.MkdirAll(s.dir, 0o755)
	f, err := os.OpenFile(s.logPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	rec := map[string]any{"ts": time.Now().UTC().Format(time.RFC3339), "level": level, "task": task, "msg": msg}
	b, _ := json.Marshal(rec)
	fmt.Fprintln(f, string(b))
}

// LogTail returns up to max lines starting at cursor and the cursor to resume
// from.
func (s *RunStore) LogTail(id string, cursor, max int) (lines []string, next int) {
	lines = []string{}
	if !s.enabled() {
		return lines, cursor
	}
	if _, err := uuid.Parse(id); err != nil {
		return lines, cursor
	}
	f, err := os.Open(s.logPath(id))
	if err != nil {
		return lines, cursor
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	idx := 0
	for sc.Scan() {
		if idx >= cursor {
			if len(lines) >= max {
				break
			}
			lines = append(lines, sc.Text())
		}
		idx++
	}
	if idx < cursor {
		idx = cursor
	}
	return lines, idx
}
