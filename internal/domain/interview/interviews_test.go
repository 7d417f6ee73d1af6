package interview

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kaiwa-ai/kaiwa/internal/infra/sqlite"
)

// fixture opens a migrated in-memory database seeded with one template, one
// task, and one scheduled interview.
type fixture struct {
	db         *sql.DB
	interviews *InterviewService
	tasks      *TaskService
	templates  *TemplateService
	users      *UserService
	task       *Task
	interview  *Interview
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.NewDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{
		db:         db,
		interviews: NewInterviewService(db),
		tasks:      NewTaskService(db),
		templates:  NewTemplateService(db),
		users:      NewUserService(db),
	}

	ctx := context.Background()
	tpl, err := f.templates.Create(ctx, CreateTemplateInput{
		Name:        "vendor due diligence",
		UseCaseType: "compliance",
		Questions:   []string{"What is your approval limit?", "Who signs off on exceptions?"},
		Language:    "ja",
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	f.task, err = f.tasks.Create(ctx, CreateTaskInput{
		TemplateID:       tpl.ID,
		OrganizationName: "Acme Trading",
		Purpose:          "procurement controls review",
		DurationMinutes:  30,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	f.interview, err = f.interviews.Create(ctx, CreateInterviewInput{TaskID: f.task.ID})
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}
	return f
}

func TestCheckTransition_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		op   string
		from Status
		ok   bool
	}{
		{"start", StatusScheduled, true},
		{"start", StatusPaused, true},
		{"start", StatusInProgress, false},
		{"start", StatusCompleted, false},
		{"pause", StatusInProgress, true},
		{"pause", StatusScheduled, false},
		{"pause", StatusPaused, false},
		{"resume", StatusPaused, true},
		{"resume", StatusInProgress, false},
		{"complete", StatusInProgress, true},
		{"complete", StatusPaused, true},
		{"complete", StatusScheduled, false},
		{"complete", StatusCompleted, false},
	}
	for _, tc := range cases {
		err := CheckTransition(tc.op, tc.from)
		if tc.ok && err != nil {
			t.Errorf("%s from %s: unexpected error %v", tc.op, tc.from, err)
		}
		if !tc.ok {
			var ite *InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Errorf("%s from %s: want *InvalidTransitionError, got %v", tc.op, tc.from, err)
			}
		}
	}
}

func TestInterviewLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.interview.ID

	if err := f.interviews.Start(ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	iv, err := f.interviews.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if iv.Status != StatusInProgress {
		t.Errorf("status = %s, want in_progress", iv.Status)
	}
	if iv.StartedAt == nil {
		t.Error("started_at not set")
	}

	if err := f.interviews.Pause(ctx, id); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.interviews.Resume(ctx, id); err != nil {
		t.Fatalf("resume: %v", err)
	}

	summary := json.RawMessage(`{"summary":"limits reviewed","sentiment":"positive"}`)
	if err := f.interviews.Complete(ctx, id, summary); err != nil {
		t.Fatalf("complete: %v", err)
	}
	iv, err = f.interviews.Get(ctx, id)
	if err != nil {
		t.Fatalf("get after complete: %v", err)
	}
	if iv.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", iv.Status)
	}
	if iv.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	var decoded map[string]any
	if err := json.Unmarshal(iv.Summary, &decoded); err != nil {
		t.Fatalf("summary not JSON: %v", err)
	}
	if decoded["summary"] != "limits reviewed" {
		t.Errorf("summary = %v", decoded["summary"])
	}
}

func TestIllegalTransitionLeavesRowUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.interview.ID

	err := f.interviews.Pause(ctx, id)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("pause from scheduled: want *InvalidTransitionError, got %v", err)
	}
	if ite.Op != "pause" || ite.From != StatusScheduled {
		t.Errorf("error details = %+v", ite)
	}

	iv, err := f.interviews.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if iv.Status != StatusScheduled {
		t.Errorf("status changed to %s after rejected transition", iv.Status)
	}
}

func TestTransitionUnknownInterview(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.interviews.Start(context.Background(), "missing-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTranscriptOrdering(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.interview.ID

	base := time.Now().UTC()
	turns := []struct {
		role    string
		content string
	}{
		{RoleAI, "Welcome. Shall we begin?"},
		{RoleUser, "Yes, go ahead."},
		{RoleAI, "What is your approval limit?"},
	}
	for i, turn := range turns {
		if _, err := f.interviews.AddTranscriptEntry(ctx, id, turn.role, turn.content, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("add entry %d: %v", i, err)
		}
	}

	got, err := f.interviews.GetTranscript(ctx, id)
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	if len(got) != len(turns) {
		t.Fatalf("len = %d, want %d", len(got), len(turns))
	}
	for i, e := range got {
		if e.Role != turns[i].role || e.Content != turns[i].content {
			t.Errorf("entry %d = %s/%q, want %s/%q", i, e.Role, e.Content, turns[i].role, turns[i].content)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].SpokenAtMS < got[i-1].SpokenAtMS {
			t.Errorf("entries out of spoken order at %d", i)
		}
	}
}
