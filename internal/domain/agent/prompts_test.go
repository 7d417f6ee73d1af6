package agent

import (
	"errors"
	"strings"
	"testing"
)

func testContext() InterviewContext {
	return InterviewContext{
		InterviewID:      "iv-1",
		OrganizationName: "Acme Trading",
		UseCaseType:      "compliance",
		Purpose:          "procurement controls review",
		Questions:        []string{"What is your approval limit?", "Who signs off on exceptions?"},
		Language:         "ja",
	}
}

func TestBuildSystemPrompt_Standard(t *testing.T) {
	t.Parallel()

	got, err := BuildSystemPrompt(testContext(), PhaseMain)
	if err != nil {
		t.Fatalf("BuildSystemPrompt failed: %v", err)
	}
	for _, want := range []string{
		"Acme Trading",
		"procurement controls review",
		"What is your approval limit?",
		PhaseMain.Hint(),
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "anonymous") {
		t.Error("standard prompt mentions anonymity")
	}
}

func TestBuildSystemPrompt_AnonymousForbidsIdentifyingDetail(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	ctx.IsAnonymous = true
	got, err := BuildSystemPrompt(ctx, PhaseIcebreaker)
	if err != nil {
		t.Fatalf("BuildSystemPrompt failed: %v", err)
	}
	if !strings.Contains(got, "anonymous") || !strings.Contains(got, "Never ask for the respondent's name") {
		t.Errorf("anonymous prompt missing identity prohibition:\n%s", got)
	}
}

func TestBuildSystemPrompt_MissingVariablesNamed(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	ctx.OrganizationName = ""
	ctx.Questions = nil

	_, err := BuildSystemPrompt(ctx, PhaseMain)
	var mv *MissingVariablesError
	if !errors.As(err, &mv) {
		t.Fatalf("want *MissingVariablesError, got %v", err)
	}
	want := map[string]bool{"organization_name": true, "questions": true}
	if len(mv.Keys) != 2 || !want[mv.Keys[0]] || !want[mv.Keys[1]] {
		t.Errorf("missing keys = %v, want organization_name and questions", mv.Keys)
	}
}

func TestPhaseHintsDistinct(t *testing.T) {
	t.Parallel()

	seen := map[string]Phase{}
	for _, p := range []Phase{PhaseIcebreaker, PhaseMain, PhaseProbing, PhaseClosing} {
		hint := p.Hint()
		if hint == "" {
			t.Errorf("phase %s has empty hint", p)
		}
		if prev, dup := seen[hint]; dup {
			t.Errorf("phases %s and %s share a hint", prev, p)
		}
		seen[hint] = p
	}
}

func TestBuildClosingPrompt_IncludesFindings(t *testing.T) {
	t.Parallel()

	got, err := BuildClosingPrompt([]string{"approval limit is 500000 yen"})
	if err != nil {
		t.Fatalf("BuildClosingPrompt failed: %v", err)
	}
	if !strings.Contains(got, "approval limit is 500000 yen") {
		t.Errorf("closing prompt missing finding:\n%s", got)
	}
}

func TestBuildSummaryPrompt(t *testing.T) {
	t.Parallel()

	got, err := BuildSummaryPrompt("Interviewer: hello\nInterviewee: hi\n")
	if err != nil {
		t.Fatalf("BuildSummaryPrompt failed: %v", err)
	}
	for _, want := range []string{"key_findings", "risks_identified", "follow_up_items", "sentiment", "Interviewee: hi"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary prompt missing %q", want)
		}
	}

	if _, err := BuildSummaryPrompt(""); err == nil {
		t.Error("empty transcript should be rejected")
	}
}
