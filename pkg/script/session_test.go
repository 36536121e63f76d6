package script

import (
	"errors"
	"testing"
)

func TestAdvanceIsMonotonic(t *testing.T) {
	s := NewSession("call-7", "agent-3", "renewal")
	if err := s.Advance(2); err != nil {
		t.Fatalf("Advance(2): %v", err)
	}
	if err := s.Advance(2); err != nil {
		t.Errorf("Advance to current step: %v", err)
	}
	err := s.Advance(1)
	if !errors.Is(err, ErrStepRegression) {
		t.Errorf("Advance(1) err = %v, want ErrStepRegression", err)
	}
	if s.Step() != 2 {
		t.Errorf("step = %d, want 2", s.Step())
	}
}

func TestAnswersReturnsCopy(t *testing.T) {
	s := NewSession("call-7", "agent-3", "renewal")
	s.Answer("budget", "high")
	a := s.Answers()
	a["budget"] = "low"
	if s.Answers()["budget"] != "high" {
		t.Error("mutating returned answers changed the session")
	}
}

// Progress made after a checkpoint is discarded by restoring it, and the
// snapshot itself stays untouched by later edits.
func TestSnapshotRoundTrip(t *testing.T) {
	s := NewSession("call-7", "agent-3", "renewal")
	if err := s.Advance(2); err != nil {
		t.Fatal(err)
	}
	s.Answer("q1", "yes")

	snap := CreateSnapshot(s)

	if err := s.Advance(3); err != nil {
		t.Fatal(err)
	}
	s.Answer("q2", "no")
	s.Answer("q1", "maybe")

	if snap.Step != 2 || len(snap.Answers) != 1 || snap.Answers["q1"] != "yes" {
		t.Fatalf("snapshot changed after session edits: %+v", snap)
	}

	if err := Restore(s, snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.Step() != 2 {
		t.Errorf("step = %d, want 2", s.Step())
	}
	got := s.Answers()
	if len(got) != 1 || got["q1"] != "yes" {
		t.Errorf("answers = %v, want {q1: yes}", got)
	}

	s.Answer("q3", "later")
	if _, ok := snap.Answers["q3"]; ok {
		t.Error("restored session shares answers with the snapshot")
	}
}

func TestRestoreIdentityMismatch(t *testing.T) {
	src := NewSession("call-7", "agent-3", "renewal")
	_ = src.Advance(4)
	snap := CreateSnapshot(src)

	tests := []struct {
		name        string
		call, agent string
	}{
		{"other call", "call-8", "agent-3"},
		{"other agent", "call-7", "agent-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := NewSession(tt.call, tt.agent, "renewal")
			dst.Answer("kept", "1")
			err := Restore(dst, snap)
			var mismatch *IdentityMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("err = %v, want IdentityMismatchError", err)
			}
			if dst.Step() != 0 || dst.Answers()["kept"] != "1" {
				t.Error("session was partially restored")
			}
		})
	}
}

func TestSessionFromSnapshot(t *testing.T) {
	src := NewSession("call-7", "agent-3", "renewal")
	_ = src.Advance(1)
	src.Answer("q1", "yes")
	snap := CreateSnapshot(src)

	s := SessionFromSnapshot(snap)
	if s.CallID() != "call-7" || s.AgentID() != "agent-3" || s.Script() != "renewal" {
		t.Errorf("identity = %s/%s/%s", s.CallID(), s.AgentID(), s.Script())
	}
	if s.Step() != 1 || s.Answers()["q1"] != "yes" {
		t.Errorf("progress = %d %v", s.Step(), s.Answers())
	}
}
