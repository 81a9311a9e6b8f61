package tracker

import "testing"

func TestRestTieNoteSequence(t *testing.T) {
	p := NewParser(4)
	events := p.AppendChunk("BASS\n1 C2:80\n2 ^\n3 .\n4 E2:75\n")

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	want := []TrackerStep{
		Notes(NoteEvent{Pitch: 36, Velocity: 80}),
		Tie(),
		Rest(),
		Notes(NoteEvent{Pitch: 40, Velocity: 75}),
	}
	for i, ev := range events {
		if ev.StepIndex != i {
			t.Errorf("event %d: StepIndex = %d, want %d", i, ev.StepIndex, i)
		}
		assertStepEqual(t, i, ev.Step, want[i])
	}
}

func assertStepEqual(t *testing.T, i int, got, want TrackerStep) {
	t.Helper()
	if got.IsRest != want.IsRest || got.IsTie != want.IsTie {
		t.Errorf("step %d: flags = %+v, want %+v", i, got, want)
		return
	}
	if len(got.Notes) != len(want.Notes) {
		t.Errorf("step %d: %d notes, want %d", i, len(got.Notes), len(want.Notes))
		return
	}
	for j := range got.Notes {
		if got.Notes[j] != want.Notes[j] {
			t.Errorf("step %d note %d = %+v, want %+v", i, j, got.Notes[j], want.Notes[j])
		}
	}
}

func TestChordAtStepZero(t *testing.T) {
	p := NewParser(2)
	events := p.AppendChunk("PIANO\n1 C3:65,E3:60,G3:62\n2 .\n")
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if len(events[0].Step.Notes) != 3 {
		t.Fatalf("got %d notes, want 3", len(events[0].Step.Notes))
	}
}

func TestStreamChunkBoundary(t *testing.T) {
	p := NewParser(4)
	first := p.AppendChunk("BASS\n1 C2")
	if len(first) != 0 {
		t.Fatalf("got %d events before boundary completes, want 0", len(first))
	}
	second := p.AppendChunk(":80\n2 .\n")
	if len(second) != 2 {
		t.Fatalf("got %d events, want 2", len(second))
	}
	assertStepEqual(t, 0, second[0].Step, Notes(NoteEvent{Pitch: 36, Velocity: 80}))
	assertStepEqual(t, 1, second[1].Step, Rest())
}

func TestMalformedVelocityStepCountsArePostValidation(t *testing.T) {
	p := NewParser(4)
	var warnings []string
	p.OnWarning = func(msg string) { warnings = append(warnings, msg) }

	events := p.AppendChunk("BASS\n1 C2:abc\n2 D2:80\n")
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].StepIndex != 0 {
		t.Errorf("StepIndex = %d, want 0 (post-validation counting)", events[0].StepIndex)
	}
}

func TestStepCapEnforced(t *testing.T) {
	p := NewParser(2)
	events := p.AppendChunk("BASS\n1 C2:80\n2 D2:80\n3 E2:80\n4 F2:80\n")
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (capped)", len(events))
	}
}

func TestFinalizeFlushesPartialLine(t *testing.T) {
	p := NewParser(4)
	p.AppendChunk("BASS\n1 C2:80")
	events := p.Finalize()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestCommentLinesIgnored(t *testing.T) {
	p := NewParser(4)
	events := p.AppendChunk("# metadata\nBASS\n# another comment\n1 C2:80\n")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestParseNoteEntryRest(t *testing.T) {
	step, err := parseNoteEntry(".")
	if err != nil {
		t.Fatalf("parseNoteEntry error = %v", err)
	}
	if !step.IsRest {
		t.Errorf("want rest")
	}
}

func TestParseNoteEntryTrailingPunctuation(t *testing.T) {
	step, err := parseNoteEntry("C2:80.")
	if err != nil {
		t.Fatalf("parseNoteEntry error = %v", err)
	}
	if len(step.Notes) != 1 || step.Notes[0].Velocity != 80 {
		t.Errorf("got %+v", step)
	}
}

func TestParseNoteEntryMissingColon(t *testing.T) {
	if _, err := parseNoteEntry("C2 80"); err == nil {
		t.Errorf("expected error for missing colon")
	}
}

func TestTextRoundTrip(t *testing.T) {
	p := NewParser(4)
	p.AppendChunk("BASS\n1 C2:80\n2 .\n")
	p.Finalize()
	got := p.Text()
	want := "BASS\n1 C2:80\n2 .\n"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}
