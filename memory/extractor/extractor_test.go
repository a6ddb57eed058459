package extractor_test

import (
	"testing"

	"github.com/recallkit/recall/memory/extractor"
)

func TestSanitize(t *testing.T) {
	fact := extractor.Fact{Content: "Moved to Lisbon", Categories: []string{"location"}}

	// A targeted UPDATE passes through untouched.
	d := extractor.Sanitize(extractor.Decision{
		Op:       extractor.OpUpdate,
		TargetID: "m1",
		Content:  "Moved from Porto to Lisbon",
	}, fact)
	if d.Op != extractor.OpUpdate || d.TargetID != "m1" {
		t.Errorf("Targeted update changed: %+v", d)
	}

	// UPDATE without a target becomes ADD so the batch continues.
	d = extractor.Sanitize(extractor.Decision{Op: extractor.OpUpdate}, fact)
	if d.Op != extractor.OpAdd {
		t.Errorf("Expected ADD, got %s", d.Op)
	}
	if d.Content != fact.Content {
		t.Errorf("Expected fact content fallback, got %q", d.Content)
	}

	// DELETE without a target is dropped entirely.
	d = extractor.Sanitize(extractor.Decision{Op: extractor.OpDelete}, fact)
	if d.Op != extractor.OpNone {
		t.Errorf("Expected NONE, got %s", d.Op)
	}

	// ADD and NONE never need a target.
	d = extractor.Sanitize(extractor.Decision{Op: extractor.OpAdd, Content: "x"}, fact)
	if d.Op != extractor.OpAdd || d.Content != "x" {
		t.Errorf("ADD changed: %+v", d)
	}
	d = extractor.Sanitize(extractor.Decision{Op: extractor.OpNone}, fact)
	if d.Op != extractor.OpNone {
		t.Errorf("NONE changed: %+v", d)
	}
}
