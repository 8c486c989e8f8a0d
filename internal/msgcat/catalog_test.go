package msgcat

import (
	"strings"
	"testing"
)

func TestEmbeddedDefaultsLoad(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("error.illegal_move", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "not legal") {
		t.Fatalf("rendered = %q", got)
	}
}

func TestRenderWithData(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("finish.timeout", map[string]string{"Winner": "black"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "black wins on time" {
		t.Fatalf("rendered = %q", got)
	}
}

func TestRenderMissingKeyAndFallback(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("error.does_not_exist", nil); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if got := c.RenderOr("error.does_not_exist", "fallback", nil); got != "fallback" {
		t.Fatalf("RenderOr = %q", got)
	}
	// a template referencing a missing field falls back too
	if got := c.RenderOr("finish.timeout", "game over", map[string]string{}); got != "game over" {
		t.Fatalf("RenderOr strict = %q", got)
	}
}
