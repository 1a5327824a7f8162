package domain

import (
	"reflect"
	"testing"
)

func TestContextCloneIsDeep(t *testing.T) {
	original := Context{
		"document": map[string]any{"pages": 3},
		"tags":     []any{"invoice", "ru"},
		"score":    0.92,
	}

	clone := original.Clone()
	if !reflect.DeepEqual(Context(clone), original) {
		t.Fatalf("clone differs from original: %v vs %v", clone, original)
	}

	// Мутации клона не видны в оригинале.
	clone["score"] = 0.1
	clone["document"].(map[string]any)["pages"] = 99
	clone["tags"].([]any)[0] = "receipt"

	if original["score"] != 0.92 {
		t.Errorf("original score mutated: %v", original["score"])
	}
	if original["document"].(map[string]any)["pages"] != 3 {
		t.Errorf("original nested map mutated")
	}
	if original["tags"].([]any)[0] != "invoice" {
		t.Errorf("original slice mutated")
	}
}

func TestContextCloneNil(t *testing.T) {
	var c Context
	clone := c.Clone()
	if clone == nil {
		t.Fatal("clone of nil context should be an empty, usable map")
	}
	clone["key"] = "value"
}

func TestContextMergeLastWriterWins(t *testing.T) {
	c := Context{
		"status": "NEW",
		"total":  100,
	}
	c.Merge(Context{
		"status": "CLASSIFIED",
		"pages":  5,
	})

	want := Context{
		"status": "CLASSIFIED",
		"total":  100,
		"pages":  5,
	}
	if !reflect.DeepEqual(c, want) {
		t.Errorf("merge result = %v, want %v", c, want)
	}
}

func TestContextMergeCopiesNestedValues(t *testing.T) {
	delta := Context{"meta": map[string]any{"source": "scanner"}}
	c := Context{}
	c.Merge(delta)

	// Дальнейшие мутации delta не протекают в контекст.
	delta["meta"].(map[string]any)["source"] = "email"
	if c["meta"].(map[string]any)["source"] != "scanner" {
		t.Errorf("merge did not copy nested value")
	}
}
