package idgen

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
)

func TestGenerate_PrefixAndLength(t *testing.T) {
	for _, tc := range []struct {
		gen    func() (string, error)
		prefix string
	}{
		{Adapter, AdapterPrefix},
		{FlowEvent, FlowEventPrefix},
		{Message, MessagePrefix},
	} {
		id, err := tc.gen()
		if err != nil {
			t.Fatalf("generate %s error: %v", tc.prefix, err)
		}
		pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(tc.prefix) + `[a-zA-Z0-9]{10}$`)
		if !pattern.MatchString(id) {
			t.Errorf("id %q does not match %s", id, pattern)
		}
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := Message()
		if err != nil {
			t.Fatalf("Message() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	prefix := "test-"
	id, err := GenerateWithPrefix(prefix)
	if err != nil {
		t.Fatalf("GenerateWithPrefix(%q) error: %v", prefix, err)
	}
	if id[:len(prefix)] != prefix {
		t.Errorf("GenerateWithPrefix(%q) = %q, want prefix %q", prefix, id, prefix)
	}
	if wantLen := len(prefix) + Length; len(id) != wantLen {
		t.Errorf("GenerateWithPrefix(%q) length = %d, want %d (id=%q)", prefix, len(id), wantLen, id)
	}
}

func TestDerive_Deterministic(t *testing.T) {
	a := Derive(FlowEventPrefix, "ad-merge", "batch-1")
	b := Derive(FlowEventPrefix, "ad-merge", "batch-1")
	if a != b {
		t.Errorf("Derive not deterministic: %q != %q", a, b)
	}
	pattern := regexp.MustCompile(`^fe-[a-zA-Z0-9]{10}$`)
	if !pattern.MatchString(a) {
		t.Errorf("Derive() = %q, does not match %s", a, pattern)
	}
}

func TestDerive_PartsAreSeparated(t *testing.T) {
	if Derive(FlowEventPrefix, "ab", "c") == Derive(FlowEventPrefix, "a", "bc") {
		t.Error("different part splits produced the same ID")
	}
	if Derive(FlowEventPrefix, "x") == Derive(MessagePrefix, "x") {
		t.Error("prefix not applied")
	}
}

func TestBatch(t *testing.T) {
	id := Batch()
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("Batch() = %q is not a UUID: %v", id, err)
	}
	if Batch() == id {
		t.Error("Batch() returned the same id twice")
	}
}
