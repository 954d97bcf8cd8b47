package collab

import (
	"errors"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestApplyInsert(t *testing.T) {
	op := Operation{Kind: OpInsert, From: 5, Content: " there"}
	got, err := op.Apply("Hello world")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != "Hello there world" {
		t.Errorf("Content mismatch: got %q", got)
	}
}

func TestApplyInsertAtEnd(t *testing.T) {
	op := Operation{Kind: OpInsert, From: 5, Content: "!"}
	got, err := op.Apply("Hello")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != "Hello!" {
		t.Errorf("Content mismatch: got %q", got)
	}
}

func TestApplyDelete(t *testing.T) {
	op := Operation{Kind: OpDelete, From: 5, To: intPtr(11)}
	got, err := op.Apply("Hello world")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != "Hello" {
		t.Errorf("Content mismatch: got %q", got)
	}
}

func TestApplyReplace(t *testing.T) {
	op := Operation{Kind: OpReplace, From: 6, To: intPtr(11), Content: "Go"}
	got, err := op.Apply("Hello world")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != "Hello Go" {
		t.Errorf("Content mismatch: got %q", got)
	}
}

func TestApplyRuneOffsets(t *testing.T) {
	// Offsets count runes, not bytes.
	op := Operation{Kind: OpInsert, From: 2, Content: "!"}
	got, err := op.Apply("日本語")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != "日本!語" {
		t.Errorf("Content mismatch: got %q", got)
	}
}

func TestApplyOutOfBounds(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
	}{
		{"insert past end", Operation{Kind: OpInsert, From: 6, Content: "x"}},
		{"insert negative", Operation{Kind: OpInsert, From: -1, Content: "x"}},
		{"delete past end", Operation{Kind: OpDelete, From: 0, To: intPtr(99)}},
		{"delete inverted range", Operation{Kind: OpDelete, From: 3, To: intPtr(1)}},
		{"delete without end", Operation{Kind: OpDelete, From: 0}},
		{"replace without end", Operation{Kind: OpReplace, From: 0, Content: "x"}},
		{"unknown kind", Operation{Kind: "scribble", From: 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.op.Apply("Hello")
			if !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("Expected ErrOutOfBounds, got %v", err)
			}
		})
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	content := "Hello"
	op := Operation{Kind: OpReplace, From: 0, To: intPtr(5), Content: "Bye"}
	if _, err := op.Apply(content); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if content != "Hello" {
		t.Errorf("Input was mutated: %q", content)
	}
}

func TestDecodeClientMessage(t *testing.T) {
	msg, err := decodeClientMessage([]byte(`{"type":"operation","op":{"kind":"insert","from":0,"content":"hi"},"version":3}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != ClientOperation {
		t.Errorf("Type mismatch: got %q", msg.Type)
	}
	if msg.Op == nil || msg.Op.Kind != OpInsert || msg.Op.Content != "hi" {
		t.Errorf("Op mismatch: got %+v", msg.Op)
	}
	if msg.Version == nil || *msg.Version != 3 {
		t.Errorf("Version mismatch: got %v", msg.Version)
	}
}

func TestDecodeClientMessageMalformed(t *testing.T) {
	if _, err := decodeClientMessage([]byte(`{not json`)); err == nil {
		t.Error("Expected error for malformed JSON")
	}
	if _, err := decodeClientMessage([]byte(`{"op":{}}`)); err == nil {
		t.Error("Expected error for missing type")
	}
}
