package session

import (
	"testing"
)

func TestAggregatorAssemblesFragments(t *testing.T) {
	a := NewAggregator()
	a.Upsert("call_x", "lookup_order")
	a.AppendArguments("call_x", `{"a":`)
	a.AppendArguments("call_x", `1}`)

	call, err := a.Complete("call_x", "", "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if call.Name != "lookup_order" {
		t.Fatalf("name=%q", call.Name)
	}
	if string(call.Arguments) != `{"a":1}` {
		t.Fatalf("arguments=%s", call.Arguments)
	}
	if a.PendingCount() != 0 {
		t.Fatal("entry not removed after completion")
	}

	// Completing again must fail: the entry is gone and no name remains.
	if _, err := a.Complete("call_x", "", ""); err == nil {
		t.Fatal("expected error for already-completed call")
	}
}

func TestAggregatorDeltasBeforeAnnouncement(t *testing.T) {
	a := NewAggregator()
	a.AppendArguments("call_y", `{"q":"pizza"}`)
	a.Upsert("call_y", "search_menu")

	call, err := a.Complete("call_y", "", "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if call.Name != "search_menu" || string(call.Arguments) != `{"q":"pizza"}` {
		t.Fatalf("call=%+v", call)
	}
}

func TestAggregatorFinalArgumentsFallback(t *testing.T) {
	a := NewAggregator()
	a.Upsert("call_z", "hang_up")

	// No deltas arrived; the done event's payload is authoritative.
	call, err := a.Complete("call_z", "", `{"reason":"done"}`)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if string(call.Arguments) != `{"reason":"done"}` {
		t.Fatalf("arguments=%s", call.Arguments)
	}

	// No deltas and no final payload defaults to an empty object.
	a.Upsert("call_e", "hang_up")
	call, err = a.Complete("call_e", "", "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if string(call.Arguments) != `{}` {
		t.Fatalf("empty-call arguments=%s", call.Arguments)
	}
}

func TestAggregatorRejectsInvalidJSON(t *testing.T) {
	a := NewAggregator()
	a.Upsert("call_bad", "lookup_order")
	a.AppendArguments("call_bad", `{"a":`)
	if _, err := a.Complete("call_bad", "", ""); err == nil {
		t.Fatal("expected error for truncated argument json")
	}
	if a.PendingCount() != 0 {
		t.Fatal("failed completion left the entry behind")
	}
}

func TestAggregatorNameFromDoneEvent(t *testing.T) {
	a := NewAggregator()
	a.AppendArguments("call_n", `{}`)
	call, err := a.Complete("call_n", "transfer_call", "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if call.Name != "transfer_call" {
		t.Fatalf("name=%q", call.Name)
	}
}

func TestTranscriptAccumulator(t *testing.T) {
	var acc TranscriptAccumulator
	acc.Append("Hello")
	acc.Append(", ")
	acc.Append("world")
	if acc.Len() != len("Hello, world") {
		t.Fatalf("Len()=%d", acc.Len())
	}
	if got := acc.Flush(); got != "Hello, world" {
		t.Fatalf("Flush()=%q", got)
	}
	if got := acc.Flush(); got != "" {
		t.Fatalf("second Flush()=%q", got)
	}
}
