package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// pendingCall accumulates streamed function-call arguments for one call_id.
type pendingCall struct {
	name string
	args strings.Builder
}

// CompletedCall is a fully assembled tool invocation ready to execute.
type CompletedCall struct {
	Name      string
	CallID    string
	Arguments json.RawMessage
}

// Aggregator assembles function calls streamed across multiple events:
// the call is announced with a name and call_id, its arguments arrive as
// string deltas, and a done event seals it. Safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

func NewAggregator() *Aggregator {
	return &Aggregator{pending: make(map[string]*pendingCall)}
}

// Upsert announces a call. A repeated announcement for the same call_id
// refreshes the name but keeps accumulated arguments.
func (a *Aggregator) Upsert(callID, name string) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	call, ok := a.pending[callID]
	if !ok {
		call = &pendingCall{}
		a.pending[callID] = call
	}
	if strings.TrimSpace(name) != "" {
		call.name = name
	}
}

// AppendArguments adds one streamed argument fragment. Fragments for a
// call_id that was never announced start a new pending entry, since delta
// events can outrun the announcement.
func (a *Aggregator) AppendArguments(callID, delta string) {
	callID = strings.TrimSpace(callID)
	if callID == "" || delta == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	call, ok := a.pending[callID]
	if !ok {
		call = &pendingCall{}
		a.pending[callID] = call
	}
	call.args.WriteString(delta)
}

// Complete seals a call and removes it from the aggregator. The final
// arguments from the done event win over the accumulated fragments when the
// fragments are empty. Arguments must be a valid JSON document.
func (a *Aggregator) Complete(callID, name, finalArgs string) (CompletedCall, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return CompletedCall{}, fmt.Errorf("function call has no call_id")
	}

	a.mu.Lock()
	call := a.pending[callID]
	delete(a.pending, callID)
	a.mu.Unlock()

	done := CompletedCall{CallID: callID}
	if call != nil {
		done.Name = call.name
		if accumulated := call.args.String(); accumulated != "" {
			done.Arguments = json.RawMessage(accumulated)
		}
	}
	if strings.TrimSpace(name) != "" {
		done.Name = name
	}
	if len(done.Arguments) == 0 {
		if strings.TrimSpace(finalArgs) == "" {
			finalArgs = "{}"
		}
		done.Arguments = json.RawMessage(finalArgs)
	}

	if done.Name == "" {
		return CompletedCall{}, fmt.Errorf("function call %s completed without a name", callID)
	}
	if !json.Valid(done.Arguments) {
		return CompletedCall{}, fmt.Errorf("function call %s has invalid argument json", callID)
	}
	return done, nil
}

// PendingCount reports calls announced but not yet completed.
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
