package governance

import "time"

// Hooks are invoked synchronously around every tool invocation, regardless
// of which agent owns the tool. Injected at construction; implementations
// must tolerate concurrent calls.
type Hooks interface {
	// BeforeCall may veto the invocation by returning an error.
	BeforeCall(tool, chatID, userID string, input map[string]any) error
	AfterCall(tool string, duration time.Duration, err error)
}

// NopHooks is the default when no hooks are injected.
type NopHooks struct{}

func (NopHooks) BeforeCall(string, string, string, map[string]any) error { return nil }
func (NopHooks) AfterCall(string, time.Duration, error)                  {}
