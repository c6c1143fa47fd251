package testutil

import (
	"context"
	"errors"
	"sync"
)

// ErrUnreachable is the failure returned by a ScriptedPinger step set to false.
var ErrUnreachable = errors.New("upstream unreachable")

// ScriptedPinger answers heartbeats from a script of outcomes. Once the
// script is exhausted the last outcome repeats. An empty script is online.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedPinger struct {
	mu     sync.Mutex
	script []bool
	calls  int
}

// NewScriptedPinger creates a pinger that reports the given outcomes in order.
func NewScriptedPinger(outcomes ...bool) *ScriptedPinger {
	return &ScriptedPinger{script: outcomes}
}

// Ping returns nil for a true step and ErrUnreachable for a false one.
func (p *ScriptedPinger) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ok := true
	switch {
	case p.calls < len(p.script):
		ok = p.script[p.calls]
	case len(p.script) > 0:
		ok = p.script[len(p.script)-1]
	}
	p.calls++

	if !ok {
		return ErrUnreachable
	}
	return nil
}

// Set replaces the remaining script with a single repeating outcome.
func (p *ScriptedPinger) Set(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script[:min(p.calls, len(p.script))], online)
}

// Calls returns how many heartbeats have been answered.
func (p *ScriptedPinger) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
