package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/gateway"
)

// Call is one request observed by a FakeGateway
type Call struct {
	Request gateway.Request
	At      time.Time
}

// FakeGateway is a scripted gateway. Responses are consumed per
// (target, milestone) pair in order; once a script runs out the fallback
// is used, and with no fallback the call succeeds.
type FakeGateway struct {
	mu       sync.Mutex
	now      func() time.Time
	scripts  map[string][]error
	fallback error
	calls    []Call
	onCall   func(gateway.Request)
}

// NewFakeGateway returns a gateway that stamps calls with now (may be nil)
func NewFakeGateway(now func() time.Time) *FakeGateway {
	if now == nil {
		now = time.Now
	}
	return &FakeGateway{now: now, scripts: make(map[string][]error)}
}

// Script queues responses for a component milestone. A nil entry is a success.
func (g *FakeGateway) Script(targetID, milestone string, results ...error) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := targetID + "/" + milestone
	g.scripts[key] = append(g.scripts[key], results...)
	return g
}

// Fallback sets the response used when no script entry applies
func (g *FakeGateway) Fallback(err error) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = err
	return g
}

// OnCall registers a hook run before each call is answered
func (g *FakeGateway) OnCall(fn func(gateway.Request)) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onCall = fn
	return g
}

func (g *FakeGateway) ApplyMilestoneUpdate(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, Call{Request: req, At: g.now()})
	hook := g.onCall

	key := req.TargetID + "/" + req.MilestoneName
	err := g.fallback
	if script := g.scripts[key]; len(script) > 0 {
		err = script[0]
		g.scripts[key] = script[1:]
	}
	g.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	return &gateway.Result{
		NewState: domain.MilestoneState{req.MilestoneName: req.Value},
	}, nil
}

// Calls returns every request received, in order
func (g *FakeGateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallsFor returns the calls addressed to one component milestone
func (g *FakeGateway) CallsFor(targetID, milestone string) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if c.Request.TargetID == targetID && c.Request.MilestoneName == milestone {
			out = append(out, c)
		}
	}
	return out
}
