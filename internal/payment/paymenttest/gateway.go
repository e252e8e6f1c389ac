package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/amajid/jamiya/internal/activity"
	"github.com/amajid/jamiya/internal/gateway"
	"github.com/amajid/jamiya/pkg/money"
)

// Gateway is a scriptable in-memory gateway.Client. Zero value succeeds
// every call with generated ids; set an error field to fail the next
// call. Errors are consumed one call at a time; the Times fields extend
// a scripted error over several calls.
type Gateway struct {
	mu sync.Mutex

	AuthorizeErr error
	CaptureErr   error
	VoidErr      error
	PayoutErr    error

	AuthorizeErrTimes int
	CaptureErrTimes   int
	VoidErrTimes      int
	PayoutErrTimes    int

	AuthorizeCalls int
	CaptureCalls   int
	VoidCalls      int
	PayoutCalls    int
}

// consume returns the scripted error and decrements its remaining uses.
// Caller holds the lock.
func consume(err *error, times *int) error {
	if *err == nil {
		return nil
	}
	out := *err
	if *times > 1 {
		*times--
	} else {
		*err = nil
		*times = 0
	}
	return out
}

// NewGateway creates a gateway fake that succeeds every call
func NewGateway() *Gateway {
	return &Gateway{}
}

// Authorize returns a generated order id
func (g *Gateway) Authorize(ctx context.Context, amount money.Amount, currency string, metadata map[string]string) (*gateway.AuthorizeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.AuthorizeCalls++
	if err := consume(&g.AuthorizeErr, &g.AuthorizeErrTimes); err != nil {
		return nil, err
	}
	return &gateway.AuthorizeResult{OrderID: fmt.Sprintf("order-%d", g.AuthorizeCalls)}, nil
}

// Capture returns a generated capture id
func (g *Gateway) Capture(ctx context.Context, orderID, authorizationID string) (*gateway.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CaptureCalls++
	if err := consume(&g.CaptureErr, &g.CaptureErrTimes); err != nil {
		return nil, err
	}
	return &gateway.CaptureResult{CaptureID: fmt.Sprintf("capture-%d", g.CaptureCalls), Status: "COMPLETED"}, nil
}

// Void records the call
func (g *Gateway) Void(ctx context.Context, authorizationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.VoidCalls++
	if err := consume(&g.VoidErr, &g.VoidErrTimes); err != nil {
		return err
	}
	return nil
}

// Payout returns a generated batch id
func (g *Gateway) Payout(ctx context.Context, amount money.Amount, currency, receiverEmail string) (*gateway.PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.PayoutCalls++
	if err := consume(&g.PayoutErr, &g.PayoutErrTimes); err != nil {
		return nil, err
	}
	return &gateway.PayoutResult{BatchID: fmt.Sprintf("batch-%d", g.PayoutCalls), Status: "SUCCESS"}, nil
}

// ActivityLog is a no-op activity logger that records event types
type ActivityLog struct {
	mu     sync.Mutex
	Events []activity.EventType
}

// NewActivityLog creates an empty activity log fake
func NewActivityLog() *ActivityLog {
	return &ActivityLog{}
}

// LogActivity appends the event type
func (a *ActivityLog) LogActivity(ctx context.Context, userID int64, eventType activity.EventType, metadata map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Events = append(a.Events, eventType)
}
