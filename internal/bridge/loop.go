package bridge

import (
	"context"
	"log/slog"
)

// Kind identifies a bridge event.
type Kind int

const (
	KindReady Kind = iota
	KindShowConfiguration
	KindWebviewClosed
	KindPageClosed
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindShowConfiguration:
		return "showConfiguration"
	case KindWebviewClosed:
		return "webviewclosed"
	case KindPageClosed:
		return "pageclosed"
	}
	return "unknown"
}

// Event is one host event. Response is set for the two close kinds and
// FlowID only for KindPageClosed.
type Event struct {
	Kind     Kind
	Response string
	FlowID   string
}

// Result is what handling an event produced.
type Result struct {
	Show  ShowResult
	Close CloseResult
	Err   error
}

type request struct {
	ev    Event
	reply chan Result
}

// Loop runs every bridge handler on a single goroutine, in the order events
// are posted.
type Loop struct {
	bridge *Bridge
	queue  chan request
	logger *slog.Logger
}

// NewLoop creates a Loop for b. If buffer is <= 0, it defaults to 16.
func NewLoop(b *Bridge, buffer int) *Loop {
	if buffer <= 0 {
		buffer = 16
	}
	return &Loop{
		bridge: b,
		queue:  make(chan request, buffer),
		logger: b.logger,
	}
}

// Bridge returns the bridge driven by the loop.
func (l *Loop) Bridge() *Bridge {
	return l.bridge
}

// Run handles events until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-l.queue:
			res := l.handle(ctx, req.ev)
			if res.Err != nil {
				l.logger.Warn("event failed", "event", req.ev.Kind, "error", res.Err)
			}
			req.reply <- res
		}
	}
}

func (l *Loop) handle(ctx context.Context, ev Event) Result {
	switch ev.Kind {
	case KindReady:
		l.bridge.OnReady()
		return Result{}
	case KindShowConfiguration:
		show, err := l.bridge.OnShowConfiguration(ctx)
		return Result{Show: show, Err: err}
	case KindWebviewClosed:
		cl, err := l.bridge.OnWebviewClosed(ev.Response)
		return Result{Close: cl, Err: err}
	case KindPageClosed:
		cl, err := l.bridge.OnPageClosed(ev.FlowID, ev.Response)
		return Result{Close: cl, Err: err}
	}
	l.logger.Warn("ignoring unknown event", "kind", int(ev.Kind))
	return Result{}
}

// Post queues ev and waits for it to be handled. The returned error is only
// non-nil when ctx ends first; handler errors are in Result.Err.
func (l *Loop) Post(ctx context.Context, ev Event) (Result, error) {
	req := request{ev: ev, reply: make(chan Result, 1)}
	select {
	case l.queue <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Ready posts a ready event.
func (l *Loop) Ready(ctx context.Context) error {
	_, err := l.Post(ctx, Event{Kind: KindReady})
	return err
}

// ShowConfiguration posts a show-configuration event.
func (l *Loop) ShowConfiguration(ctx context.Context) (ShowResult, error) {
	res, err := l.Post(ctx, Event{Kind: KindShowConfiguration})
	if err != nil {
		return ShowResult{}, err
	}
	return res.Show, res.Err
}

// WebviewClosed posts a webview-closed event carrying response.
func (l *Loop) WebviewClosed(ctx context.Context, response string) (CloseResult, error) {
	res, err := l.Post(ctx, Event{Kind: KindWebviewClosed, Response: response})
	if err != nil {
		return CloseResult{}, err
	}
	return res.Close, res.Err
}

// PageClosed posts a close coming straight from the settings page for flowID.
func (l *Loop) PageClosed(ctx context.Context, flowID, response string) (CloseResult, error) {
	res, err := l.Post(ctx, Event{Kind: KindPageClosed, FlowID: flowID, Response: response})
	if err != nil {
		return CloseResult{}, err
	}
	return res.Close, res.Err
}
