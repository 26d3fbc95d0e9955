// Package bridge implements the configuration bridge between the watchface
// and its hosted settings page.
//
// A flow starts with a show-configuration event, which opens the settings
// page with the current options encoded in its URL, and ends with the
// webview-closed event carrying the page's response. A valid response is
// persisted and forwarded to the device; anything else cancels the flow.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jnoelg/watchbridge/internal/browser"
	"github.com/jnoelg/watchbridge/internal/device"
	"github.com/jnoelg/watchbridge/internal/options"
)

var (
	// ErrFlowInProgress is returned when a configuration page is requested
	// while a previous one has not been closed yet.
	ErrFlowInProgress = errors.New("configuration flow already in progress")
	// ErrMalformedResponse is returned when a response passes the cheap
	// shape check but is not a JSON object. The flow is cancelled.
	ErrMalformedResponse = errors.New("malformed configuration response")
	// ErrFlowMismatch is returned when a page close does not name the open
	// flow. Nothing is stored or sent and the open flow is kept.
	ErrFlowMismatch = errors.New("no open configuration flow with that id")
)

// Outcome of a webview-closed event.
const (
	OutcomeSaved     = "saved"
	OutcomeCancelled = "cancelled"
)

// ShowResult describes the page opened for a flow.
type ShowResult struct {
	URL    string         `json:"url"`
	FlowID string         `json:"flow_id"`
	Source options.Source `json:"source"`
}

// CloseResult describes how a flow ended.
type CloseResult struct {
	Outcome   string   `json:"outcome"`
	FlowID    string   `json:"flow_id,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Missing   []string `json:"missing,omitempty"`
}

// Bridge holds the handlers for the three bridge events. Handlers are meant
// to be driven from a single Loop; State may be read from any goroutine.
type Bridge struct {
	variant     options.Variant
	repo        *options.Repository
	opener      browser.Opener
	channel     device.Channel
	logger      *slog.Logger
	flowTimeout time.Duration
	now         func() time.Time

	mu    sync.Mutex
	state State
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger for handler and delivery log lines.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithFlowTimeout sets how long an unanswered flow blocks a new one.
// Zero disables expiry.
func WithFlowTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.flowTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New creates a Bridge for variant v.
func New(v options.Variant, repo *options.Repository, opener browser.Opener, ch device.Channel, opts ...Option) *Bridge {
	b := &Bridge{
		variant:     v,
		repo:        repo,
		opener:      opener,
		channel:     ch,
		logger:      slog.Default(),
		flowTimeout: 10 * time.Minute,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Variant returns the variant the bridge was built for.
func (b *Bridge) Variant() options.Variant {
	return b.variant
}

// State returns a copy of the current state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// OnReady marks the bridge ready.
func (b *Bridge) OnReady() {
	s := b.State()
	s.Ready = true
	b.setState(s)
	b.logger.Info("ready", "variant", b.variant.Name)
}

// OnShowConfiguration opens the settings page with the stored options, or
// the variant defaults when none are stored.
func (b *Bridge) OnShowConfiguration(ctx context.Context) (ShowResult, error) {
	s := b.State()
	if s.Phase == AwaitingConfigClose {
		age := b.now().Sub(s.FlowStarted)
		if b.flowTimeout <= 0 || age < b.flowTimeout {
			return ShowResult{}, fmt.Errorf("%w (flow %s)", ErrFlowInProgress, s.FlowID)
		}
		b.logger.Warn("configuration flow expired", "flow_id", s.FlowID, "age", age.Round(time.Second))
	}

	snap, err := b.repo.Resolve(b.variant)
	if err != nil {
		return ShowResult{}, err
	}
	url := options.ConfigURL(b.variant.PageURL, snap.Doc)

	if err := b.opener.Open(ctx, url); err != nil {
		return ShowResult{}, fmt.Errorf("opening configuration page: %w", err)
	}

	s.Phase = AwaitingConfigClose
	s.FlowID = uuid.New().String()
	s.FlowStarted = b.now()
	b.setState(s)

	b.logger.Info("showing configuration", "flow_id", s.FlowID, "source", snap.Source, "url", url)
	return ShowResult{URL: url, FlowID: s.FlowID, Source: snap.Source}, nil
}

// OnPageClosed handles a close reported by the settings page itself rather
// than by the host. It is only accepted for the currently open flow.
func (b *Bridge) OnPageClosed(flowID, response string) (CloseResult, error) {
	s := b.State()
	if s.Phase != AwaitingConfigClose || flowID == "" || flowID != s.FlowID {
		b.logger.Warn("page close rejected", "flow_id", flowID, "open_flow_id", s.FlowID)
		return CloseResult{}, fmt.Errorf("%w: %q", ErrFlowMismatch, flowID)
	}
	return b.OnWebviewClosed(response)
}

// OnWebviewClosed handles the settings page closing with response. A
// response that is not a brace-delimited string longer than five characters
// cancels the flow without touching the store.
func (b *Bridge) OnWebviewClosed(response string) (CloseResult, error) {
	b.logger.Info("configuration closed", "response", response)

	s := b.State()
	flowID := s.FlowID
	if s.Phase != AwaitingConfigClose {
		b.logger.Warn("configuration closed with no open flow")
	}
	s.Phase = Idle
	s.FlowID = ""
	s.FlowStarted = time.Time{}
	b.setState(s)

	cancelled := CloseResult{Outcome: OutcomeCancelled, FlowID: flowID}

	if !options.Plausible(response) {
		b.logger.Info("cancelled", "flow_id", flowID)
		return cancelled, nil
	}

	doc, rec, err := options.ParseResponse(response)
	if err != nil {
		b.logger.Warn("cancelled", "flow_id", flowID, "error", err)
		return cancelled, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if err := b.repo.Save(doc); err != nil {
		return cancelled, err
	}

	payload, missing := b.variant.Message(rec)
	if len(missing) > 0 {
		b.logger.Debug("options missing from response", "flow_id", flowID, "missing", missing)
	}

	msg := device.NewMessage(flowID, payload)
	logger := b.logger.With("flow_id", flowID, "message_id", msg.ID)
	b.channel.Send(msg,
		func() {
			logger.Info("options sent to device successfully")
		},
		func(err error) {
			logger.Warn("options not sent to device: " + err.Error())
		},
	)

	return CloseResult{
		Outcome:   OutcomeSaved,
		FlowID:    flowID,
		MessageID: msg.ID,
		Missing:   missing,
	}, nil
}
