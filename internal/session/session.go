// Package session binds a conversion tool to a pipeline and holds the
// input, output and mode a user is currently working with.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/n0madic/go-devcodec/internal/codec"
	"github.com/n0madic/go-devcodec/internal/pipeline"
	"github.com/n0madic/go-devcodec/internal/settings"
	"github.com/n0madic/go-devcodec/internal/tools"
)

// Notifier is told once per session when a tool first converts successfully.
type Notifier interface {
	ToolSucceeded(tool string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(tool string)

func (f NotifierFunc) ToolSucceeded(tool string) { f(tool) }

// Output is the displayed result of one conversion.
type Output struct {
	Seq       uint64
	Text      string
	Succeeded bool
	// Err is the conversion error, if any. Text then holds its message,
	// except for blank input where Text is empty.
	Err error
}

// Options configures a Session. Zero values are usable.
type Options struct {
	// Store persists the mode. Defaults to an in-memory store.
	Store settings.Store
	// Notifier receives the first-success event.
	Notifier Notifier
	// Dispatcher runs result delivery and subscriber callbacks. When nil the
	// session owns a SerialDispatcher and closes it in Close.
	Dispatcher pipeline.Dispatcher
	// Pool bounds conversion concurrency. Defaults to pipeline.DefaultPool().
	Pool *pipeline.Pool
}

type conversion struct {
	Text string
	Mode tools.Mode
}

// Session is one working copy of a tool.
type Session struct {
	ID string

	tool     tools.Tool
	store    settings.Store
	notifier Notifier
	dispatch pipeline.Dispatcher
	owned    *pipeline.SerialDispatcher
	pipe     *pipeline.Pipeline[conversion, string]
	log      *slog.Logger

	mu         sync.Mutex
	input      string
	output     Output
	mode       tools.Mode
	notified   bool
	nextSubID  int
	outputSubs map[int]func(Output)
	modeSubs   map[int]func(tools.Mode)
}

// New creates a session for tool, loading its last mode from the store.
func New(tool tools.Tool, opts Options) *Session {
	if opts.Store == nil {
		opts.Store = settings.NewMemoryStore()
	}
	s := &Session{
		ID:         uuid.New().String(),
		tool:       tool,
		store:      opts.Store,
		notifier:   opts.Notifier,
		dispatch:   opts.Dispatcher,
		outputSubs: make(map[int]func(Output)),
		modeSubs:   make(map[int]func(tools.Mode)),
	}
	if s.dispatch == nil {
		s.owned = pipeline.NewSerialDispatcher()
		s.dispatch = s.owned
	}
	s.log = slog.Default().With("tool", tool.Name(), "session", s.ID)
	s.mode = loadMode(tool, s.store)
	s.pipe = pipeline.New(s.convert, s.deliver, pipeline.Options{
		Name:       tool.Name(),
		Dispatcher: s.dispatch,
		Pool:       opts.Pool,
		Attrs:      []any{"session", s.ID},
	})
	return s
}

func loadMode(tool tools.Tool, store settings.Store) tools.Mode {
	mode := tool.DefaultMode()
	if v, ok := store.Get(tool.Name(), settings.KeyDirection); ok {
		d := tools.Direction(v)
		if tools.SupportsDirection(tool, d) {
			mode.Direction = d
		} else {
			slog.Warn("session.mode.invalid", "tool", tool.Name(), "direction", v)
		}
	}
	if v, ok := store.Get(tool.Name(), settings.KeyEncoding); ok {
		enc, err := codec.ParseTextEncoding(v)
		if err != nil {
			slog.Warn("session.mode.invalid", "tool", tool.Name(), "encoding", v)
		} else {
			mode.Encoding = enc
		}
	}
	return mode
}

// Tool returns the session's tool.
func (s *Session) Tool() tools.Tool { return s.tool }

// SetInput replaces the input text and queues a conversion of it.
func (s *Session) SetInput(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
	return s.enqueueLocked()
}

func (s *Session) enqueueLocked() error {
	_, err := s.pipe.Enqueue(conversion{Text: s.input, Mode: s.mode})
	return err
}

// Input returns the current input text.
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Output returns the displayed output.
func (s *Session) Output() Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// Mode returns the current mode.
func (s *Session) Mode() tools.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// InputLanguage is the editor hint for the input under the current mode.
func (s *Session) InputLanguage() string {
	in, _ := s.tool.Languages(s.Mode())
	return in
}

// OutputLanguage is the editor hint for the output under the current mode.
func (s *Session) OutputLanguage() string {
	_, out := s.tool.Languages(s.Mode())
	return out
}

// SetMode applies m. Nothing happens when m equals the current mode.
// Otherwise the mode is persisted, then mode subscribers are notified,
// then the tool's policy decides whether the input is converted again.
func (s *Session) SetMode(m tools.Mode) error {
	if err := tools.ValidateMode(s.tool, m); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.mode
	if m == old {
		s.mu.Unlock()
		return nil
	}
	s.persistMode(old, m)
	s.mode = m

	policy := s.tool.Policy()
	var err error
	switch {
	case m.Direction != old.Direction && policy.SwapOnDirection:
		if s.output.Err == nil {
			s.input = s.output.Text
		}
		err = s.enqueueLocked()
	case m.Encoding != old.Encoding && policy.ReconvertOnEncoding:
		err = s.enqueueLocked()
	}
	subs := make([]func(tools.Mode), 0, len(s.modeSubs))
	for _, fn := range s.modeSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	s.log.Debug("session.mode.changed", "from", old.String(), "to", m.String())
	for _, fn := range subs {
		s.dispatch.Post(func() { fn(m) })
	}
	return err
}

func (s *Session) persistMode(old, m tools.Mode) {
	name := s.tool.Name()
	if old.Direction != m.Direction {
		if err := s.store.Set(name, settings.KeyDirection, string(m.Direction)); err != nil {
			s.log.Warn("session.mode.persist_failed", "key", settings.KeyDirection, "error", err)
		}
	}
	if old.Encoding != m.Encoding {
		if err := s.store.Set(name, settings.KeyEncoding, m.Encoding.String()); err != nil {
			s.log.Warn("session.mode.persist_failed", "key", settings.KeyEncoding, "error", err)
		}
	}
}

// OnOutputChanged registers fn to run on the dispatcher after each
// delivered output. The returned function unsubscribes.
func (s *Session) OnOutputChanged(fn func(Output)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.outputSubs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.outputSubs, id)
		s.mu.Unlock()
	}
}

// OnModeChanged registers fn to run on the dispatcher after each mode change.
func (s *Session) OnModeChanged(fn func(tools.Mode)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.modeSubs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.modeSubs, id)
		s.mu.Unlock()
	}
}

// Wait blocks until every queued conversion has been delivered.
func (s *Session) Wait(ctx context.Context) error {
	if err := s.pipe.Wait(ctx); err != nil {
		return err
	}
	if d, ok := s.dispatch.(interface{ Sync() }); ok {
		d.Sync()
	}
	return nil
}

// Close finishes queued work and rejects further input.
func (s *Session) Close(ctx context.Context) error {
	err := s.pipe.Close(ctx)
	if s.owned != nil {
		s.owned.Close()
	}
	return err
}

func (s *Session) convert(ctx context.Context, c conversion) (string, error) {
	if strings.TrimSpace(c.Text) == "" {
		return "", codec.ErrEmptyInput
	}
	return s.tool.Convert(ctx, c.Text, c.Mode)
}

func (s *Session) deliver(res pipeline.Result[conversion, string]) {
	out := Output{Seq: res.Seq, Text: res.Output, Succeeded: res.Err == nil, Err: res.Err}
	if res.Err != nil {
		out.Text = displayError(res.Err)
		s.logFailure(res)
	}

	s.mu.Lock()
	if shown := s.output.Seq; res.Seq <= shown {
		s.mu.Unlock()
		s.log.Debug("session.output.stale", "seq", res.Seq, "shown", shown)
		return
	}
	s.output = out
	first := out.Succeeded && !s.notified
	if first {
		s.notified = true
	}
	subs := make([]func(Output), 0, len(s.outputSubs))
	for _, fn := range s.outputSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if first && s.notifier != nil {
		s.notifier.ToolSucceeded(s.tool.Name())
	}
	for _, fn := range subs {
		fn(out)
	}
}

func displayError(err error) string {
	if errors.Is(err, codec.ErrEmptyInput) {
		return ""
	}
	return err.Error()
}

func (s *Session) logFailure(res pipeline.Result[conversion, string]) {
	var cerr *codec.Error
	switch {
	case errors.Is(res.Err, codec.ErrEmptyInput):
	case errors.As(res.Err, &cerr) && !errors.Is(res.Err, codec.ErrInternal):
		s.log.Debug("session.convert.failed", "seq", res.Seq, "mode", res.Input.Mode.String(), "kind", codec.KindName(res.Err), "error", res.Err)
	default:
		s.log.Error("session.convert.failed", "seq", res.Seq, "mode", res.Input.Mode.String(), "kind", codec.KindName(res.Err), "error", res.Err)
	}
}
