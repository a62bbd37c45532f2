// Package stores holds the application state containers. Every store owns one slice of
// state, mutates it only through its commands and hands out immutable snapshots.
package stores

import (
	"context"
	"errors"
	"sync"
	"time"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"go.uber.org/zap"
)

// DefaultMessageLimit is the number of messages fetched per channel or conversation
const DefaultMessageLimit = 50

var (
	ErrChannelNotFound error = notFoundError("channel not found")
	ErrMessageNotFound error = notFoundError("message not found")
)

// notFoundError is a descriptive not-found failure that still matches gateway.ErrNotFound
type notFoundError string

func (e notFoundError) Error() string { return string(e) }

func (e notFoundError) Unwrap() error { return gateway.ErrNotFound }

// Publisher receives the events stores emit after successful commands
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// Recorder counts command outcomes
type Recorder interface {
	RecordCommand(store, command string, err error)
}

// CommandState is the loading flag and last error every store state carries
type CommandState struct {
	IsLoading bool   `json:"isLoading"`
	Error     string `json:"error,omitempty"`
}

// HasError reports whether the last command failed
func (c CommandState) HasError() bool {
	return c.Error != ""
}

// Option configures stores built by the constructors in this package
type Option interface {
	apply(*options)
}

type optionFunc func(o *options)

func (f optionFunc) apply(o *options) { f(o) }

type options struct {
	publisher    Publisher
	recorder     Recorder
	now          func() time.Time
	messageLimit int
}

func newOptions(opts []Option) options {
	o := options{
		now:          time.Now,
		messageLimit: DefaultMessageLimit,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

// WithPublisher sets the publisher events are sent to
func WithPublisher(p Publisher) Option {
	return optionFunc(func(o *options) {
		o.publisher = p
	})
}

// WithRecorder sets the recorder command outcomes are counted on
func WithRecorder(r Recorder) Option {
	return optionFunc(func(o *options) {
		o.recorder = r
	})
}

// WithClock replaces time.Now for timestamps written by stores
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) {
		o.now = now
	})
}

// WithMessageLimit sets the limit used when a load is called with a non-positive limit
func WithMessageLimit(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.messageLimit = n
		}
	})
}

// base carries what every store shares: the state lock, logger and options
type base struct {
	mu     sync.RWMutex
	name   string
	logger *zap.SugaredLogger
	opts   options
}

func (b *base) init(name string, logger *zap.SugaredLogger, opts []Option) {
	b.name = name
	b.logger = logger
	b.opts = newOptions(opts)
}

func (b *base) now() time.Time {
	return b.opts.now()
}

// begin marks a command as started
func (b *base) begin(st *CommandState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st.IsLoading = true
	st.Error = ""
}

// fail records err on st, clears loading and returns err
func (b *base) fail(st *CommandState, command string, err error, defaultMessage string) error {
	b.mu.Lock()
	st.IsLoading = false
	st.Error = errorMessage(err, defaultMessage)
	b.mu.Unlock()

	b.logger.Debugf("%s: %s failed: %v", b.name, command, err)
	b.record(command, err)
	return err
}

// doneLocked clears loading and the error after a successful command. Callers hold b.mu.
func (b *base) doneLocked(st *CommandState) {
	st.IsLoading = false
	st.Error = ""
}

func (b *base) record(command string, err error) {
	if b.opts.recorder != nil {
		b.opts.recorder.RecordCommand(b.name, command, err)
	}
}

// publish sends the event without blocking the command on delivery failures
func (b *base) publish(ctx context.Context, typ, topic string, data interface{}) {
	if b.opts.publisher == nil {
		return
	}
	e := models.Event{
		Type:      typ,
		ChannelID: topic,
		Timestamp: b.now().UnixMilli(),
		Data:      data,
	}
	if err := b.opts.publisher.Publish(ctx, e); err != nil {
		b.logger.Warnf("%s: publishing %s: %v", b.name, typ, err)
	}
}

func (b *base) clearError(st *CommandState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st.Error = ""
}

func errorMessage(err error, defaultMessage string) string {
	if err == nil || err.Error() == "" {
		return defaultMessage
	}
	return err.Error()
}

// limitOr returns limit when positive, the configured default otherwise
func (b *base) limitOr(limit int) int {
	if limit > 0 {
		return limit
	}
	return b.opts.messageLimit
}

// isNotFound reports whether err is any not-found condition
func isNotFound(err error) bool {
	return errors.Is(err, gateway.ErrNotFound)
}
