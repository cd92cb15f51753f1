package mail

import (
	"context"
	"sync"
	"time"
)

// Message is a recorded outbound email.
type Message struct {
	Kind string
	To   string
	Data any
}

// Recorder captures outbound mail for tests. Sent signals once per
// message, so tests can wait for fire-and-forget dispatches.
type Recorder struct {
	mu       sync.Mutex
	messages []Message

	Sent chan Message
	Err  error
}

var _ Dispatcher = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{Sent: make(chan Message, 16)}
}

// Messages returns a snapshot of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Wait blocks until the next message arrives or the timeout elapses.
func (r *Recorder) Wait(timeout time.Duration) (Message, bool) {
	select {
	case m := <-r.Sent:
		return m, true
	case <-time.After(timeout):
		return Message{}, false
	}
}

func (r *Recorder) record(kind, to string, data any) error {
	r.mu.Lock()
	m := Message{Kind: kind, To: to, Data: data}
	r.messages = append(r.messages, m)
	err := r.Err
	r.mu.Unlock()
	select {
	case r.Sent <- m:
	default:
	}
	return err
}

func (r *Recorder) SendVerifyEmail(ctx context.Context, to string, data VerifyEmailData) error {
	return r.record("verify", to, data)
}

func (r *Recorder) SendWelcomeEmail(ctx context.Context, to string, data WelcomeData) error {
	return r.record("welcome", to, data)
}

func (r *Recorder) SendPasswordResetEmail(ctx context.Context, to string, data PasswordResetData) error {
	return r.record("reset", to, data)
}

func (r *Recorder) SendPasswordChangedEmail(ctx context.Context, to string, data PasswordChangedData) error {
	return r.record("changed", to, data)
}
