package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avatarctic/email-verification/internal/core/domain/verification"
	"github.com/avatarctic/email-verification/internal/core/ports"
)

// SentEmail records one call to EmailDispatcherMock.Send
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// EmailDispatcherMock records sent messages; SendFn overrides the behaviour when set
type EmailDispatcherMock struct {
	SendFn func(ctx context.Context, to, subject, body string) error

	mu   sync.Mutex
	sent []SentEmail
}

var _ ports.EmailDispatcher = (*EmailDispatcherMock)(nil)

func (m *EmailDispatcherMock) Send(ctx context.Context, to, subject, body string) error {
	if m.SendFn != nil {
		if err := m.SendFn(ctx, to, subject, body); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *EmailDispatcherMock) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentEmail, len(m.sent))
	copy(out, m.sent)
	return out
}

// Last returns the most recently sent message, or the zero value when nothing was sent
func (m *EmailDispatcherMock) Last() SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentEmail{}
	}
	return m.sent[len(m.sent)-1]
}

// FakeClock is a manually advanced ports.Clock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ ports.Clock = (*FakeClock)(nil)

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SequenceCodeGenerator returns zero padded codes 1, 2, 3... in order
type SequenceCodeGenerator struct {
	mu  sync.Mutex
	n   int
	Err error
}

var _ ports.CodeGenerator = (*SequenceCodeGenerator)(nil)

func (g *SequenceCodeGenerator) Generate(length int) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%0*d", length, g.n), nil
}

// SequenceHandleGenerator returns handle-1, handle-2... in order
type SequenceHandleGenerator struct {
	mu sync.Mutex
	n  int
}

var _ ports.HandleGenerator = (*SequenceHandleGenerator)(nil)

func (g *SequenceHandleGenerator) NewHandle() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("handle-%d", g.n), nil
}

// VerificationStoreMock is a lightweight mock for ports.VerificationStore
type VerificationStoreMock struct {
	CreateFn       func(ctx context.Context, s *verification.Session) (*verification.Session, error)
	UpdateFn       func(ctx context.Context, s *verification.Session) error
	GetByHandleFn  func(ctx context.Context, handle string) (*verification.Session, error)
	GetActiveForFn func(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error)
}

var _ ports.VerificationStore = (*VerificationStoreMock)(nil)

func (m *VerificationStoreMock) Create(ctx context.Context, s *verification.Session) (*verification.Session, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, s)
	}
	return s.Clone(), nil
}
func (m *VerificationStoreMock) Update(ctx context.Context, s *verification.Session) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, s)
	}
	return nil
}
func (m *VerificationStoreMock) GetByHandle(ctx context.Context, handle string) (*verification.Session, error) {
	if m.GetByHandleFn != nil {
		return m.GetByHandleFn(ctx, handle)
	}
	return nil, verification.ErrSessionNotFound
}
func (m *VerificationStoreMock) GetActiveFor(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
	if m.GetActiveForFn != nil {
		return m.GetActiveForFn(ctx, email, purpose)
	}
	return nil, verification.ErrSessionNotFound
}

// VerificationServiceMock is a lightweight mock implementing ports.VerificationService
type VerificationServiceMock struct {
	StartFn    func(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error)
	ResendFn   func(ctx context.Context, handle string) (*verification.Session, error)
	VerifyFn   func(ctx context.Context, handle, code string) (bool, error)
	GetFn      func(ctx context.Context, handle string) (*verification.Session, error)
	CompleteFn func(ctx context.Context, handle string) error
}

var _ ports.VerificationService = (*VerificationServiceMock)(nil)

func (m *VerificationServiceMock) Start(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
	if m.StartFn != nil {
		return m.StartFn(ctx, email, purpose)
	}
	return nil, nil
}
func (m *VerificationServiceMock) Resend(ctx context.Context, handle string) (*verification.Session, error) {
	if m.ResendFn != nil {
		return m.ResendFn(ctx, handle)
	}
	return nil, verification.ErrSessionNotFound
}
func (m *VerificationServiceMock) Verify(ctx context.Context, handle, code string) (bool, error) {
	if m.VerifyFn != nil {
		return m.VerifyFn(ctx, handle, code)
	}
	return false, nil
}
func (m *VerificationServiceMock) Get(ctx context.Context, handle string) (*verification.Session, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, handle)
	}
	return nil, verification.ErrSessionNotFound
}
func (m *VerificationServiceMock) Complete(ctx context.Context, handle string) error {
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, handle)
	}
	return nil
}

// HealthCheckerMock reports Err from every Check
type HealthCheckerMock struct {
	NameValue string
	Err       error
}

var _ ports.HealthChecker = (*HealthCheckerMock)(nil)

func (m *HealthCheckerMock) Name() string                    { return m.NameValue }
func (m *HealthCheckerMock) Check(ctx context.Context) error { return m.Err }
