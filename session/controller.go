// Package session owns the client-side authentication lifecycle: the
// durable token store, the inactivity monitor and the controller that
// reconciles both with the clinic API into a single authenticated state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/patientportal/clinic"
	"github.com/jmcleod/patientportal/patient"
)

// State is the controller's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateValidating
	StateAuthenticated
	StateUnauthenticated
	StateLoggingOut
	StateExpiring
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValidating:
		return "validating"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoggingOut:
		return "logging_out"
	case StateExpiring:
		return "expiring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExpiryReason says why a session was forced closed.
type ExpiryReason int

const (
	// ExpiryInactivity is a purely time-based expiry. The server is not
	// contacted.
	ExpiryInactivity ExpiryReason = iota + 1
	// ExpiryServerRejected follows a 401 the gateway could not recover.
	ExpiryServerRejected
)

func (r ExpiryReason) String() string {
	switch r {
	case ExpiryInactivity:
		return "inactivity"
	case ExpiryServerRejected:
		return "server_rejected"
	default:
		return "unknown"
	}
}

// ExpiredEvent is delivered to subscribers when an authenticated session
// is forced closed.
type ExpiredEvent struct {
	Reason    ExpiryReason
	PatientID patient.ID
	At        time.Time
}

var (
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInactive is recorded when a stored session was idle too long.
	ErrInactive = errors.New("session expired due to inactivity")
	// ErrInvalidSession is returned when the server reports the stored
	// token as invalid.
	ErrInvalidSession = errors.New("stored session is no longer valid")
	// ErrMissingToken is returned when a login response carries no token.
	ErrMissingToken = errors.New("login response carries no token")
)

// Gateway is the subset of the clinic client the controller drives.
type Gateway interface {
	Validate(ctx context.Context) (*clinic.ValidateResult, error)
	Login(ctx context.Context, phone, password string) (*clinic.AuthResult, error)
	Register(ctx context.Context, reg clinic.Registration) (*clinic.AuthResult, error)
	Logout(ctx context.Context, token string) error
	GetPatient(ctx context.Context, id patient.ID) (*patient.Patient, error)
	UpdatePatient(ctx context.Context, id patient.ID, update patient.Update) (*patient.Patient, error)
	ChangePassword(ctx context.Context, id patient.ID, newPassword string) error
	ListAppointments(ctx context.Context, id patient.ID) ([]clinic.Appointment, error)
	ResetRefreshAttempts()
	OnSessionExpired(fn clinic.ExpiryHandler)
}

// Controller is the session state machine. One instance is created by the
// application root and shared by everything that needs the session.
type Controller struct {
	gateway  Gateway
	store    *TokenStore
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
	interval time.Duration
	monitor  bool

	mu          sync.Mutex
	state       State
	patient     *Patient
	active      bool
	errMsg      string
	stopMonitor func()
	subs        map[int]func(ExpiredEvent)
	nextSub     int
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithInactivityTimeout sets how long a session may stay idle.
func WithInactivityTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithCheckInterval sets how often the inactivity monitor polls.
func WithCheckInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// WithoutMonitor disables the background inactivity monitor. The boot-time
// inactivity check still applies.
func WithoutMonitor() Option {
	return func(c *Controller) { c.monitor = false }
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a Controller and registers it as the gateway's expiry
// handler.
func New(gateway Gateway, store *TokenStore, opts ...Option) *Controller {
	c := &Controller{
		gateway:  gateway,
		store:    store,
		now:      time.Now,
		timeout:  DefaultInactivityTimeout,
		interval: DefaultCheckInterval,
		monitor:  true,
		subs:     make(map[int]func(ExpiredEvent)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	c.logger = c.logger.With("component", "session")
	gateway.OnSessionExpired(func(ctx context.Context) {
		c.Expire(ctx, ExpiryServerRejected)
	})
	return c
}

// Init restores the stored session and validates it with the server. It
// returns an error only when a stored session had to be discarded; the
// controller ends Authenticated or Unauthenticated either way.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return nil
	}
	c.state = StateValidating
	c.mu.Unlock()

	stored := c.store.Load()
	if stored.Token == "" {
		c.settle(StateUnauthenticated, "")
		return nil
	}
	if c.store.IsExpired(c.timeout) {
		c.logger.Info("stored session idle past timeout, discarding")
		c.store.Clear()
		c.settle(StateUnauthenticated, ErrInactive.Error())
		return ErrInactive
	}

	res, err := c.gateway.Validate(ctx)
	if err != nil {
		c.logger.Warn("validating stored session failed", slog.String("error", err.Error()))
		c.store.Clear()
		c.settle(StateUnauthenticated, clinic.UserMessage(err))
		return fmt.Errorf("validating session: %w", err)
	}
	if !res.Valid {
		c.store.Clear()
		c.settle(StateUnauthenticated, ErrInvalidSession.Error())
		return ErrInvalidSession
	}

	p := stored.Patient
	if res.Token != "" {
		if err := c.store.SetToken(res.Token); err != nil {
			c.logger.Warn("storing validated token failed", slog.String("error", err.Error()))
		}
	}
	if res.Patient != nil {
		p = res.Patient
		if err := c.store.SetPatient(p); err != nil {
			c.logger.Warn("storing validated patient failed", slog.String("error", err.Error()))
		}
	}
	c.authenticated(p)
	c.logger.Info("session restored", slog.String("patient_id", p.ID.String()))
	return nil
}

// Login authenticates with phone number and password.
func (c *Controller) Login(ctx context.Context, phone, password string) (*Patient, error) {
	res, err := c.gateway.Login(ctx, phone, password)
	if err != nil {
		return nil, c.fail(fmt.Errorf("logging in: %w", err))
	}
	return c.begin(res)
}

// Register creates a patient and authenticates as it. When the server
// issues no token with the registration a login is performed.
func (c *Controller) Register(ctx context.Context, reg clinic.Registration) (*Patient, error) {
	res, err := c.gateway.Register(ctx, reg)
	if err != nil {
		return nil, c.fail(fmt.Errorf("registering: %w", err))
	}
	if res.Token == "" {
		c.logger.Info("registration returned no token, logging in")
		return c.Login(ctx, reg.PersonalDetails.PhoneNumber, reg.Password)
	}
	return c.begin(res)
}

func (c *Controller) begin(res *clinic.AuthResult) (*Patient, error) {
	if res.Token == "" {
		return nil, c.fail(ErrMissingToken)
	}
	c.gateway.ResetRefreshAttempts()
	if err := c.store.Save(res.Token, res.Patient); err != nil {
		return nil, c.fail(err)
	}
	c.authenticated(res.Patient)
	c.logger.Info("logged in", slog.String("patient_id", res.Patient.ID.String()))
	return res.Patient.Clone(), nil
}

// fail discards any partial session and records err.
func (c *Controller) fail(err error) error {
	c.store.Clear()
	c.mu.Lock()
	c.stopMonitorLocked()
	c.resetLocked()
	c.state = StateUnauthenticated
	c.errMsg = clinic.UserMessage(err)
	c.mu.Unlock()
	return err
}

// UpdatePatient saves a partial profile and replaces the cached patient.
func (c *Controller) UpdatePatient(ctx context.Context, update patient.Update) (*Patient, error) {
	id, err := c.currentID()
	if err != nil {
		return nil, err
	}
	p, err := c.gateway.UpdatePatient(ctx, id, update)
	if err != nil {
		return nil, c.record(fmt.Errorf("updating patient: %w", err))
	}
	c.replacePatient(id, p)
	return p.Clone(), nil
}

// RefreshPatient reloads the current patient from the server and replaces
// the cached copy.
func (c *Controller) RefreshPatient(ctx context.Context) (*Patient, error) {
	id, err := c.currentID()
	if err != nil {
		return nil, err
	}
	p, err := c.gateway.GetPatient(ctx, id)
	if err != nil {
		return nil, c.record(fmt.Errorf("fetching patient: %w", err))
	}
	c.replacePatient(id, p)
	return p.Clone(), nil
}

// replacePatient caches p unless the session changed while it was fetched.
func (c *Controller) replacePatient(id patient.ID, p *Patient) {
	c.mu.Lock()
	current := c.state == StateAuthenticated && c.patient != nil && c.patient.ID == id
	if current {
		c.patient = p
		c.errMsg = ""
	}
	c.mu.Unlock()
	if current {
		if err := c.store.SetPatient(p); err != nil {
			c.logger.Warn("storing patient failed", slog.String("error", err.Error()))
		}
	}
}

// ChangePassword sets a new password for the current patient.
func (c *Controller) ChangePassword(ctx context.Context, newPassword string) error {
	id, err := c.currentID()
	if err != nil {
		return err
	}
	if err := c.gateway.ChangePassword(ctx, id, newPassword); err != nil {
		return c.record(fmt.Errorf("changing password: %w", err))
	}
	return nil
}

// Appointments lists the current patient's appointments.
func (c *Controller) Appointments(ctx context.Context) ([]clinic.Appointment, error) {
	id, err := c.currentID()
	if err != nil {
		return nil, err
	}
	appts, err := c.gateway.ListAppointments(ctx, id)
	if err != nil {
		return nil, c.record(fmt.Errorf("listing appointments: %w", err))
	}
	return appts, nil
}

// Logout ends the session. Server invalidation is best effort; local state
// is always cleared.
func (c *Controller) Logout(ctx context.Context) {
	token := c.store.Token()
	c.mu.Lock()
	c.state = StateLoggingOut
	c.stopMonitorLocked()
	c.mu.Unlock()

	if token != "" {
		if err := c.gateway.Logout(ctx, token); err != nil {
			c.logger.Warn("server logout failed", slog.String("error", err.Error()))
		}
	}
	c.store.Clear()
	c.settle(StateUnauthenticated, "")
	c.logger.Info("logged out")
}

// Expire force-closes an authenticated session. It has the same end state
// as Logout and notifies subscribers once. Calls while not authenticated
// are ignored.
func (c *Controller) Expire(ctx context.Context, reason ExpiryReason) {
	c.mu.Lock()
	if c.state != StateAuthenticated {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("ignoring expiry", slog.String("reason", reason.String()), slog.String("state", state.String()))
		return
	}
	c.state = StateExpiring
	var id patient.ID
	if c.patient != nil {
		id = c.patient.ID
	}
	c.stopMonitorLocked()
	c.mu.Unlock()

	// The gateway may have rotated the token since login.
	token := c.store.Token()
	if reason == ExpiryServerRejected && token != "" {
		if err := c.gateway.Logout(ctx, token); err != nil {
			c.logger.Debug("server logout after rejection failed", slog.String("error", err.Error()))
		}
	}
	c.store.Clear()

	msg := clinic.UserMessage(clinic.ErrSessionExpired)
	if reason == ExpiryInactivity {
		msg = ErrInactive.Error()
	}
	c.mu.Lock()
	c.resetLocked()
	c.state = StateUnauthenticated
	c.errMsg = msg
	subs := make([]func(ExpiredEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	c.logger.Info("session expired", slog.String("reason", reason.String()), slog.String("patient_id", id.String()))
	ev := ExpiredEvent{Reason: reason, PatientID: id, At: c.now()}
	for _, fn := range subs {
		fn(ev)
	}
}

// Subscribe registers fn for session-expired events. fn runs on the
// goroutine that detected the expiry and must not block.
func (c *Controller) Subscribe(fn func(ExpiredEvent)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{Patient: c.patient.Clone(), SessionActive: c.active}
	c.mu.Unlock()
	if snap.Patient == nil {
		return Snapshot{}
	}
	snap.Token = c.store.Token()
	if snap.Token != "" {
		snap.LastActivityAt = c.store.LastActivity()
	}
	return snap
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsAuthenticated() bool {
	c.mu.Lock()
	ok := c.patient != nil && c.active
	c.mu.Unlock()
	return ok && c.store.Token() != ""
}

// Patient returns a copy of the cached patient, or nil.
func (c *Controller) Patient() *Patient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.patient.Clone()
}

// Err returns the message of the last failure, or "".
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// Dispose stops the inactivity monitor. The session itself is kept.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.stopMonitorLocked()
	c.mu.Unlock()
}

func (c *Controller) currentID() (patient.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated || c.patient == nil || !c.active {
		return "", ErrNotAuthenticated
	}
	return c.patient.ID, nil
}

// record keeps err's user message without changing state.
func (c *Controller) record(err error) error {
	c.mu.Lock()
	c.errMsg = clinic.UserMessage(err)
	c.mu.Unlock()
	return err
}

// authenticated marks the session live. The token itself is owned by the
// store, where the gateway also writes refreshed tokens.
func (c *Controller) authenticated(p *Patient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patient = p
	c.active = true
	c.errMsg = ""
	c.state = StateAuthenticated
	c.startMonitorLocked()
}

func (c *Controller) settle(state State, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.state = state
	c.errMsg = msg
}

func (c *Controller) resetLocked() {
	c.patient = nil
	c.active = false
}

func (c *Controller) startMonitorLocked() {
	c.stopMonitorLocked()
	if !c.monitor {
		return
	}
	c.stopMonitor = StartMonitor(c.store, c.timeout, c.interval, func() {
		c.Expire(context.Background(), ExpiryInactivity)
	})
}

func (c *Controller) stopMonitorLocked() {
	if c.stopMonitor != nil {
		c.stopMonitor()
		c.stopMonitor = nil
	}
}
