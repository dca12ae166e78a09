// Package clinictest provides an in-process fake of the clinic REST API.
//
// The fake implements the documented contract in openapi.yaml: phone and
// password login, registration, bearer tokens signed as JWTs, an HttpOnly
// refresh cookie, a double-submit CSRF cookie and per-patient profile and
// appointment routes. Tests steer it with failure knobs and inspect it
// through call counters.
package clinictest

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/patientportal/clinic"
	"github.com/jmcleod/patientportal/internal/util"
	"github.com/jmcleod/patientportal/patient"
)

//go:embed openapi.yaml
var openapiSpec []byte

// OpenAPISpec returns the embedded API contract.
func OpenAPISpec() []byte { return openapiSpec }

// DefaultTokenTTL is how long an issued bearer token stays valid.
const DefaultTokenTTL = 15 * time.Minute

type account struct {
	patient      *patient.Patient
	passwordHash string
	appointments []clinic.Appointment
}

// Server is the fake clinic API.
type Server struct {
	basePath string
	logger   *slog.Logger
	now      func() time.Time
	tokenTTL time.Duration
	key      []byte

	omitRegisterToken bool
	omitRefreshToken  bool

	mu         sync.Mutex
	accounts   map[patient.ID]*account
	phones     map[string]patient.ID
	refresh    map[string]patient.ID
	generation int
	nextID     int
	failures   map[string]failure
	calls      map[string]int
	headers    map[string]http.Header
}

type failure struct {
	status  int
	message string
	// remaining is the number of requests still to fail; negative is forever.
	remaining int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock overrides time.Now for token issue and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithTokenTTL sets bearer token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithBasePath sets the prefix the router is mounted under, used for the
// documentation routes.
func WithBasePath(p string) Option {
	return func(s *Server) { s.basePath = p }
}

// WithoutRegisterToken makes registration return the patient without a
// token, forcing clients to log in afterwards.
func WithoutRegisterToken() Option {
	return func(s *Server) { s.omitRegisterToken = true }
}

// WithoutRefreshToken makes refresh succeed without returning a new bearer
// token in the body.
func WithoutRefreshToken() Option {
	return func(s *Server) { s.omitRefreshToken = true }
}

// New creates an empty fake API.
func New(opts ...Option) *Server {
	s := &Server{
		basePath: "/api",
		now:      time.Now,
		tokenTTL: DefaultTokenTTL,
		accounts: make(map[patient.ID]*account),
		phones:   make(map[string]patient.ID),
		refresh:  make(map[string]patient.ID),
		failures: make(map[string]failure),
		calls:    make(map[string]int),
		headers:  make(map[string]http.Header),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("component", "clinictest")
	key, err := util.RandomBytes(32)
	if err != nil {
		panic(fmt.Sprintf("clinictest: generating signing key: %v", err))
	}
	s.key = key
	return s
}

// NewTestServer starts s behind an httptest.Server mounted at the base path
// and returns the server together with the API base URL. The listener is
// closed when the test finishes.
func NewTestServer(t testing.TB, opts ...Option) (*Server, string) {
	t.Helper()
	s := New(opts...)
	r := chi.NewRouter()
	r.Mount(s.basePath, s.Router())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return s, ts.URL + s.basePath
}

// Router returns a chi.Router with all API routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: s.basePath + "/openapi.yaml",
		Path:    trimSlash(s.basePath + "/docs"),
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: s.basePath + "/openapi.yaml",
		Path:    trimSlash(s.basePath + "/redoc"),
	}, nil))

	s.route(r, http.MethodPost, "/patients/login", s.login)
	s.route(r, http.MethodPost, "/patients", s.register)
	s.route(r, http.MethodPost, "/auth/refresh", s.csrf(s.refreshToken))
	s.route(r, http.MethodPost, "/auth/logout", s.logout)
	s.route(r, http.MethodGet, "/auth/validate", s.auth(s.validate))
	s.route(r, http.MethodGet, "/patients/{id}", s.auth(s.owner(s.getPatient)))
	s.route(r, http.MethodPut, "/patients/{id}", s.auth(s.csrf(s.owner(s.updatePatient))))
	s.route(r, http.MethodPost, "/patients/{id}/password", s.auth(s.csrf(s.owner(s.changePassword))))
	s.route(r, http.MethodGet, "/patients/{id}/appointments", s.auth(s.owner(s.listAppointments)))

	return r
}

// route registers h under "METHOD pattern", counting calls and applying
// injected failures before the handler runs.
func (s *Server) route(r chi.Router, method, pattern string, h http.HandlerFunc) {
	key := method + " " + pattern
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		s.calls[key]++
		s.headers[key] = req.Header.Clone()
		f, failing := s.failures[key]
		if failing {
			if f.remaining > 0 {
				f.remaining--
				if f.remaining == 0 {
					delete(s.failures, key)
				} else {
					s.failures[key] = f
				}
			}
		}
		s.mu.Unlock()

		s.logger.Debug("request",
			slog.String("route", key),
			slog.String("request_id", req.Header.Get(clinic.RequestIDHeader)))

		if failing {
			writeError(w, f.status, f.message)
			return
		}
		h(w, req)
	}))
}

// Fail makes every request to route ("METHOD /pattern") answer status with
// message until Recover is called.
func (s *Server) Fail(route string, status int, message string) {
	s.FailN(route, -1, status, message)
}

// FailN fails the next n requests to route. A negative n fails forever.
func (s *Server) FailN(route string, n, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == 0 {
		delete(s.failures, route)
		return
	}
	s.failures[route] = failure{status: status, message: message, remaining: n}
}

// Recover removes any failure injected for route.
func (s *Server) Recover(route string) {
	s.mu.Lock()
	delete(s.failures, route)
	s.mu.Unlock()
}

// Calls returns how many requests reached route, failed ones included.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// LastHeaders returns the headers of the most recent request to route, or
// nil when none arrived.
func (s *Server) LastHeaders(route string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[route].Clone()
}

// RevokeTokens invalidates every bearer token issued so far. Refresh
// cookies stay valid.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// RevokeSessions invalidates bearer tokens and refresh cookies.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	s.generation++
	clear(s.refresh)
	s.mu.Unlock()
}

// AddPatient seeds an account and returns its id.
func (s *Server) AddPatient(name, phone, password string) (patient.ID, error) {
	hash, err := util.HashPassword(password)
	if err != nil {
		return "", err
	}
	p := &patient.Patient{PersonalDetails: patient.PersonalDetails{Name: name, PhoneNumber: util.FoldPhone(phone)}}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.phones[p.PersonalDetails.PhoneNumber]; ok {
		return "", fmt.Errorf("phone number %s already registered", phone)
	}
	return s.insertLocked(p, hash), nil
}

// AddAppointment attaches an appointment to a patient.
func (s *Server) AddAppointment(id patient.ID, appt clinic.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("patient %s not found", id)
	}
	appt.PatientID = id
	if appt.ID == "" {
		appt.ID = patient.ID(strconv.Itoa(len(acct.appointments) + 1))
	}
	acct.appointments = append(acct.appointments, appt)
	return nil
}

// Patient returns a copy of the stored patient.
func (s *Server) Patient(id patient.ID) (*patient.Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	return acct.patient.Clone(), true
}

func (s *Server) insertLocked(p *patient.Patient, hash string) patient.ID {
	s.nextID++
	p.ID = patient.ID(strconv.Itoa(s.nextID))
	stamp := s.now().UTC().Format(time.RFC3339)
	p.CreatedAt, p.UpdatedAt = stamp, stamp
	p.MedicalDetails = withLists(p.MedicalDetails)
	s.accounts[p.ID] = &account{patient: p, passwordHash: hash}
	s.phones[p.PersonalDetails.PhoneNumber] = p.ID
	return p.ID
}

func withLists(md patient.MedicalDetails) patient.MedicalDetails {
	for _, l := range []*patient.List{&md.Allergies, &md.ChronicConditions, &md.CurrentMedications, &md.PastSurgeries} {
		if *l == nil {
			*l = patient.List{}
		}
	}
	return md
}

func trimSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}
