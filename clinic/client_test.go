package clinic_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/patientportal/clinic"
	"github.com/jmcleod/patientportal/clinictest"
	"github.com/jmcleod/patientportal/patient"
)

const (
	testPhone    = "9876543210"
	testPassword = "secret"

	routeValidate = "GET /auth/validate"
	routeRefresh  = "POST /auth/refresh"
	routeLogin    = "POST /patients/login"
	routePatient  = "GET /patients/{id}"
	routeUpdate   = "PUT /patients/{id}"
)

type memTokens struct {
	mu      sync.Mutex
	token   string
	touches int
	sets    []string
}

func (m *memTokens) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *memTokens) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.sets = append(m.sets, token)
	return nil
}

func (m *memTokens) Touch() {
	m.mu.Lock()
	m.touches++
	m.mu.Unlock()
}

func (m *memTokens) touchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touches
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	srv     *clinictest.Server
	client  *clinic.Client
	tokens  *memTokens
	clock   *fakeClock
	expired *int
	id      patient.ID
}

// newHarness starts a fake API with one patient and logs the client in.
func newHarness(t *testing.T, opts ...clinic.Option) *harness {
	t.Helper()
	srv, base := clinictest.NewTestServer(t)
	id, err := srv.AddPatient("A", testPhone, testPassword)
	require.NoError(t, err)

	h := &harness{srv: srv, tokens: &memTokens{}, clock: newFakeClock(), expired: new(int), id: id}
	var mu sync.Mutex
	baseOpts := []clinic.Option{
		clinic.WithTokenSource(h.tokens),
		clinic.WithClock(h.clock.Now),
		clinic.WithExpiryHandler(func(context.Context) {
			mu.Lock()
			*h.expired++
			mu.Unlock()
		}),
	}
	h.client, err = clinic.New(base, append(baseOpts, opts...)...)
	require.NoError(t, err)

	res, err := h.client.Login(t.Context(), testPhone, testPassword)
	require.NoError(t, err)
	require.NoError(t, h.tokens.SetToken(res.Token))
	return h
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := clinic.New("/api")
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	assert.NotEmpty(t, h.tokens.Token())

	hdr := h.srv.LastHeaders(routeLogin)
	require.NotNil(t, hdr)
	assert.Empty(t, hdr.Get("Authorization"))
	assert.Empty(t, hdr.Get(clinic.CSRFHeaderName))
	assert.NotEmpty(t, hdr.Get(clinic.RequestIDHeader))
	assert.Zero(t, h.tokens.touchCount(), "login must not record activity")
}

func TestLoginFoldsFullWidthDigits(t *testing.T) {
	h := newHarness(t)
	res, err := h.client.Login(t.Context(), "９８７６５４３２１０", testPassword)
	require.NoError(t, err)
	assert.Equal(t, h.id, res.Patient.ID)
}

func TestAuthenticatedRequestHeaders(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.UpdatePatient(t.Context(), h.id, patient.Update{
		Preferences: &patient.Preferences{Language: "en"},
	})
	require.NoError(t, err)

	hdr := h.srv.LastHeaders(routeUpdate)
	assert.Equal(t, "Bearer "+h.tokens.Token(), hdr.Get("Authorization"))
	assert.NotEmpty(t, hdr.Get(clinic.CSRFHeaderName))
	assert.NotEmpty(t, hdr.Get(clinic.RequestIDHeader))
	assert.Equal(t, 1, h.tokens.touchCount())
}

func TestRequestIDsAreUnique(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Validate(t.Context())
	require.NoError(t, err)
	first := h.srv.LastHeaders(routeValidate).Get(clinic.RequestIDHeader)
	_, err = h.client.Validate(t.Context())
	require.NoError(t, err)
	assert.NotEqual(t, first, h.srv.LastHeaders(routeValidate).Get(clinic.RequestIDHeader))
}

func TestLoginErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.Login(t.Context(), testPhone, "wrong")
	require.ErrorIs(t, err, clinic.ErrInvalidCredentials)
	assert.Equal(t, "Invalid phone number or password.", clinic.UserMessage(err))
	assert.Zero(t, *h.expired, "login 401 must not expire the session")
	assert.Zero(t, h.srv.Calls(routeRefresh))

	h.srv.Fail(routeLogin, http.StatusInternalServerError, "boom")
	_, err = h.client.Login(t.Context(), testPhone, testPassword)
	require.ErrorIs(t, err, clinic.ErrServer)
	assert.Equal(t, "Server error, please try again later.", clinic.UserMessage(err))

	h.srv.Fail(routeLogin, http.StatusBadRequest, "phone number is required")
	_, err = h.client.Login(t.Context(), testPhone, testPassword)
	require.ErrorIs(t, err, clinic.ErrValidation)
	assert.Equal(t, "phone number is required", clinic.UserMessage(err))
}

func TestValidationMessageTooLong(t *testing.T) {
	h := newHarness(t)
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	h.srv.Fail(routeLogin, http.StatusUnprocessableEntity, string(long))
	_, err := h.client.Login(t.Context(), testPhone, testPassword)
	require.ErrorIs(t, err, clinic.ErrValidation)
	assert.Equal(t, "Please check your input and try again.", clinic.UserMessage(err))
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	c, err := clinic.New(base)
	require.NoError(t, err)
	_, err = c.Login(t.Context(), testPhone, testPassword)
	require.ErrorIs(t, err, clinic.ErrNetwork)
	assert.Equal(t, "Please check your internet connection.", clinic.UserMessage(err))

	var apiErr *clinic.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Zero(t, apiErr.Status)
}

func TestRefreshAndRetryOn401(t *testing.T) {
	h := newHarness(t)
	old := h.tokens.Token()
	h.srv.RevokeTokens()

	p, err := h.client.GetPatient(t.Context(), h.id)
	require.NoError(t, err)
	assert.Equal(t, "A", p.Name())

	assert.Equal(t, 1, h.srv.Calls(routeRefresh))
	assert.Equal(t, 2, h.srv.Calls(routePatient))
	assert.NotEqual(t, old, h.tokens.Token())
	assert.Equal(t, "Bearer "+h.tokens.Token(), h.srv.LastHeaders(routePatient).Get("Authorization"),
		"retry must carry the refreshed token")
	assert.Zero(t, *h.expired)
}

func TestRefreshWithoutTokenInBody(t *testing.T) {
	srv, base := clinictest.NewTestServer(t, clinictest.WithoutRefreshToken())
	_, err := srv.AddPatient("A", testPhone, testPassword)
	require.NoError(t, err)
	tokens := &memTokens{}
	c, err := clinic.New(base, clinic.WithTokenSource(tokens))
	require.NoError(t, err)
	res, err := c.Login(t.Context(), testPhone, testPassword)
	require.NoError(t, err)
	require.NoError(t, tokens.SetToken(res.Token))

	require.NoError(t, c.Refresh(t.Context()))
	assert.Equal(t, res.Token, tokens.Token())
}

func TestRetryHappensAtMostOnce(t *testing.T) {
	h := newHarness(t)
	h.srv.Fail(routePatient, http.StatusUnauthorized, "nope")

	_, err := h.client.GetPatient(t.Context(), h.id)
	require.ErrorIs(t, err, clinic.ErrSessionExpired)
	assert.Equal(t, 1, h.srv.Calls(routeRefresh))
	assert.Equal(t, 2, h.srv.Calls(routePatient))
}

func TestRepeated401GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.srv.Fail(routePatient, http.StatusUnauthorized, "nope")
	h.srv.Fail(routeRefresh, http.StatusUnauthorized, "nope")

	for i := range 5 {
		_, err := h.client.GetPatient(t.Context(), h.id)
		require.ErrorIs(t, err, clinic.ErrSessionExpired, "call %d", i)
		h.clock.Advance(clinic.DefaultRefreshCooldown + time.Second)
	}

	assert.Equal(t, clinic.DefaultMaxRefreshAttempts, h.srv.Calls(routeRefresh))
	assert.Equal(t, 5, h.srv.Calls(routePatient), "no retry after a failed refresh")
	assert.Equal(t, 5, *h.expired)

	h.client.ResetRefreshAttempts()
	h.srv.Recover(routeRefresh)
	h.srv.Recover(routePatient)
	_, err := h.client.GetPatient(t.Context(), h.id)
	require.NoError(t, err)
}

func TestRefreshCooldown(t *testing.T) {
	h := newHarness(t, clinic.WithMaxRefreshAttempts(10))

	require.NoError(t, h.client.Refresh(t.Context()))
	err := h.client.Refresh(t.Context())
	require.ErrorIs(t, err, clinic.ErrRefreshCooldown)
	assert.Equal(t, 1, h.srv.Calls(routeRefresh), "refused refresh must not reach the network")
	assert.Equal(t, "Your session has expired, please log in again.", clinic.UserMessage(err))

	h.clock.Advance(clinic.DefaultRefreshCooldown + time.Millisecond)
	require.NoError(t, h.client.Refresh(t.Context()))
	assert.Equal(t, 2, h.srv.Calls(routeRefresh))
}

func TestRefreshExhausted(t *testing.T) {
	h := newHarness(t, clinic.WithMaxRefreshAttempts(1), clinic.WithRefreshCooldown(0))
	h.srv.Fail(routeRefresh, http.StatusInternalServerError, "")

	require.Error(t, h.client.Refresh(t.Context()))
	require.ErrorIs(t, h.client.Refresh(t.Context()), clinic.ErrRefreshExhausted)
	assert.Equal(t, 1, h.srv.Calls(routeRefresh))
}

func TestRefreshEndpointNeverIntercepted(t *testing.T) {
	h := newHarness(t)
	h.srv.Fail(routeRefresh, http.StatusUnauthorized, "nope")

	err := h.client.Refresh(t.Context())
	require.ErrorIs(t, err, clinic.ErrSessionExpired)
	assert.Equal(t, 1, h.srv.Calls(routeRefresh))
	assert.Zero(t, *h.expired)
}

func TestLogoutNotIntercepted(t *testing.T) {
	h := newHarness(t)
	h.srv.Fail("POST /auth/logout", http.StatusUnauthorized, "")

	require.ErrorIs(t, h.client.Logout(t.Context(), h.tokens.Token()), clinic.ErrSessionExpired)
	assert.Zero(t, h.srv.Calls(routeRefresh))
	assert.Zero(t, *h.expired)
}

func TestLogoutUsesGivenToken(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Logout(t.Context(), "last-known"))
	assert.Equal(t, "Bearer last-known", h.srv.LastHeaders("POST /auth/logout").Get("Authorization"))
}

func TestLogoutTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	c, err := clinic.New(ts.URL, clinic.WithLogoutTimeout(50*time.Millisecond))
	require.NoError(t, err)
	start := time.Now()
	err = c.Logout(t.Context(), "tok")
	require.ErrorIs(t, err, clinic.ErrNetwork)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoginResponseWithNumericID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"patient":{"id":1,"personalDetails":{"name":"A","phoneNumber":"9876543210"}},"token":"abc"}`))
	}))
	t.Cleanup(ts.Close)

	c, err := clinic.New(ts.URL)
	require.NoError(t, err)
	res, err := c.Login(t.Context(), testPhone, testPassword)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Token)
	assert.Equal(t, patient.ID("1"), res.Patient.ID)
	assert.Equal(t, "A", res.Patient.Name())
	assert.NotNil(t, res.Patient.MedicalDetails.Allergies)
}

func TestLoginResponseWithoutPatient(t *testing.T) {
	for _, body := range []string{`{"token":"abc"}`, `{"patient":null,"token":"abc"}`, `{"patient":{},"token":"abc"}`} {
		t.Run(body, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(body))
			}))
			t.Cleanup(ts.Close)

			c, err := clinic.New(ts.URL)
			require.NoError(t, err)
			res, err := c.Login(t.Context(), testPhone, testPassword)
			require.ErrorIs(t, err, clinic.ErrMissingPatient)
			assert.Nil(t, res)
		})
	}
}

func TestLoginResponseWithMalformedToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"patient":{"id":1},"token":5}`))
	}))
	t.Cleanup(ts.Close)

	c, err := clinic.New(ts.URL)
	require.NoError(t, err)
	_, err = c.Login(t.Context(), testPhone, testPassword)
	require.ErrorIs(t, err, clinic.ErrUnknown)
}

func TestRegister(t *testing.T) {
	_, base := clinictest.NewTestServer(t)
	c, err := clinic.New(base)
	require.NoError(t, err)

	reg := clinic.Registration{Password: "secret1"}
	reg.PersonalDetails.Name = "  New Patient "
	reg.PersonalDetails.PhoneNumber = "5551234567"
	reg.MedicalDetails.Allergies = patient.List{"penicillin"}

	res, err := c.Register(t.Context(), reg)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.NotEmpty(t, res.Patient.ID)
	assert.Equal(t, "New Patient", res.Patient.Name())
	assert.Equal(t, patient.List{"penicillin"}, res.Patient.MedicalDetails.Allergies)
}

func TestRegisterWithoutToken(t *testing.T) {
	_, base := clinictest.NewTestServer(t, clinictest.WithoutRegisterToken())
	c, err := clinic.New(base)
	require.NoError(t, err)

	reg := clinic.Registration{Password: "secret1"}
	reg.PersonalDetails.Name = "B"
	reg.PersonalDetails.PhoneNumber = "5551234567"
	res, err := c.Register(t.Context(), reg)
	require.NoError(t, err)
	assert.Empty(t, res.Token)
	assert.NotEmpty(t, res.Patient.ID)
}

func TestPatientOperations(t *testing.T) {
	h := newHarness(t)
	starts := time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC)
	require.NoError(t, h.srv.AddAppointment(h.id, clinic.Appointment{
		Doctor: "Dr. Rao", Department: "Cardiology", StartsAt: starts, Status: "scheduled",
	}))

	updated, err := h.client.UpdatePatient(t.Context(), h.id, patient.Update{
		MedicalDetails: &patient.MedicalDetails{BloodGroup: "O+"},
	})
	require.NoError(t, err)
	assert.Equal(t, "O+", updated.MedicalDetails.BloodGroup)
	assert.Equal(t, "A", updated.Name())

	require.NoError(t, h.client.ChangePassword(t.Context(), h.id, "newsecret"))
	_, err = h.client.Login(t.Context(), testPhone, "newsecret")
	require.NoError(t, err)

	appts, err := h.client.ListAppointments(t.Context(), h.id)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "Dr. Rao", appts[0].Doctor)
	assert.True(t, starts.Equal(appts[0].StartsAt))
	assert.Equal(t, h.id, appts[0].PatientID)
}

func TestChangePasswordValidation(t *testing.T) {
	h := newHarness(t)
	err := h.client.ChangePassword(t.Context(), h.id, "123")
	require.ErrorIs(t, err, clinic.ErrValidation)
	assert.Equal(t, "password must be at least 6 characters", clinic.UserMessage(err))
}

func TestValidate(t *testing.T) {
	h := newHarness(t)
	res, err := h.client.Validate(t.Context())
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.NotNil(t, res.Patient)
	assert.Equal(t, h.id, res.Patient.ID)
}
