package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/patientportal/internal/util"
	"github.com/jmcleod/patientportal/patient"
)

const (
	pathValidate = "/auth/validate"
	pathRefresh  = "/auth/refresh"
	pathLogout   = "/auth/logout"
	pathLogin    = "/patients/login"
	pathPatients = "/patients"
)

// ErrMissingPatient is returned when a login or registration response does
// not carry a usable patient record.
var ErrMissingPatient = errors.New("response carries no patient")

// AuthResult is the outcome of a successful login or registration.
type AuthResult struct {
	Patient *patient.Patient
	// Token is empty when the server issued none.
	Token string
}

// ValidateResult is the outcome of validating the current token.
type ValidateResult struct {
	Valid bool
	// Patient is nil when the server did not include one.
	Patient *patient.Patient
	// Token is a replacement credential, empty when none was issued.
	Token string
}

// Registration is the full profile submitted to create a patient.
type Registration struct {
	PersonalDetails  patient.PersonalDetails  `json:"personalDetails"`
	MedicalDetails   patient.MedicalDetails   `json:"medicalDetails"`
	EmergencyContact patient.EmergencyContact `json:"emergencyContact"`
	Insurance        patient.Insurance        `json:"insuranceDetails"`
	Preferences      patient.Preferences      `json:"preferences"`
	Password         string                   `json:"password"`
}

// Appointment is a booked clinic visit as listed for a patient.
type Appointment struct {
	ID         patient.ID `json:"id"`
	PatientID  patient.ID `json:"patientId"`
	Doctor     string     `json:"doctorName"`
	Department string     `json:"department"`
	StartsAt   time.Time  `json:"appointmentDate"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
}

type credentials struct {
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type tokenEnvelope struct {
	Token string `json:"token"`
}

// Validate checks the stored token with the server.
func (c *Client) Validate(ctx context.Context) (*ValidateResult, error) {
	req := request{method: http.MethodGet, path: pathValidate, authenticated: true, intercept: true}
	var raw json.RawMessage
	if err := c.do(ctx, req, &raw); err != nil {
		return nil, err
	}
	var body struct {
		Valid   bool            `json:"valid"`
		Patient json.RawMessage `json:"patient"`
		Token   string          `json:"token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &APIError{Category: CategoryUnknown, Op: req.op(), Err: fmt.Errorf("decoding validate response: %w", err)}
	}
	res := &ValidateResult{Valid: body.Valid, Token: body.Token}
	if p, err := patient.Normalize(body.Patient); err == nil {
		res.Patient = p
	}
	return res, nil
}

// Login authenticates with phone number and password. The call carries no
// bearer or CSRF header and is never intercepted.
func (c *Client) Login(ctx context.Context, phone, password string) (*AuthResult, error) {
	req, err := newRequest(http.MethodPost, pathLogin, credentials{
		PhoneNumber: util.FoldPhone(phone),
		Password:    password,
	})
	if err != nil {
		return nil, err
	}
	req.credentialOp = true
	return c.authenticate(ctx, req)
}

// Register creates a patient. The response is the patient itself, possibly
// with a token alongside its fields.
func (c *Client) Register(ctx context.Context, reg Registration) (*AuthResult, error) {
	reg.PersonalDetails.PhoneNumber = util.FoldPhone(reg.PersonalDetails.PhoneNumber)
	reg.PersonalDetails.Name = strings.TrimSpace(reg.PersonalDetails.Name)
	req, err := newRequest(http.MethodPost, pathPatients, reg)
	if err != nil {
		return nil, err
	}
	return c.authenticate(ctx, req)
}

func (c *Client) authenticate(ctx context.Context, req request) (*AuthResult, error) {
	var raw json.RawMessage
	if err := c.do(ctx, req, &raw); err != nil {
		return nil, err
	}
	var tok tokenEnvelope
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, &APIError{Category: CategoryUnknown, Op: req.op(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	p, err := decodePatient(req, raw)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Patient: p, Token: tok.Token}, nil
}

// decodePatient normalises raw and rejects a record without an ID, which
// is what a body holding only a token normalises to.
func decodePatient(req request, raw []byte) (*patient.Patient, error) {
	p, err := patient.Normalize(raw)
	if err == nil && p.ID == "" {
		err = errors.New("no patient id")
	}
	if err != nil {
		return nil, &APIError{Category: CategoryUnknown, Op: req.op(), Err: fmt.Errorf("%w: %v", ErrMissingPatient, err)}
	}
	return p, nil
}

// Logout invalidates token on the server. It is bounded by the logout
// timeout and never intercepted. An empty token sends no Authorization
// header; the refresh cookie alone identifies the session.
func (c *Client) Logout(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.logoutTimeout)
	defer cancel()
	req := request{method: http.MethodPost, path: pathLogout, authenticated: true, bearer: token, fixedBearer: true}
	return c.do(ctx, req, nil)
}

// UpdatePatient sends a partial update and returns the stored patient.
func (c *Client) UpdatePatient(ctx context.Context, id patient.ID, update patient.Update) (*patient.Patient, error) {
	req, err := newRequest(http.MethodPut, patientPath(id), update)
	if err != nil {
		return nil, err
	}
	return c.patientCall(ctx, req)
}

// GetPatient fetches the current server copy of a patient.
func (c *Client) GetPatient(ctx context.Context, id patient.ID) (*patient.Patient, error) {
	return c.patientCall(ctx, request{method: http.MethodGet, path: patientPath(id)})
}

func (c *Client) patientCall(ctx context.Context, req request) (*patient.Patient, error) {
	req.authenticated, req.intercept = true, true
	var raw json.RawMessage
	if err := c.do(ctx, req, &raw); err != nil {
		return nil, err
	}
	return decodePatient(req, raw)
}

// ChangePassword sets a new password for the patient.
func (c *Client) ChangePassword(ctx context.Context, id patient.ID, newPassword string) error {
	req, err := newRequest(http.MethodPost, patientPath(id)+"/password", map[string]string{"newPassword": newPassword})
	if err != nil {
		return err
	}
	req.authenticated, req.intercept = true, true
	return c.do(ctx, req, nil)
}

// ListAppointments returns the patient's appointments in server order.
func (c *Client) ListAppointments(ctx context.Context, id patient.ID) ([]Appointment, error) {
	req := request{method: http.MethodGet, path: patientPath(id) + "/appointments", authenticated: true, intercept: true}
	appts := []Appointment{}
	if err := c.do(ctx, req, &appts); err != nil {
		return nil, err
	}
	return appts, nil
}

func patientPath(id patient.ID) string {
	return pathPatients + "/" + url.PathEscape(id.String())
}
