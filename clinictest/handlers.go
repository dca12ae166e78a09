package clinictest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/patientportal/clinic"
	"github.com/jmcleod/patientportal/internal/util"
	"github.com/jmcleod/patientportal/patient"
)

const minPasswordLen = 6

type loginRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type authResponse struct {
	Patient *patient.Patient `json:"patient"`
	Token   string           `json:"token"`
}

type validateResponse struct {
	Valid   bool             `json:"valid"`
	Patient *patient.Patient `json:"patient,omitempty"`
}

type refreshResponse struct {
	Token string `json:"token,omitempty"`
}

type passwordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	phone := util.FoldPhone(req.PhoneNumber)
	if phone == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "phone number and password are required")
		return
	}

	s.mu.Lock()
	var acct *account
	if id, ok := s.phones[phone]; ok {
		acct = s.accounts[id]
	}
	var hash string
	var p *patient.Patient
	if acct != nil {
		hash, p = acct.passwordHash, acct.patient.Clone()
	}
	s.mu.Unlock()

	if p == nil || !util.VerifyPassword(req.Password, hash) {
		s.logger.Info("login failed", slog.String("phone_suffix", suffix(phone)))
		writeError(w, http.StatusUnauthorized, "Invalid phone number or password")
		return
	}

	token, err := s.startSession(w, r, p.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Patient: p, Token: token})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req clinic.Registration
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pd := req.PersonalDetails
	pd.Name = strings.TrimSpace(pd.Name)
	pd.PhoneNumber = util.FoldPhone(pd.PhoneNumber)
	switch {
	case pd.Name == "":
		writeError(w, http.StatusBadRequest, "name is required")
		return
	case pd.PhoneNumber == "":
		writeError(w, http.StatusBadRequest, "phone number is required")
		return
	case len(req.Password) < minPasswordLen:
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	hash, err := util.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hashing password")
		return
	}
	p := &patient.Patient{
		PersonalDetails:  pd,
		MedicalDetails:   req.MedicalDetails,
		EmergencyContact: req.EmergencyContact,
		Insurance:        req.Insurance,
		Preferences:      req.Preferences,
	}

	s.mu.Lock()
	if _, exists := s.phones[pd.PhoneNumber]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "phone number already registered")
		return
	}
	s.insertLocked(p, hash)
	p = p.Clone()
	s.mu.Unlock()

	body, err := flatten(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.omitRegisterToken {
		token, err := s.startSession(w, r, p.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		body["token"] = token
	}
	writeJSON(w, http.StatusCreated, body)
}

// flatten renders p as a JSON object so a token can sit beside its fields.
func flatten(p *patient.Patient) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}
	s.mu.Lock()
	id, ok := s.refresh[c.Value]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	token, err := s.issueToken(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.omitRefreshToken {
		writeJSON(w, http.StatusOK, refreshResponse{})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Token: token})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.Patient(patientIDFromContext(r.Context()))
	if !ok {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, Patient: p})
}

func (s *Server) getPatient(w http.ResponseWriter, r *http.Request) {
	p, ok := s.Patient(patientIDFromContext(r.Context()))
	if !ok {
		writeError(w, http.StatusNotFound, "patient not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updatePatient(w http.ResponseWriter, r *http.Request) {
	var u patient.Update
	if err := decodeJSON(w, r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if u.PersonalDetails != nil && strings.TrimSpace(u.PersonalDetails.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[patientIDFromContext(r.Context())]
	if !ok {
		writeError(w, http.StatusNotFound, "patient not found")
		return
	}
	p := acct.patient
	if u.PersonalDetails != nil {
		pd := *u.PersonalDetails
		pd.PhoneNumber = util.FoldPhone(pd.PhoneNumber)
		if pd.PhoneNumber == "" {
			pd.PhoneNumber = p.PersonalDetails.PhoneNumber
		}
		if pd.PhoneNumber != p.PersonalDetails.PhoneNumber {
			if _, taken := s.phones[pd.PhoneNumber]; taken {
				writeError(w, http.StatusConflict, "phone number already registered")
				return
			}
			delete(s.phones, p.PersonalDetails.PhoneNumber)
			s.phones[pd.PhoneNumber] = p.ID
		}
		p.PersonalDetails = pd
	}
	if u.MedicalDetails != nil {
		p.MedicalDetails = withLists(*u.MedicalDetails)
	}
	if u.EmergencyContact != nil {
		p.EmergencyContact = *u.EmergencyContact
	}
	if u.Insurance != nil {
		p.Insurance = *u.Insurance
	}
	if u.Preferences != nil {
		p.Preferences = *u.Preferences
	}
	p.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, p.Clone())
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.NewPassword) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}
	hash, err := util.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hashing password")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[patientIDFromContext(r.Context())]
	if !ok {
		writeError(w, http.StatusNotFound, "patient not found")
		return
	}
	acct.passwordHash = hash
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listAppointments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	acct, ok := s.accounts[patientIDFromContext(r.Context())]
	appts := []clinic.Appointment{}
	if ok {
		appts = append(appts, acct.appointments...)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "patient not found")
		return
	}
	writeJSON(w, http.StatusOK, appts)
}

// suffix keeps only the last digits of a phone number for logs.
func suffix(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[len(phone)-4:]
}
