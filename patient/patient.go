// Package patient defines the patient profile cached by the portal and the
// normalisation applied to every payload received from the clinic API.
//
// Normalised values are always fully populated: strings default to "",
// lists to empty (non-nil) slices and nested sections are never absent, so
// callers can read p.PersonalDetails.Address.City without checks.
package patient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a patient. The clinic API has been seen to send numeric
// and string identifiers; both decode into ID.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("patient id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// List is a list of free-text entries (allergies, medications, ...). It
// accepts a JSON array, a comma separated string, or null.
type List []string

func (l *List) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*l = List{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = splitList(s)
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(List, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	*l = out
	return nil
}

func splitList(s string) List {
	out := List{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Flag is a boolean that tolerates "true"/"false" strings.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			b = false
		}
		*f = Flag(b)
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	*f = Flag(b)
	return nil
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type PersonalDetails struct {
	Name        string  `json:"name"`
	PhoneNumber string  `json:"phoneNumber"`
	Email       string  `json:"email"`
	DateOfBirth string  `json:"dateOfBirth"`
	Gender      string  `json:"gender"`
	Address     Address `json:"address"`
}

type MedicalDetails struct {
	BloodGroup         string `json:"bloodGroup"`
	Allergies          List   `json:"allergies"`
	ChronicConditions  List   `json:"chronicConditions"`
	CurrentMedications List   `json:"currentMedications"`
	PastSurgeries      List   `json:"pastSurgeries"`
}

type EmergencyContact struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	PhoneNumber  string `json:"phoneNumber"`
}

type Insurance struct {
	Provider     string `json:"provider"`
	PolicyNumber string `json:"policyNumber"`
	ValidUntil   string `json:"validUntil"`
}

type Preferences struct {
	Language            string `json:"language"`
	CommunicationMethod string `json:"communicationMethod"`
	ReceiveReminders    Flag   `json:"receiveReminders"`
}

// Patient is the normalised profile snapshot.
type Patient struct {
	ID               ID               `json:"id"`
	PersonalDetails  PersonalDetails  `json:"personalDetails"`
	MedicalDetails   MedicalDetails   `json:"medicalDetails"`
	EmergencyContact EmergencyContact `json:"emergencyContact"`
	Insurance        Insurance        `json:"insuranceDetails"`
	Preferences      Preferences      `json:"preferences"`
	CreatedAt        string           `json:"createdAt"`
	UpdatedAt        string           `json:"updatedAt"`
}

// Name is a convenience accessor for display.
func (p *Patient) Name() string { return p.PersonalDetails.Name }

// Clone returns a deep copy of p.
func (p *Patient) Clone() *Patient {
	if p == nil {
		return nil
	}
	cp := *p
	cp.MedicalDetails.Allergies = append(List{}, p.MedicalDetails.Allergies...)
	cp.MedicalDetails.ChronicConditions = append(List{}, p.MedicalDetails.ChronicConditions...)
	cp.MedicalDetails.CurrentMedications = append(List{}, p.MedicalDetails.CurrentMedications...)
	cp.MedicalDetails.PastSurgeries = append(List{}, p.MedicalDetails.PastSurgeries...)
	return &cp
}

// Update is a partial profile sent with PUT /patients/{id}. Nil sections
// are left untouched by the server.
type Update struct {
	PersonalDetails  *PersonalDetails  `json:"personalDetails,omitempty"`
	MedicalDetails   *MedicalDetails   `json:"medicalDetails,omitempty"`
	EmergencyContact *EmergencyContact `json:"emergencyContact,omitempty"`
	Insurance        *Insurance        `json:"insuranceDetails,omitempty"`
	Preferences      *Preferences      `json:"preferences,omitempty"`
}

// Empty reports whether u carries no changes.
func (u Update) Empty() bool {
	return u.PersonalDetails == nil && u.MedicalDetails == nil && u.EmergencyContact == nil &&
		u.Insurance == nil && u.Preferences == nil
}
