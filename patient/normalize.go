package patient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmcleod/patientportal/internal/util"
)

// ErrEmpty is returned by Normalize when the payload carries no patient.
var ErrEmpty = errors.New("empty patient payload")

// wirePatient accepts both the nested profile shape and the flat shape
// produced by older API versions.
type wirePatient struct {
	ID        ID `json:"id"`
	MongoID   ID `json:"_id"`
	PatientID ID `json:"patientId"`

	Name        string   `json:"name"`
	PhoneNumber string   `json:"phoneNumber"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email"`
	DateOfBirth string   `json:"dateOfBirth"`
	Gender      string   `json:"gender"`
	Address     *Address `json:"address"`

	PersonalDetails  *PersonalDetails  `json:"personalDetails"`
	MedicalDetails   *MedicalDetails   `json:"medicalDetails"`
	EmergencyContact *EmergencyContact `json:"emergencyContact"`
	Insurance        *Insurance        `json:"insuranceDetails"`
	Preferences      *Preferences      `json:"preferences"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Normalize decodes a possibly partial patient payload into a complete
// Patient. A payload wrapped as {"patient": {...}} is unwrapped first.
func Normalize(raw []byte) (*Patient, error) {
	raw = unwrap(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrEmpty
	}
	var w wirePatient
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decoding patient: %w", err)
	}
	return w.normalize(), nil
}

func unwrap(raw []byte) []byte {
	var env struct {
		Patient json.RawMessage `json:"patient"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Patient) > 0 && env.Patient[0] == '{' {
		return env.Patient
	}
	return raw
}

func (w *wirePatient) normalize() *Patient {
	p := &Patient{
		ID:        firstID(w.ID, w.MongoID, w.PatientID),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	if w.PersonalDetails != nil {
		p.PersonalDetails = *w.PersonalDetails
	}
	pd := &p.PersonalDetails
	pd.Name = firstString(pd.Name, w.Name)
	pd.PhoneNumber = firstString(pd.PhoneNumber, w.PhoneNumber, w.Phone)
	pd.Email = firstString(pd.Email, w.Email)
	pd.DateOfBirth = firstString(pd.DateOfBirth, w.DateOfBirth)
	pd.Gender = firstString(pd.Gender, w.Gender)
	if pd.Address == (Address{}) && w.Address != nil {
		pd.Address = *w.Address
	}
	pd.Name = strings.TrimSpace(pd.Name)
	pd.Email = strings.TrimSpace(pd.Email)
	pd.PhoneNumber = util.FoldPhone(pd.PhoneNumber)

	if w.MedicalDetails != nil {
		p.MedicalDetails = *w.MedicalDetails
	}
	if w.EmergencyContact != nil {
		p.EmergencyContact = *w.EmergencyContact
	}
	p.EmergencyContact.PhoneNumber = util.FoldPhone(p.EmergencyContact.PhoneNumber)
	if w.Insurance != nil {
		p.Insurance = *w.Insurance
	}
	if w.Preferences != nil {
		p.Preferences = *w.Preferences
	}
	p.fillDefaults()
	return p
}

// fillDefaults replaces nil lists with empty ones.
func (p *Patient) fillDefaults() {
	md := &p.MedicalDetails
	for _, l := range []*List{&md.Allergies, &md.ChronicConditions, &md.CurrentMedications, &md.PastSurgeries} {
		if *l == nil {
			*l = List{}
		}
	}
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstID(ids ...ID) ID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}
