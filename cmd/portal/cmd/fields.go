package cmd

import (
	"github.com/spf13/pflag"

	"github.com/jmcleod/patientportal/patient"
)

// profileFlags are the patient fields settable from the command line.
type profileFlags struct {
	name, phone, email, dob, gender          string
	street, city, state, postalCode, country string
	bloodGroup                               string
	allergies, conditions, medications       []string
	contactName, contactRelation, contactTel string
	language, contactMethod                  string
	reminders                                bool
}

func (f *profileFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "Full name")
	fs.StringVar(&f.phone, "phone", "", "Phone number")
	fs.StringVar(&f.email, "email", "", "Email address")
	fs.StringVar(&f.dob, "dob", "", "Date of birth (YYYY-MM-DD)")
	fs.StringVar(&f.gender, "gender", "", "Gender")
	fs.StringVar(&f.street, "street", "", "Street address")
	fs.StringVar(&f.city, "city", "", "City")
	fs.StringVar(&f.state, "state", "", "State or region")
	fs.StringVar(&f.postalCode, "postal-code", "", "Postal code")
	fs.StringVar(&f.country, "country", "", "Country")
	fs.StringVar(&f.bloodGroup, "blood-group", "", "Blood group")
	fs.StringSliceVar(&f.allergies, "allergies", nil, "Allergies, comma separated")
	fs.StringSliceVar(&f.conditions, "conditions", nil, "Chronic conditions, comma separated")
	fs.StringSliceVar(&f.medications, "medications", nil, "Current medications, comma separated")
	fs.StringVar(&f.contactName, "emergency-name", "", "Emergency contact name")
	fs.StringVar(&f.contactRelation, "emergency-relationship", "", "Emergency contact relationship")
	fs.StringVar(&f.contactTel, "emergency-phone", "", "Emergency contact phone number")
	fs.StringVar(&f.language, "language", "", "Preferred language")
	fs.StringVar(&f.contactMethod, "contact-method", "", "Preferred communication method")
	fs.BoolVar(&f.reminders, "reminders", false, "Receive appointment reminders")
}

// apply overlays the flags changed in fs onto base and returns the
// sections that were touched. Untouched sections stay nil.
func (f *profileFlags) apply(fs *pflag.FlagSet, base *patient.Patient) patient.Update {
	var u patient.Update
	set := func(name string, dst *string, v string) bool {
		if fs.Changed(name) {
			*dst = v
			return true
		}
		return false
	}

	pd := base.PersonalDetails
	changed := false
	changed = set("name", &pd.Name, f.name) || changed
	changed = set("phone", &pd.PhoneNumber, f.phone) || changed
	changed = set("email", &pd.Email, f.email) || changed
	changed = set("dob", &pd.DateOfBirth, f.dob) || changed
	changed = set("gender", &pd.Gender, f.gender) || changed
	changed = set("street", &pd.Address.Street, f.street) || changed
	changed = set("city", &pd.Address.City, f.city) || changed
	changed = set("state", &pd.Address.State, f.state) || changed
	changed = set("postal-code", &pd.Address.PostalCode, f.postalCode) || changed
	changed = set("country", &pd.Address.Country, f.country) || changed
	if changed {
		u.PersonalDetails = &pd
	}

	md := base.MedicalDetails
	changed = set("blood-group", &md.BloodGroup, f.bloodGroup)
	for _, l := range []struct {
		flag string
		dst  *patient.List
		v    []string
	}{
		{"allergies", &md.Allergies, f.allergies},
		{"conditions", &md.ChronicConditions, f.conditions},
		{"medications", &md.CurrentMedications, f.medications},
	} {
		if fs.Changed(l.flag) {
			*l.dst = append(patient.List{}, l.v...)
			changed = true
		}
	}
	if changed {
		u.MedicalDetails = &md
	}

	ec := base.EmergencyContact
	changed = set("emergency-name", &ec.Name, f.contactName)
	changed = set("emergency-relationship", &ec.Relationship, f.contactRelation) || changed
	changed = set("emergency-phone", &ec.PhoneNumber, f.contactTel) || changed
	if changed {
		u.EmergencyContact = &ec
	}

	pref := base.Preferences
	changed = set("language", &pref.Language, f.language)
	changed = set("contact-method", &pref.CommunicationMethod, f.contactMethod) || changed
	if fs.Changed("reminders") {
		pref.ReceiveReminders = patient.Flag(f.reminders)
		changed = true
	}
	if changed {
		u.Preferences = &pref
	}
	return u
}
