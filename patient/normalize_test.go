package patient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_NestedMinimal(t *testing.T) {
	p, err := Normalize([]byte(`{"id":1,"personalDetails":{"name":"A","phoneNumber":"9876543210"}}`))
	require.NoError(t, err)

	assert.Equal(t, ID("1"), p.ID)
	assert.Equal(t, "A", p.PersonalDetails.Name)
	assert.Equal(t, "9876543210", p.PersonalDetails.PhoneNumber)
	assert.Equal(t, "", p.PersonalDetails.Address.City)
	assert.NotNil(t, p.MedicalDetails.Allergies)
	assert.Empty(t, p.MedicalDetails.Allergies)
	assert.NotNil(t, p.MedicalDetails.PastSurgeries)
	assert.Equal(t, "", p.Insurance.Provider)
}

func TestNormalize_FlatShape(t *testing.T) {
	raw := `{
		"_id": "64f0c0ffee",
		"name": "  Asha Rao ",
		"phone": "+91 98765-43210",
		"email": "asha@example.com",
		"address": {"city": "Pune"},
		"medicalDetails": {"allergies": "penicillin, dust ,", "bloodGroup": "O+"}
	}`
	p, err := Normalize([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, ID("64f0c0ffee"), p.ID)
	assert.Equal(t, "Asha Rao", p.PersonalDetails.Name)
	assert.Equal(t, "+919876543210", p.PersonalDetails.PhoneNumber)
	assert.Equal(t, "asha@example.com", p.PersonalDetails.Email)
	assert.Equal(t, "Pune", p.PersonalDetails.Address.City)
	assert.Equal(t, List{"penicillin", "dust"}, p.MedicalDetails.Allergies)
	assert.Equal(t, "O+", p.MedicalDetails.BloodGroup)
	assert.Equal(t, List{}, p.MedicalDetails.CurrentMedications)
}

func TestNormalize_NestedWinsOverFlat(t *testing.T) {
	p, err := Normalize([]byte(`{"id":"7","name":"Flat","personalDetails":{"name":"Nested"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Nested", p.PersonalDetails.Name)
}

func TestNormalize_WrappedPayload(t *testing.T) {
	p, err := Normalize([]byte(`{"patient":{"id":9,"personalDetails":{"name":"W"}},"token":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, ID("9"), p.ID)
	assert.Equal(t, "W", p.PersonalDetails.Name)
}

func TestNormalize_NullsAndLooseTypes(t *testing.T) {
	raw := `{"id":null,"patientId":"p-3","medicalDetails":null,"preferences":{"receiveReminders":"true"},"emergencyContact":{"phoneNumber":"９１２３"}}`
	p, err := Normalize([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, ID("p-3"), p.ID)
	assert.True(t, bool(p.Preferences.ReceiveReminders))
	assert.Equal(t, "9123", p.EmergencyContact.PhoneNumber)
	assert.NotNil(t, p.MedicalDetails.ChronicConditions)
}

func TestNormalize_Errors(t *testing.T) {
	_, err := Normalize(nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Normalize([]byte("null"))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Normalize([]byte("{not json"))
	assert.Error(t, err)

	_, err = Normalize([]byte(`{"id": {"nested": true}}`))
	assert.Error(t, err)
}

func TestNormalize_Idempotent(t *testing.T) {
	first, err := Normalize([]byte(`{"id":1,"name":"A","medicalDetails":{"allergies":["nuts"]}}`))
	require.NoError(t, err)

	data, err := json.Marshal(first)
	require.NoError(t, err)
	second, err := Normalize(data)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClone(t *testing.T) {
	p, err := Normalize([]byte(`{"id":1,"medicalDetails":{"allergies":["nuts"]}}`))
	require.NoError(t, err)
	cp := p.Clone()
	cp.MedicalDetails.Allergies[0] = "changed"
	cp.PersonalDetails.Name = "other"
	assert.Equal(t, List{"nuts"}, p.MedicalDetails.Allergies)
	assert.Equal(t, "", p.PersonalDetails.Name)

	var nilPatient *Patient
	assert.Nil(t, nilPatient.Clone())
}

func TestUpdateEmpty(t *testing.T) {
	assert.True(t, Update{}.Empty())
	assert.False(t, Update{Preferences: &Preferences{Language: "en"}}.Empty())

	data, err := json.Marshal(Update{Insurance: &Insurance{Provider: "Acme"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"insuranceDetails":{"provider":"Acme","policyNumber":"","validUntil":""}}`, string(data))
}
