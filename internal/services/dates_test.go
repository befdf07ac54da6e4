package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Lllllllleong/documentintake/internal/models"
)

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"17th June 2023", "17/06/2023", true},
		{"Seventeenth June 2025", "17/06/2025", true},
		{"Twenty-first Sept 1999", "21/09/1999", true},
		{"June 17, 2023", "17/06/2023", true},
		{"2023-06-17", "17/06/2023", true},
		{"2023/06/17", "17/06/2023", true},
		{"17/06/2023", "17/06/2023", true},
		{"7/6/2023", "07/06/2023", true},
		{"17.06.2023", "17/06/2023", true},
		{"17-06-2023", "17/06/2023", true},
		{"17-06-23", "17/06/2023", true},
		{"3/4/75", "03/04/1975", true},
		{"died on the 3rd of March 2001", "03/03/2001", true},
		{"06/17/2023", "06/17/2023", false},
		{"17 June 23", "17 June 23", false},
		{"London", "London", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeDate(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestIsDateField(t *testing.T) {
	assert.True(t, IsDateField("deceasedDateOfDeath"))
	assert.True(t, IsDateField("dateOfBirth"))
	assert.True(t, IsDateField("deceasedCertificateIssued"))
	assert.False(t, IsDateField("funeralTotalEstimatedCost"))
}

func TestNewMappingRequestNormalizesNamesAndDates(t *testing.T) {
	req := NewMappingRequest(DocTypeDeathCertificate, []models.Field{
		{Name: "dateOfDeath", Value: "2nd January 2024", Reasoning: "from the entry", Confidence: 0.9},
		{Name: "placeOfDeath", Value: "Leeds General Infirmary", Confidence: 0.7},
		{Name: "dateOfBirth", Value: "not stated", Confidence: 0.2},
	}, map[string]string{"caseId": "c-1"})

	assert.Equal(t, DocTypeDeathCertificate, req.DocumentType)
	assert.Equal(t, "c-1", req.ContextData["caseId"])

	death := req.ExtractedData["deceasedDateOfDeath"]
	assert.Equal(t, "02/01/2024", death.Value)
	assert.Equal(t, "from the entry (normalized from: 2nd January 2024)", death.Reasoning)
	assert.Equal(t, 0.9, death.Confidence)

	assert.Equal(t, "Leeds General Infirmary", req.ExtractedData["deceasedPlaceOfDeath"].Value)
	assert.Equal(t, "not stated", req.ExtractedData["deceasedDateOfBirth"].Value)
}
