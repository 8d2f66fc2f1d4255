package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/evaluation-cli/internal/model"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "Jane", "jane"},
		{"trims", "  Jane  ", "jane"},
		{"collapses whitespace", "Jane   Ann", "jane ann"},
		{"strips diacritics", "José", "jose"},
		{"mixed", "  MÜLLER  ", "muller"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeSchool(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"strips high school", "Lincoln High School", "lincoln"},
		{"strips high alone", "Lincoln High", "lincoln"},
		{"strips academy", "Westlake Academy", "westlake"},
		{"strips prep school", "Trinity Prep School", "trinity"},
		{"keeps core name", "Lincoln", "lincoln"},
		{"case and spacing", "  LINCOLN   HIGH SCHOOL ", "lincoln"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSchool(tt.input))
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	key := NormalizeKey(model.IdentityKey{
		GivenName:  " Jane ",
		FamilyName: "DOE",
		SchoolName: "Lincoln High School",
		StateCode:  "ga",
	})
	assert.Equal(t, model.IdentityKey{
		GivenName:  "jane",
		FamilyName: "doe",
		SchoolName: "lincoln",
		StateCode:  "GA",
	}, key)
}

func TestNormalizeKeyEquivalentInputs(t *testing.T) {
	a := NormalizeKey(model.IdentityKey{GivenName: "José", FamilyName: "García", SchoolName: "Lincoln High", StateCode: "GA"})
	b := NormalizeKey(model.IdentityKey{GivenName: "jose", FamilyName: "garcia", SchoolName: "LINCOLN HIGH SCHOOL", StateCode: "ga"})
	assert.Equal(t, a, b)
}

func TestNamesSimilar(t *testing.T) {
	assert.True(t, NamesSimilar("Jon", "Smith", "John", "Smith"))
	assert.True(t, NamesSimilar("Katharine", "Lee", "Katherine", "Lee"))
	assert.False(t, NamesSimilar("Jane", "Doe", "Michael", "Nguyen"))
}
