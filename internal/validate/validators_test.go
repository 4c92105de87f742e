package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborintel/port-research/internal/model"
)

func TestEnum_ExactMatch(t *testing.T) {
	r := Enum("large", model.PortSizes)
	assert.True(t, r.IsValid)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, "large", r.CorrectedValue)
}

func TestEnum_CaseFoldNormalizes(t *testing.T) {
	r := Enum("  LARGE ", model.PortSizes)
	assert.True(t, r.IsValid)
	assert.Equal(t, "large", r.CorrectedValue)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "canonical casing")
}

func TestEnum_SubstringSuggests(t *testing.T) {
	r := Enum("terminal", model.OperatorTypes)
	assert.False(t, r.IsValid)
	require.NotEmpty(t, r.Errors)
	assert.Equal(t, []string{"terminal operator"}, r.Suggestions)
}

func TestEnum_NoMatchListsValues(t *testing.T) {
	r := Enum("gigantic", model.PortSizes)
	assert.False(t, r.IsValid)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "small, medium, large, major")
}

func TestName(t *testing.T) {
	r := Name("  Port of Rotterdam ")
	assert.True(t, r.IsValid)
	assert.Equal(t, "Port of Rotterdam", r.CorrectedValue)
	assert.NotEmpty(t, r.Warnings)

	assert.False(t, Name("   ").IsValid)
	assert.False(t, Name(strings.Repeat("x", 201)).IsValid)
	assert.False(t, Name("bad\x00name").IsValid)
}

func TestCoordinates(t *testing.T) {
	r := Coordinates(model.Coordinates{Latitude: 51.92441234567, Longitude: 4.4777})
	assert.True(t, r.IsValid)
	corrected, ok := r.CorrectedValue.(model.Coordinates)
	require.True(t, ok)
	assert.Equal(t, 51.924412, corrected.Latitude)

	r = Coordinates(model.Coordinates{Latitude: 123, Longitude: 0})
	assert.False(t, r.IsValid)

	// Null Island passes with a warning, never an error.
	r = Coordinates(model.Coordinates{})
	assert.True(t, r.IsValid)
	assert.NotEmpty(t, r.Warnings)
}

func TestCapacity(t *testing.T) {
	vocab := DefaultVocabulary()

	r := Capacity("4.5M TEU", vocab)
	assert.True(t, r.IsValid)
	assert.Empty(t, r.Warnings)

	r = Capacity("12 million tonnes", vocab)
	assert.True(t, r.IsValid)

	// Unit casing is normalized against the vocabulary.
	r = Capacity("4.5M teu", vocab)
	assert.True(t, r.IsValid)
	assert.Equal(t, "4.5M TEU", r.CorrectedValue)
	assert.NotEmpty(t, r.Warnings)

	// Missing or unknown units are warnings, not errors.
	r = Capacity("4500", vocab)
	assert.True(t, r.IsValid)
	assert.NotEmpty(t, r.Warnings)

	r = Capacity("300 widgets", vocab)
	assert.True(t, r.IsValid)
	assert.NotEmpty(t, r.Warnings)

	assert.False(t, Capacity("", vocab).IsValid)
	assert.False(t, Capacity("around four million", vocab).IsValid)
}

func TestTaggedArray_DedupeKeepsCanonicalCasing(t *testing.T) {
	vocab := DefaultVocabulary()
	r := CargoTypes([]string{"container", "CONTAINER", "Bulk"}, vocab)

	assert.True(t, r.IsValid)
	assert.Equal(t, []string{"Container", "Bulk"}, r.CorrectedValue)
}

func TestTaggedArray_FuzzySubstitution(t *testing.T) {
	vocab := DefaultVocabulary()
	r := CargoTypes([]string{"containers handling"}, vocab)

	// "Container" is a substring of the entry, so it substitutes in.
	assert.Equal(t, []string{"Container"}, r.CorrectedValue)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "substituted")
}

func TestTaggedArray_UnknownKeptAndFlagged(t *testing.T) {
	vocab := DefaultVocabulary()
	r := CargoTypes([]string{"Livestock"}, vocab)

	assert.True(t, r.IsValid)
	assert.Equal(t, []string{"Livestock"}, r.CorrectedValue)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "unknown entry")
}

func TestTaggedArray_SkipsBlanks(t *testing.T) {
	r := TaggedArray([]string{" ", "", "Bulk"}, []string{"Bulk"})
	assert.Equal(t, []string{"Bulk"}, r.CorrectedValue)
}

func TestDefaultVocabulary(t *testing.T) {
	vocab := DefaultVocabulary()
	assert.Contains(t, vocab.CargoTypes, "Container")
	assert.Contains(t, vocab.CapacityUnits, "TEU")
}
