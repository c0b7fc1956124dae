package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFromCode(t *testing.T) {
	tests := []struct {
		code  uint16
		state State
	}{
		{0x0000, StateSuccess},
		{0xFE00, StateCancel},
		{0xFF00, StatePending},
		{0xFF01, StatePending},
		{0x0001, StateWarning},
		{0x0107, StateWarning},
		{0xB000, StateWarning},
		{0xB123, StateWarning},
		{0x0110, StateFailure},
		{0xA700, StateFailure},
		{0xC123, StateFailure},
		{0x1234, StateFailure},
	}

	for _, tt := range tests {
		s := StatusFromCode(tt.code)
		assert.Equal(t, tt.code, s.Code)
		assert.Equal(t, tt.state, s.State, "code 0x%04X", tt.code)
	}
}

func TestStatusMatches(t *testing.T) {
	assert.True(t, StatusCannotUnderstand.Matches(StatusFromCode(0xC123)))
	assert.True(t, StatusFromCode(0xCFFF).Matches(StatusCannotUnderstand))
	assert.False(t, StatusCannotUnderstand.Matches(StatusFromCode(0xA700)))
	assert.True(t, StatusSuccess.Matches(StatusFromCode(0x0000)))
	assert.False(t, StatusSuccess.Matches(StatusPending))

	assert.Equal(t, "Error: cannot understand", StatusFromCode(0xC042).Description)
}

func TestStatusWithComment(t *testing.T) {
	s := StatusProcessingFailure.WithComment("disk full")

	assert.Equal(t, "disk full", s.ErrorComment)
	assert.Empty(t, StatusProcessingFailure.ErrorComment)
	assert.True(t, s.IsFailure())
	assert.Equal(t, "Failure [0110: Processing failure] -> disk full", s.String())
	assert.Equal(t, "Success", StatusSuccess.String())
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusSuccess.IsSuccess())
	assert.True(t, StatusPending.IsPending())
	assert.True(t, StatusCoercionOfDataElements.IsWarning())
	assert.True(t, StatusUnrecognizedOperation.IsFailure())
	assert.Equal(t, "Cancel", StateCancel.String())
}
