package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type requestBody struct {
	Resource string `json:"resource" validate:"required,max=16"`
	Reason   string `json:"reason" validate:"required"`
	Limit    int    `json:"limit" validate:"gte=0,lte=200"`
	Internal string `json:"-" validate:"omitempty,oneof=a b"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		err := ValidateStruct(&requestBody{Resource: "db-prod", Reason: "incident", Limit: 10})
		assert.NoError(t, err)
	})

	t.Run("fields are keyed by json name", func(t *testing.T) {
		err := ValidateStruct(&requestBody{Resource: strings.Repeat("x", 17), Limit: 500, Internal: "c"})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "resource must be at most 16", fields["resource"])
		assert.Equal(t, "reason is required", fields["reason"])
		assert.Equal(t, "limit must be less than or equal to 200", fields["limit"])
		assert.Equal(t, "Internal must be one of: a b", fields["Internal"])
	})
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	assert.False(t, IsValidationError(assert.AnError))
	assert.Nil(t, GetValidationFields(assert.AnError))
}

func TestFieldsAsDetails(t *testing.T) {
	assert.Nil(t, FieldsAsDetails(nil))
	assert.Equal(t, map[string]interface{}{"reason": "reason is required"},
		FieldsAsDetails(map[string]string{"reason": "reason is required"}))
}
