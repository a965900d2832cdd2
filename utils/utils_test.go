package utils

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Thenameisdebojit/farmora-sub001/models"
)

func TestCreatePaginationMeta(t *testing.T) {
	t.Parallel()

	meta := CreatePaginationMeta(2, 20, 45)
	require.Equal(t, 3, meta.TotalPages)
	require.True(t, meta.HasNext)

	meta = CreatePaginationMeta(0, 500, 45)
	require.Equal(t, 1, meta.Page)
	require.Equal(t, 100, meta.PageSize)
	require.False(t, meta.HasNext)

	require.Zero(t, CreatePaginationMeta(1, 20, 0).TotalPages)
}

func TestValidatePhone(t *testing.T) {
	t.Parallel()

	for phone, ok := range map[string]bool{
		"+919876543210": true,
		"9876543210":    true,
		"+0123456789":   false,
		"98765":         false,
		"+91 98765":     false,
		"":              false,
	} {
		require.Equal(t, ok, ValidatePhone(phone), phone)
	}
}

func TestValidateCreateRequest(t *testing.T) {
	t.Parallel()

	vs := NewValidationService()
	req := models.CreateNotificationRequest{
		RecipientID: "farmer-1",
		Type:        "locust_swarm",
		Category:    models.CategoryWeather,
		Title:       "t",
		Message:     "m",
	}

	errs := vs.ValidateStruct(req)
	require.Len(t, errs, 1)
	require.Equal(t, "Type", errs[0].Field)
	require.Equal(t, "Invalid notification type", errs[0].Message)

	req.Type = models.NotificationWeatherAlert
	require.Empty(t, vs.ValidateStruct(req))
}

func TestJWTRoundTrip(t *testing.T) {
	t.Parallel()

	svc := NewJWTService("secret")
	token, err := svc.GenerateToken("farmer-1", RoleFarmer)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "farmer-1", claims.UserID)
	require.Equal(t, RoleFarmer, claims.Role)

	_, err = NewJWTService("other").ValidateToken(token)
	require.Error(t, err)

	empty, err := svc.GenerateToken("", RoleAdmin)
	require.NoError(t, err)
	_, err = svc.ValidateToken(empty)
	require.Error(t, err, "tokens must name a user")
}

func TestServiceErrorClassification(t *testing.T) {
	t.Parallel()

	err := NewValidationError("bad request", ValidationError{Field: "title"})
	require.True(t, IsValidationError(err))

	serviceErr, ok := GetServiceError(err)
	require.True(t, ok)
	require.Equal(t, 400, serviceErr.StatusCode)

	require.True(t, HasCode(NewNotFoundError("Notification"), ErrCodeNotFound))
}
