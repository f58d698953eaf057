package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-that-is-long-enough-123456"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken_Valid(t *testing.T) {
	v := NewJWTValidator(testSecret)

	tokenString := signToken(t, testSecret, jwt.MapClaims{
		"staff_id": "staff-1",
		"name":     "Dana",
		"roles":    []string{"staff", "admin"},
		"exp":      time.Now().Add(1 * time.Hour).Unix(),
	})

	claims, err := v.ValidateToken(tokenString)

	require.NoError(t, err)
	assert.Equal(t, "staff-1", claims.StaffID)
	assert.Equal(t, "Dana", claims.Name)
	assert.Equal(t, []string{"staff", "admin"}, claims.Roles)
}

func TestValidateToken_EmptyToken(t *testing.T) {
	v := NewJWTValidator(testSecret)

	claims, err := v.ValidateToken("")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidToken))
	assert.Nil(t, claims)
}

func TestValidateToken_Malformed(t *testing.T) {
	v := NewJWTValidator(testSecret)

	claims, err := v.ValidateToken("not.a.token")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidToken))
	assert.Nil(t, claims)
}

func TestValidateToken_Expired(t *testing.T) {
	v := NewJWTValidator(testSecret)

	tokenString := signToken(t, testSecret, jwt.MapClaims{
		"staff_id": "staff-1",
		"roles":    []string{"staff"},
		"exp":      time.Now().Add(-1 * time.Hour).Unix(),
	})

	claims, err := v.ValidateToken(tokenString)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExpiredToken))
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	v := NewJWTValidator(testSecret)

	tokenString := signToken(t, "a-completely-different-secret-key-999", jwt.MapClaims{
		"staff_id": "staff-1",
		"roles":    []string{"staff"},
		"exp":      time.Now().Add(1 * time.Hour).Unix(),
	})

	claims, err := v.ValidateToken(tokenString)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSigningMethod(t *testing.T) {
	v := NewJWTValidator(testSecret)

	// alg=none tokens must never validate
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"staff_id": "staff-1",
		"roles":    []string{"staff"},
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	claims, err := v.ValidateToken(tokenString)

	require.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_MissingStaffID(t *testing.T) {
	v := NewJWTValidator(testSecret)

	tokenString := signToken(t, testSecret, jwt.MapClaims{
		"roles": []string{"staff"},
		"exp":   time.Now().Add(1 * time.Hour).Unix(),
	})

	claims, err := v.ValidateToken(tokenString)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingClaims))
	assert.Nil(t, claims)
}

func TestValidateToken_EmptyStaffID(t *testing.T) {
	v := NewJWTValidator(testSecret)

	tokenString := signToken(t, testSecret, jwt.MapClaims{
		"staff_id": "",
		"roles":    []string{"staff"},
		"exp":      time.Now().Add(1 * time.Hour).Unix(),
	})

	_, err := v.ValidateToken(tokenString)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingClaims))
}

func TestValidateToken_MissingRoles(t *testing.T) {
	v := NewJWTValidator(testSecret)

	tokenString := signToken(t, testSecret, jwt.MapClaims{
		"staff_id": "staff-1",
		"exp":      time.Now().Add(1 * time.Hour).Unix(),
	})

	_, err := v.ValidateToken(tokenString)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingClaims))
}

func TestValidateToken_NonStringRole(t *testing.T) {
	v := NewJWTValidator(testSecret)

	tokenString := signToken(t, testSecret, jwt.MapClaims{
		"staff_id": "staff-1",
		"roles":    []interface{}{"staff", 42},
		"exp":      time.Now().Add(1 * time.Hour).Unix(),
	})

	_, err := v.ValidateToken(tokenString)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingClaims))
}

func TestValidateToken_NameDefaultsToStaffID(t *testing.T) {
	v := NewJWTValidator(testSecret)

	tokenString := signToken(t, testSecret, jwt.MapClaims{
		"staff_id": "staff-1",
		"roles":    []string{"staff"},
		"exp":      time.Now().Add(1 * time.Hour).Unix(),
	})

	claims, err := v.ValidateToken(tokenString)

	require.NoError(t, err)
	assert.Equal(t, "staff-1", claims.Name)
}

func TestExtractRoles_InterfaceSlice(t *testing.T) {
	// JSON decoding yields []interface{}, the common case
	roles, err := extractRoles([]interface{}{"staff", "admin"})

	require.NoError(t, err)
	assert.Equal(t, []string{"staff", "admin"}, roles)
}

func TestExtractRoles_InvalidType(t *testing.T) {
	_, err := extractRoles("staff")
	require.Error(t, err)
}
