package httperrors

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(respond func(c *gin.Context)) (*httptest.ResponseRecorder, ErrorResponse) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respond(c)

	var body ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRespondUnauthorized(t *testing.T) {
	w, body := record(func(c *gin.Context) { RespondUnauthorized(c, "") })

	assert.Equal(t, 401, w.Code)
	assert.Equal(t, MsgUnauthorized, body.Error)
	assert.Equal(t, CodeUnauthorized, body.Code)
}

func TestRespondUnauthorized_CustomMessage(t *testing.T) {
	_, body := record(func(c *gin.Context) { RespondUnauthorized(c, MsgInvalidAuthHeader) })
	assert.Equal(t, MsgInvalidAuthHeader, body.Error)
}

func TestRespondInvalidToken(t *testing.T) {
	w, body := record(RespondInvalidToken)

	assert.Equal(t, 401, w.Code)
	assert.Equal(t, CodeInvalidToken, body.Code)
}

func TestRespondForbidden(t *testing.T) {
	w, body := record(RespondForbidden)

	assert.Equal(t, 403, w.Code)
	assert.Equal(t, MsgForbidden, body.Error)
}

func TestRespondInternalError(t *testing.T) {
	w, body := record(RespondInternalError)

	assert.Equal(t, 500, w.Code)
	// Generic message only, no internal details
	assert.Equal(t, MsgInternalError, body.Error)
	assert.Empty(t, body.Details)
}

func TestRespondNotFound(t *testing.T) {
	w, body := record(func(c *gin.Context) { RespondNotFound(c, MsgSessionNotFound) })

	require.Equal(t, 404, w.Code)
	assert.Equal(t, MsgSessionNotFound, body.Error)
}
