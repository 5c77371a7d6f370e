package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appValidator "github.com/maelcorre/fleetdesk/pkg/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFormatValidationError(t *testing.T) {
	require.Equal(t, "invalid request payload", formatValidationError(nil))

	failures := appValidator.ValidationErrors{
		{Field: "title", Tag: "required"},
		{Field: "category", Tag: "oneof", Param: "Mission Task"},
		{Field: "user_id", Tag: "gt", Param: "0"},
	}
	message := formatValidationError(failures)
	require.Contains(t, message, "title is required")
	require.Contains(t, message, "category must be one of Mission Task")
	require.Contains(t, message, "user_id is invalid")
}

func TestParseIntQuery(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?limit=50&bad=abc", nil)

	require.Equal(t, 50, parseIntQuery(c, "limit", 25))
	require.Equal(t, 25, parseIntQuery(c, "missing", 25))
	require.Equal(t, 25, parseIntQuery(c, "bad", 25))
}

func TestParseIDParam(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Params = gin.Params{{Key: "id", Value: "17"}}

	id, ok := parseIDParam(c, "id")
	require.True(t, ok)
	require.Equal(t, int64(17), id)

	c.Params = gin.Params{{Key: "id", Value: "zero"}}
	_, ok = parseIDParam(c, "id")
	require.False(t, ok)

	c.Params = gin.Params{{Key: "id", Value: "-3"}}
	_, ok = parseIDParam(c, "id")
	require.False(t, ok)
}

func TestRequestContextFallback(t *testing.T) {
	require.NotNil(t, requestContext(nil))

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	require.NotNil(t, requestContext(c))

	c.Request = httptest.NewRequest("GET", "/", nil)
	require.Equal(t, c.Request.Context(), requestContext(c))
}
