package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/maelcorre/fleetdesk/pkg/errors"
	"github.com/maelcorre/fleetdesk/pkg/response"
	appValidator "github.com/maelcorre/fleetdesk/pkg/validator"
)

// bindAndValidate decodes the JSON body and applies struct validation rules,
// writing a 400 response on failure.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	if err == nil {
		return "invalid request payload"
	}

	if ve, ok := err.(appValidator.ValidationErrors); ok {
		if len(ve) == 0 {
			return "invalid request payload"
		}

		messages := make([]string, 0, len(ve))
		for _, failure := range ve {
			switch failure.Tag {
			case "required":
				messages = append(messages, fmt.Sprintf("%s is required", failure.Field))
			case "oneof":
				messages = append(messages, fmt.Sprintf("%s must be one of %s", failure.Field, failure.Param))
			case "required_if":
				messages = append(messages, fmt.Sprintf("%s is required for this audience", failure.Field))
			case "rolecode":
				messages = append(messages, fmt.Sprintf("%s must be a lowercase role code", failure.Field))
			default:
				messages = append(messages, fmt.Sprintf("%s is invalid", failure.Field))
			}
		}
		return strings.Join(messages, "; ")
	}

	return "invalid request payload"
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseIDParam(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param(key)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
