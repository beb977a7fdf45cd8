package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	appErrors "github.com/larkvale/pulsenote/pkg/errors"
	"github.com/larkvale/pulsenote/pkg/response"
	"github.com/larkvale/pulsenote/pkg/validator"
)

// bindAndValidate binds the JSON body into payload and runs struct
// validation, writing the error response itself when either step fails.
func bindAndValidate(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid request payload"))
		return false
	}
	if err := validator.ValidateStruct(payload); err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return false
	}
	return true
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func parseBoolQuery(c *gin.Context, name string) bool {
	value, err := strconv.ParseBool(c.Query(name))
	return err == nil && value
}
