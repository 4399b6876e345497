package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coachdesk-api/internal/middleware"
	"github.com/noah-isme/coachdesk-api/internal/models"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.CurrentUser(c)
}

// trainerScope resolves whose capacity a request acts on. Trainers always act
// on themselves; admins name the trainer with ?trainerId=.
func trainerScope(c *gin.Context) (string, error) {
	claims := claimsFromContext(c)
	if claims == nil {
		return "", appErrors.ErrUnauthorized
	}
	if claims.Role != models.RoleAdmin {
		return claims.UserID, nil
	}
	trainerID := strings.TrimSpace(c.Query("trainerId"))
	if trainerID == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "trainerId is required")
	}
	return trainerID, nil
}

func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		size = 20
	}
	return page, size
}

func bindError(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}
