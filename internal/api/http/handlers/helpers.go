package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/solvejet/pixe-whatspp-sub001/internal/api/dto"
	"github.com/solvejet/pixe-whatspp-sub001/internal/auth"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

func actorFrom(c *fiber.Ctx) events.Actor {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return events.SystemActor
	}
	return events.Actor{Type: principal.SubjectType, ID: principal.SubjectID}
}

func parseTime(val string) (time.Time, error) {
	if val == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("timestamps must be RFC 3339", map[string]any{"value": val})
	}
	return t, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func errorBody(de *apperrors.DomainError) *dto.ErrorBody {
	if de == nil {
		return nil
	}
	return &dto.ErrorBody{Code: de.Code, Message: de.Message, Details: de.Details}
}
