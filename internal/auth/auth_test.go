package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

func newTestApp(tm *TokenManager) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	mw := NewAuthMiddleware(tm)
	app.Get("/any", mw.Handle, RequireRole(), func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.SubjectID)
	})
	app.Post("/admin", mw.Handle, RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	return app
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, _, err := tm.GenerateToken("op-1", domain.SubjectTypeOperator, domain.RoleAgent)
	require.NoError(t, err)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.SubjectID)
	assert.Equal(t, domain.RoleAgent, claims.Role)

	_, err = NewTokenManager("other", 5).ParseToken(token)
	assert.Error(t, err)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	app := newTestApp(NewTokenManager("secret", 5))

	resp, err := app.Test(httptest.NewRequest("GET", "/any", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAdminGuard(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := newTestApp(tm)

	agent, _, err := tm.GenerateToken("op-1", domain.SubjectTypeOperator, domain.RoleAgent)
	require.NoError(t, err)
	admin, _, err := tm.GenerateToken("op-2", domain.SubjectTypeOperator, domain.RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+agent)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("POST", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestParseTokenChecksIssuerAndRole(t *testing.T) {
	issued := NewTokenManager("secret", 5).WithIssuer("idp")
	token, _, err := issued.GenerateToken("svc-1", domain.SubjectTypeService, domain.RoleAdmin)
	require.NoError(t, err)

	_, err = NewTokenManager("secret", 5).WithIssuer("idp").ParseToken(token)
	require.NoError(t, err)
	_, err = NewTokenManager("secret", 5).WithIssuer("someone-else").ParseToken(token)
	assert.Error(t, err)

	bogus, _, err := issued.GenerateToken("svc-1", domain.SubjectTypeService, domain.Role("ROOT"))
	require.NoError(t, err)
	_, err = issued.ParseToken(bogus)
	assert.Error(t, err)
}

func TestMiddlewareRejectsCustomerTokens(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := newTestApp(tm)
	token, _, err := tm.GenerateToken("15550001111", domain.SubjectTypeCustomer, domain.RoleAgent)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/any", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
