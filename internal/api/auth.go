package api

import (
	"errors"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/internal/catalog"
	"github.com/mocaca/mocaca/middleware/bearerauth"
)

var (
	errBadLogin      = mocaca.NewHttpError(mocaca.StatusUnauthorized, "invalid username or password")
	errWrongPassword = mocaca.NewHttpError(mocaca.StatusBadRequest, "current password is incorrect")
	errEmptyPassword = mocaca.NewHttpError(mocaca.StatusBadRequest, "new password must not be empty")
	errLongPassword  = mocaca.NewHttpError(mocaca.StatusBadRequest, "new password must be at most 72 bytes")
	errMissingLogin  = mocaca.NewHttpError(mocaca.StatusBadRequest, "username and password are required")
)

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// loginUser exchanges {username, password} for a bearer token.
func (a *API) loginUser(c *mocaca.Ctx) {
	fields, err := stringFields(c.Body(), "username", "password")
	if err != nil {
		c.Error(err)
		return
	}
	username, password := fields[0], fields[1]
	if username == "" || password == "" {
		c.Error(errMissingLogin)
		return
	}

	user, err := a.catalog.Authenticate(c.Context(), username, password)
	if errors.Is(err, catalog.ErrInvalidCredentials) {
		c.Logger().Warn().Str("username", username).Str("ip", c.IP()).Msg("api: failed login")
		c.Error(errBadLogin)
		return
	}
	if err != nil {
		fail(c, err, "")
		return
	}

	token, err := a.sessions.Create(c.Context(), bearerauth.Session{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	})
	if err != nil {
		fail(c, err, "")
		return
	}
	c.JSON(loginResponse{Token: token, Username: user.Username, IsAdmin: user.IsAdmin})
}

func (a *API) logout(c *mocaca.Ctx) {
	if err := a.sessions.Revoke(c.Context(), bearerauth.Token(c)); err != nil {
		fail(c, err, "")
		return
	}
	c.NoContent()
}

func (a *API) me(c *mocaca.Ctx) {
	c.JSON(session(c))
}

// changePassword requires {old_password, new_password}.
func (a *API) changePassword(c *mocaca.Ctx) {
	fields, err := stringFields(c.Body(), "old_password", "new_password")
	if err != nil {
		c.Error(err)
		return
	}
	if fields[1] == "" {
		c.Error(errEmptyPassword)
		return
	}

	err = a.catalog.ChangePassword(c.Context(), session(c).UserID, fields[0], fields[1])
	switch {
	case errors.Is(err, catalog.ErrInvalidCredentials):
		c.Error(errWrongPassword)
	case errors.Is(err, catalog.ErrPasswordTooLong):
		c.Error(errLongPassword)
	case err != nil:
		fail(c, err, "user not found")
	default:
		c.JSON(map[string]string{"status": "success"})
	}
}
