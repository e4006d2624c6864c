package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/client"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

var errPasswordMismatch = errors.New("passwords do not match")

// describe turns client errors into a line fit for the terminal.
func describe(err error) string {
	switch {
	case errors.Is(err, client.ErrNotLoggedIn):
		return "not logged in"
	case errors.Is(err, client.ErrUnauthorized):
		return "session is no longer valid, please log in again"
	case errors.Is(err, client.ErrForbidden):
		return "current password is wrong"
	case errors.Is(err, client.ErrAlreadyExists):
		return "user name is already taken"
	case errors.Is(err, client.ErrUnavailable):
		return "server is unavailable, try again later"
	default:
		return err.Error()
	}
}

// readPassword prompts for a password and returns it as a string, wiping
// the raw bytes.
func (a *App) readPassword(prompt string) (string, error) {
	pw, err := getPassword(os.Stdout, prompt)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(pw)
	return string(pw), nil
}

// Register prompts for a user name and password and creates an account.
// It does not log in.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter user name", os.Stdout)
	if err != nil {
		return err
	}

	password, err := a.readPassword("Enter password: ")
	if err != nil {
		return err
	}

	id, err := a.authService.Register(ctx, userName, password)
	if err != nil {
		return err
	}

	printlnFn(fmt.Sprintf("Registered user %s (id %d), you can log in now", userName, id))
	return nil
}

// Login prompts for credentials, starts a new session and saves it.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter user name", os.Stdout)
	if err != nil {
		return err
	}

	password, err := a.readPassword("Enter password: ")
	if err != nil {
		return err
	}

	if err := a.authService.Login(ctx, userName, password); err != nil {
		return err
	}

	a.userName = userName
	a.loggedIn = true
	printlnFn("Login successful")
	return nil
}

// Refresh rotates the refresh token. A rejected token ends the session.
func (a *App) Refresh(ctx context.Context) error {
	if err := a.authService.Refresh(ctx); err != nil {
		a.forgetOnUnauthorized(err)
		return err
	}
	printlnFn("Tokens refreshed")
	return nil
}

// Logout revokes the current session. The local session is forgotten even
// when the server cannot be reached.
func (a *App) Logout(ctx context.Context) error {
	err := a.authService.Logout(ctx)
	a.forget()
	if err != nil {
		return err
	}
	printlnFn("Logged out")
	return nil
}

// LogoutAll revokes every session of the user on every device.
func (a *App) LogoutAll(ctx context.Context) error {
	n, err := a.authService.LogoutAll(ctx)
	if err != nil {
		a.forgetOnUnauthorized(err)
		return err
	}
	a.forget()
	printlnFn(fmt.Sprintf("Revoked %d session(s)", n))
	return nil
}

// ChangePassword asks for the current password and a new one twice.
// On success every session ends, this one included.
func (a *App) ChangePassword(ctx context.Context) error {
	oldPassword, err := a.readPassword("Current password: ")
	if err != nil {
		return err
	}
	newPassword, err := a.readPassword("New password: ")
	if err != nil {
		return err
	}
	confirm, err := a.readPassword("Repeat new password: ")
	if err != nil {
		return err
	}
	if newPassword != confirm {
		return errPasswordMismatch
	}

	if err := a.authService.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		a.forgetOnUnauthorized(err)
		return err
	}
	a.forget()
	printlnFn("Password changed, please log in again")
	return nil
}

func (a *App) WhoAmI(ctx context.Context) error {
	id, err := a.authService.WhoAmI(ctx)
	if err != nil {
		a.forgetOnUnauthorized(err)
		return err
	}
	printlnFn(fmt.Sprintf("Logged in as %s (id %d)", a.userName, id))
	return nil
}

// Sessions lists the active sessions of the user, oldest first.
func (a *App) Sessions(ctx context.Context) error {
	sessions, err := a.authService.Sessions(ctx)
	if err != nil {
		a.forgetOnUnauthorized(err)
		return err
	}
	printlnFn(fmt.Sprintf("%d active session(s)", len(sessions)))
	for _, s := range sessions {
		printlnFn(fmt.Sprintf("  %s  since %s  until %s", s.Family,
			s.CreatedAt.Format(time.DateTime), s.ExpiresAt.Format(time.DateTime)))
	}
	return nil
}

func (a *App) forgetOnUnauthorized(err error) {
	if errors.Is(err, client.ErrUnauthorized) || errors.Is(err, client.ErrNotLoggedIn) {
		a.forget()
	}
}
