package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/peerhub/internal/client"
)

type RegisterCmd struct {
	FullName string `help:"Full name" required:""`
	Email    string `help:"Email address" required:""`
	Password string `help:"Password, prompted when empty" env:"PEERHUB_PASSWORD"`
}

func (c *RegisterCmd) Run(ctx context.Context, globals *Globals) error {
	password, err := passwordOrPrompt(globals, c.Password)
	if err != nil {
		return err
	}

	s, err := globals.newSession()
	if err != nil {
		return err
	}

	err = s.Session().Register(ctx, client.RegisterInput{
		FullName: c.FullName,
		Email:    c.Email,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	globals.printf("Registered and logged in as %s\n", describeUser(s.Session().State()))
	return nil
}

type LoginCmd struct {
	Email    string `help:"Email address, prompted when empty"`
	Password string `help:"Password, prompted when empty" env:"PEERHUB_PASSWORD"`
}

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	email := c.Email
	if email == "" {
		var err error
		if email, err = globals.readLine("Email"); err != nil {
			return err
		}
	}

	password, err := passwordOrPrompt(globals, c.Password)
	if err != nil {
		return err
	}

	if email == "" || password == "" {
		return errors.New("email and password are required")
	}

	s, err := globals.newSession()
	if err != nil {
		return err
	}

	if err := s.Session().Login(ctx, email, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	globals.printf("Logged in as %s\n", describeUser(s.Session().State()))
	return nil
}

type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := globals.newSession()
	if err != nil {
		return err
	}

	if err := s.Session().Logout(ctx); err != nil {
		return err
	}

	globals.printf("Logged out\n")
	return nil
}

type WhoamiCmd struct{}

func (c *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := globals.newSession()
	if err != nil {
		return err
	}

	if s.Tokens().Get() == "" {
		return ErrNotLoggedIn
	}

	ok, err := s.Session().CheckAuth(ctx)
	if err != nil {
		return fmt.Errorf("could not reach server: %w", err)
	}
	if !ok {
		return ErrSessionExpired
	}

	state := s.Session().State()
	globals.printf("%s\n", describeUser(state))
	globals.printf("user id: %s\n", state.User.ID)
	return nil
}

type TokenCmd struct {
	Header bool `help:"Print as an Authorization header"`
}

func (c *TokenCmd) Run(globals *Globals) error {
	s, err := globals.newSession()
	if err != nil {
		return err
	}

	if c.Header {
		value := s.Tokens().AuthHeaders().Get("Authorization")
		if value == "" {
			return ErrNotLoggedIn
		}
		globals.printf("Authorization: %s\n", value)
		return nil
	}

	token := s.Tokens().Get()
	if token == "" {
		return ErrNotLoggedIn
	}

	globals.printf("%s\n", token)
	return nil
}

func passwordOrPrompt(globals *Globals, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	return globals.readLine("Password")
}

func describeUser(state client.State) string {
	if state.User == nil {
		return "unknown user"
	}
	return fmt.Sprintf("%s <%s>", state.User.FullName, state.User.Email)
}
