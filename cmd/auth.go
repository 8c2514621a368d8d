package cmd

import (
	"errors"
	"fmt"

	"bunnyup/forms"
	"bunnyup/session"

	"github.com/cqroot/prompt"
	"github.com/cqroot/prompt/input"
	"github.com/urfave/cli/v2"
)

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "email",
			Aliases: []string{"e"},
			Usage:   "Account email, asked for when not set",
			EnvVars: []string{"BUNNYUP_EMAIL"},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Account password, asked for when not set",
			EnvVars: []string{"BUNNYUP_PASSWORD"},
		},
	}
}

// ask returns the flag value or prompts for it
func ask(ctx *cli.Context, flag, question string, secret bool) (string, error) {
	if value := ctx.String(flag); value != "" {
		return value, nil
	}
	if secret {
		return prompt.New().Ask(question).Input("", input.WithEchoMode(input.EchoNone))
	}
	return prompt.New().Ask(question).Input("")
}

func askCredentials(ctx *cli.Context) (string, string, error) {
	email, err := ask(ctx, "email", "Email:", false)
	if err != nil {
		return "", "", err
	}
	password, err := ask(ctx, "password", "Password:", true)
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

func signupCmd() *cli.Command {
	return &cli.Command{
		Name:  "signup",
		Usage: "Create an account",
		Description: `Registers a new account with name, email and password.

When the backend requires email confirmation the account has to be confirmed
before you can log in.`,
		Flags: append(credentialFlags(), &cli.StringFlag{
			Name:    "name",
			Aliases: []string{"n"},
			Usage:   "Display name, asked for when not set",
		}),
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			name, err := ask(ctx, "name", "Name:", false)
			if err != nil {
				return err
			}
			email, password, err := askCredentials(ctx)
			if err != nil {
				return err
			}

			form := forms.Reduce(forms.SignUpForm{}, forms.ReduceSignUp,
				forms.SetName(name), forms.SetEmail(email), forms.SetPassword(password))

			state, err := c.session.SignUp(ctx.Context, form)
			if errors.Is(err, session.ErrConfirmationPending) {
				fmt.Println("Account created. Check your inbox to confirm it, then log in.")
				return nil
			}
			if err != nil {
				return fail(err, "Could not sign up.")
			}

			fmt.Printf("Signed up as %s\n", state.User.Name)
			return nil
		},
	}
}

func loginCmd() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in with email and password",
		Flags: credentialFlags(),
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			email, password, err := askCredentials(ctx)
			if err != nil {
				return err
			}

			form := forms.Reduce(forms.LoginForm{}, forms.ReduceLogin,
				forms.SetEmail(email), forms.SetPassword(password))

			state, err := c.session.SignIn(ctx.Context, form)
			if err != nil {
				return fail(err, "Could not log in.")
			}

			fmt.Printf("Logged in as %s\n", state.User.Name)
			return nil
		},
	}
}

func logoutCmd() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Log out and forget the stored session",
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if !c.session.Current().SignedIn {
				fmt.Println("Not logged in")
				return nil
			}
			if err := c.session.SignOut(ctx.Context); err != nil {
				// The local session is gone either way
				return fail(err, "Logged out locally, the backend could not be reached.")
			}

			fmt.Println("Logged out")
			return nil
		},
	}
}

func whoamiCmd() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Print the signed in user",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "Check the stored token with the backend",
			},
		},
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			user, err := c.user()
			if err != nil {
				return err
			}

			if ctx.Bool("verify") {
				account, err := c.backend.GetAuthUser(ctx.Context, c.session.Current().Session.AccessToken)
				if err != nil {
					return fail(err, "The stored session is no longer valid.")
				}
				user.Email = account.Email
			}
			return printJSON(user)
		},
	}
}
