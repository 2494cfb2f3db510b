package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var (
	authEmail    string
	authPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the document server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAuth(cmd, "Log in", func(a *app, ctx context.Context, email, password string) error {
			return a.session.Login(ctx, email, password)
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the document server and log in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAuth(cmd, "Register", func(a *app, ctx context.Context, email, password string) error {
			return a.session.Register(ctx, email, password)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and stop cloud sync",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "Account email (prompted when omitted)")
		c.Flags().StringVar(&authPassword, "password", "", "Account password (prompted when omitted)")
	}
}

func runAuth(cmd *cobra.Command, title string, do func(*app, context.Context, string, string) error) error {
	email, password := authEmail, authPassword
	if email == "" || password == "" {
		if err := promptCredentials(title, &email, &password); err != nil {
			return err
		}
	}

	a := openApp()
	defer a.close()
	a.resume(cmd.Context())
	if id, ok := a.session.Identity(); ok {
		return fmt.Errorf("already logged in as %s; run \"wht logout\" first", id.Email)
	}

	ctx, cancel := a.remoteContext(cmd.Context())
	defer cancel()
	if err := do(a, ctx, email, password); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s. Run \"wht sync enable\" to mirror your entries.\n", email)
	return nil
}

// promptCredentials asks for whichever of email and password is empty.
func promptCredentials(title string, email, password *string) error {
	var fields []huh.Field
	if *email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Value(email).
			Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("email is required")
				}
				return nil
			}))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(password))
	}
	form := huh.NewForm(huh.NewGroup(fields...).Title(title))
	if err := form.Run(); err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.close()
	a.resume(cmd.Context())

	id, ok := a.session.Identity()
	if !ok {
		fmt.Println("Not logged in.")
		return nil
	}
	if err := a.session.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Logged out %s.\n", id.Email)
	return nil
}
