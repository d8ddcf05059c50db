package app

import (
	"encoding/json"
	"io"
	"os"

	"github.com/hitoshi/libmember/internal/authclient"
	"github.com/hitoshi/libmember/internal/config"
	"github.com/spf13/cobra"
)

// clientFunc はセッションストアを開いたClientを受け取って処理する関数。
type clientFunc func(cmd *cobra.Command, c *authclient.Client) (any, error)

// withClient はClientConfigを読み込み、SQLiteセッションストアを開いてfnを実行し、結果をJSONで出力する。
func withClient(fn clientFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}

		store, err := authclient.OpenSQLiteStore(cfg.SessionStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		out, err := fn(cmd, authclient.New(cfg.APIBaseURL, store))
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// passwordFromEnv はフラグが空の場合にLIBMEMBER_PASSWORDを使う。
func passwordFromEnv(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("LIBMEMBER_PASSWORD")
}

func newClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandClient),
		Short: "Call the auth API and keep the session in a local store",
	}

	cmd.AddCommand(
		newClientSignupCommand(),
		newClientLoginCommand(),
		&cobra.Command{
			Use:   "logout",
			Short: "End the session and clear the local store",
			Args:  cobra.NoArgs,
			RunE: withClient(func(cmd *cobra.Command, c *authclient.Client) (any, error) {
				return c.Logout(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "whoami",
			Short: "Fetch the current user with borrowings",
			Args:  cobra.NoArgs,
			RunE: withClient(func(cmd *cobra.Command, c *authclient.Client) (any, error) {
				return c.CurrentUser(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the stored session without calling the API",
			Args:  cobra.NoArgs,
			RunE: withClient(func(cmd *cobra.Command, c *authclient.Client) (any, error) {
				stored, err := c.StoredUser()
				if err != nil {
					return nil, err
				}
				return struct {
					Authenticated bool             `json:"authenticated"`
					User          *authclient.User `json:"user"`
				}{c.IsAuthenticated(), stored}, nil
			}),
		},
	)
	return cmd
}

func newClientSignupCommand() *cobra.Command {
	var email, password, fullName, confirm string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, c *authclient.Client) (any, error) {
			return c.Signup(cmd.Context(), email, passwordFromEnv(password), fullName, confirm)
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (default $LIBMEMBER_PASSWORD)")
	cmd.Flags().StringVar(&fullName, "full-name", "", "full name")
	cmd.Flags().StringVar(&confirm, "confirm-password", "", "password confirmation")
	return cmd
}

func newClientLoginCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Args:  cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, c *authclient.Client) (any, error) {
			return c.Login(cmd.Context(), email, passwordFromEnv(password))
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (default $LIBMEMBER_PASSWORD)")
	return cmd
}
