package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/boxbridge/config"
	"github.com/otherjamesbrown/boxbridge/credentials"
)

// secretAliases maps short names accepted on the command line to stored
// secret names.
var secretAliases = map[string]string{
	"box":        credentials.SecretBoxAPIToken,
	"salesforce": credentials.SecretSalesforceAccessToken,
}

// secretEnv maps stored secret names to the variables that override them.
var secretEnv = map[string]string{
	credentials.SecretBoxAPIToken:           config.EnvBoxAPIToken,
	credentials.SecretSalesforceAccessToken: config.EnvSalesforceAccessToken,
}

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored API tokens",
		Long: `Manage the Box and Salesforce tokens kept in the local credential store.

Tokens are encrypted in $BOXBRIDGE_CONFIG_DIR/credentials.yaml (default
~/.boxbridge). Environment variables always take precedence over stored
tokens.

Secrets:
  box         BOX_API_TOKEN
  salesforce  SALESFORCE_ACCESS_TOKEN`,
	}

	cmd.AddCommand(newAuthSetCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	cmd.AddCommand(newAuthClearCommand(deps))

	return cmd
}

func newAuthSetCommand(deps *Deps) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set <box|salesforce>",
		Short: "Store a token",
		Long: `Store a token in the credential store.

Without --value the token is read from the terminal without echo.

Examples:
  boxbridge auth set box
  echo "$TOKEN" | boxbridge auth set salesforce`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			name, err := resolveSecretName(args[0])
			if err != nil {
				return err
			}

			if value == "" {
				value, err = deps.ReadSecret(fmt.Sprintf("Enter %s: ", name))
				if err != nil {
					return err
				}
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return errors.New("token cannot be empty")
			}

			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}
			if err := store.SetSecret(name, value); err != nil {
				return fmt.Errorf("storing %s: %w", name, err)
			}

			fmt.Fprintf(c.OutOrStdout(), "Stored %s (%s) in %s\n", name, credentials.MaskCredential(value), store.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "Token value (prompted when omitted)")

	return cmd
}

// authStatus is the printable form of the credential status.
type authStatus struct {
	Path      string        `json:"path" yaml:"path"`
	KeySource string        `json:"key_source" yaml:"key_source"`
	Secrets   []secretState `json:"secrets" yaml:"secrets"`
}

type secretState struct {
	Name   string `json:"name" yaml:"name"`
	EnvVar string `json:"env_var" yaml:"env_var"`
	InEnv  bool   `json:"in_env" yaml:"in_env"`
	Stored bool   `json:"stored" yaml:"stored"`
	Masked string `json:"masked,omitempty" yaml:"masked,omitempty"`
}

func newAuthStatusCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which tokens are configured",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}

			creds, err := store.Load()
			if errors.Is(err, credentials.ErrNoCredentials) {
				creds, err = &credentials.Credentials{}, nil
			}
			if err != nil {
				return err
			}

			status := authStatus{Path: store.Path(), KeySource: store.KeySource()}
			for _, st := range creds.Status() {
				env := secretEnv[st.Name]
				status.Secrets = append(status.Secrets, secretState{
					Name:   st.Name,
					EnvVar: env,
					InEnv:  deps.Getenv(env) != "",
					Stored: st.Set,
					Masked: st.Masked,
				})
			}

			return WriteOutput(c.OutOrStdout(), cfg.Output, status, func(w io.Writer) error {
				return printAuthStatus(w, status)
			})
		},
	}
}

func newAuthClearCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}
			if !store.Exists() {
				fmt.Fprintln(c.OutOrStdout(), "No stored credentials.")
				return nil
			}
			if err := store.Delete(); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "Removed %s\n", store.Path())
			return nil
		},
	}
}

func resolveSecretName(arg string) (string, error) {
	if name, ok := secretAliases[strings.ToLower(arg)]; ok {
		return name, nil
	}
	for _, name := range credentials.SecretNames() {
		if arg == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %q (use box or salesforce)", credentials.ErrUnknownSecret, arg)
}

func printAuthStatus(w io.Writer, s authStatus) error {
	fmt.Fprintf(w, "Store:     %s\n", s.Path)
	fmt.Fprintf(w, "Key:       %s\n\n", s.KeySource)
	for _, sec := range s.Secrets {
		var state string
		switch {
		case sec.InEnv && sec.Stored:
			state = fmt.Sprintf("from %s (stored %s ignored)", sec.EnvVar, sec.Masked)
		case sec.InEnv:
			state = "from " + sec.EnvVar
		case sec.Stored:
			state = "stored " + sec.Masked
		default:
			state = "not set"
		}
		fmt.Fprintf(w, "  %-26s %s\n", sec.Name, state)
	}
	return nil
}
