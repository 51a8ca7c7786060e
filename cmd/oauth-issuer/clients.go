package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/oauth-issuer/storage"
)

// clientSecretBytes is the entropy of a generated client secret
const clientSecretBytes = 32

func newClientsCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage registered OAuth clients",
	}
	cmd.AddCommand(newClientsAddCommand(v))
	cmd.AddCommand(newClientsListCommand(v))
	return cmd
}

func newClientsAddCommand(v *viper.Viper) *cobra.Command {
	var (
		clientID       string
		redirectURI    string
		name           string
		generateSecret bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a client or replace an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if clientID == "" {
				return fmt.Errorf("--client-id is required")
			}
			if err := validateRedirectURI(redirectURI); err != nil {
				return err
			}

			logger, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, v, logger, nil)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer b.close()

			now := time.Now()
			client := &storage.Client{
				ClientID:    clientID,
				Name:        name,
				RedirectURI: redirectURI,
				CreatedAt:   now,
				UpdatedAt:   now,
			}

			var secret string
			if generateSecret {
				secret, err = generateClientSecret()
				if err != nil {
					return err
				}
				if client.ClientSecretHash, err = storage.HashClientSecret(secret); err != nil {
					return err
				}
			}

			if err := b.clients.SaveClient(ctx, client); err != nil {
				return fmt.Errorf("save client: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Registered client %s (%s)\n", clientID, redirectURI)
			if secret != "" {
				fmt.Fprintf(out, "Client secret (shown once): %s\n", secret)
			}
			if b.kind == storageMemory {
				logger.Warn("Memory storage is not persisted; the client is lost when this command exits")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&clientID, "client-id", "", "client identifier")
	flags.StringVar(&redirectURI, "redirect-uri", "", "the single registered redirect URI")
	flags.StringVar(&name, "name", "", "human readable client name")
	flags.BoolVar(&generateSecret, "generate-secret", false, "generate a client secret and store its bcrypt hash (reserved: the token endpoint does not check secrets)")

	return cmd
}

func newClientsListCommand(v *viper.Viper) *cobra.Command {
	var seed []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, v, logger, nil)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer b.close()

			if err := seedClients(ctx, b.clients, seed); err != nil {
				return err
			}

			clients, err := b.clients.ListClients(ctx)
			if err != nil {
				return fmt.Errorf("list clients: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIENT ID\tNAME\tREDIRECT URI\tSECRET\tCREATED")
			for _, c := range clients {
				hasSecret := "no"
				if c.ClientSecretHash != "" {
					hasSecret = "yes"
				}
				created := "-"
				if !c.CreatedAt.IsZero() {
					created = c.CreatedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ClientID, valueOrDash(c.Name), c.RedirectURI, hasSecret, created)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringSliceVar(&seed, "seed-client", nil, "client to register before listing as client_id=redirect_uri")

	return cmd
}

// validateRedirectURI requires an absolute URI without a fragment (RFC 6749 section 3.1.2)
func validateRedirectURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("redirect URI is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid redirect URI %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("redirect URI %q must be absolute", raw)
	}
	if strings.Contains(raw, "#") {
		return fmt.Errorf("redirect URI %q must not contain a fragment", raw)
	}
	return nil
}

func generateClientSecret() (string, error) {
	b := make([]byte, clientSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
