package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/gmail"
	"github.com/Veraticus/the-spice-must-recur/internal/plaid"
	"github.com/Veraticus/the-spice-must-recur/internal/simplefin"
	"github.com/spf13/cobra"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with external services",
		Long:  `Authenticate with the record feeds recur can fetch from: Gmail, Plaid and SimpleFIN.`,
	}

	cmd.AddCommand(authGmailCmd())
	cmd.AddCommand(authPlaidCmd())
	cmd.AddCommand(authSimpleFINCmd())

	return cmd
}

func authGmailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gmail",
		Short: "Authorize read-only access to Gmail receipts",
		Long: `Authorize recur to read your Gmail receipts using OAuth2.

This command will:
1. Open your browser to Google's consent page
2. Wait for you to grant read-only mail access
3. Save the token for future scans

You need an OAuth client ID and secret from the Google Cloud console, set as
gmail.client_id and gmail.client_secret or passed as flags.`,
		Args: cobra.NoArgs,
		RunE: runAuthGmail,
	}

	cmd.Flags().String("client-id", "", "OAuth2 client ID")
	cmd.Flags().String("client-secret", "", "OAuth2 client secret")
	cmd.Flags().String("callback", "localhost:8085", "local address for the OAuth2 callback")

	return cmd
}

func runAuthGmail(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	clientID := cfg.Gmail.ClientID
	clientSecret := cfg.Gmail.ClientSecret
	if v, _ := cmd.Flags().GetString("client-id"); v != "" {
		clientID = v
	}
	if v, _ := cmd.Flags().GetString("client-secret"); v != "" {
		clientSecret = v
	}
	if clientID == "" || clientSecret == "" {
		return common.NewUserError("OAuth2 credentials not found; set gmail.client_id and gmail.client_secret or use --client-id and --client-secret", common.ErrMissingConfig)
	}
	callback, _ := cmd.Flags().GetString("callback")

	slog.Info("Starting Gmail authentication", "token_file", cfg.Gmail.TokenFile)

	token, err := gmail.AuthenticateOAuth2Interactive(cmd.Context(), gmail.OAuth2Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenFile:    cfg.Gmail.TokenFile,
		CallbackAddr: callback,
	})
	if err != nil {
		return fmt.Errorf("gmail authentication failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Gmail authorized; token saved to "+cfg.Gmail.TokenFile))
	if token.RefreshToken == "" {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("No refresh token was issued; you may need to authorize again when it expires"))
	}
	return nil
}

func authPlaidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plaid",
		Short: "Check the configured Plaid access token",
		Long: `Verify that the configured Plaid credentials and access token work by
listing the accounts they can read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client, err := plaid.NewClient(&cfg.Plaid)
			if err != nil {
				return common.NewUserError("Plaid is not configured; set plaid.client_id, plaid.secret and plaid.access_token", err)
			}

			accounts, err := client.GetAccounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to reach Plaid: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Plaid connected: %d accounts", len(accounts))))
			for _, acct := range accounts {
				fmt.Fprintf(cmd.OutOrStdout(), "  • %s\n", acct)
			}
			return nil
		},
	}
}

func authSimpleFINCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simplefin [setup-token]",
		Short: "Claim a SimpleFIN setup token",
		Long: `Claim a SimpleFIN setup token and store the resulting access URL.

A setup token can only be claimed once. The access URL is saved to
simplefin.state_file and reused by every later scan. With no argument the
token comes from simplefin.token or SIMPLEFIN_TOKEN, or is asked for.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sfCfg := cfg.SimpleFIN
			if len(args) == 1 {
				sfCfg.Token = args[0]
			}
			if sfCfg.Token == "" && sfCfg.AccessURL == "" {
				prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
				token, err := prompter.Ask(cmd.Context(), "SimpleFIN setup token")
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				sfCfg.Token = token
			}
			if sfCfg.Token == "" && sfCfg.AccessURL == "" {
				return common.NewUserError("no SimpleFIN setup token; pass one or set simplefin.token", common.ErrMissingConfig)
			}

			client, err := simplefin.NewClient(cmd.Context(), sfCfg)
			if err != nil {
				return fmt.Errorf("simplefin authentication failed: %w", err)
			}

			accounts, err := client.GetAccounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to reach SimpleFIN: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("SimpleFIN connected: %d accounts", len(accounts))))
			for _, acct := range accounts {
				fmt.Fprintf(cmd.OutOrStdout(), "  • %s\n", acct)
			}
			return nil
		},
	}
	return cmd
}
