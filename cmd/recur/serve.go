package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-spice-must-recur/internal/api"
	"github.com/Veraticus/the-spice-must-recur/internal/certs"
	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the detection core over HTTP",
		Long: `Run the JSON HTTP API: ingest records, list and decide candidates,
confirm renewals and read savings for any user.

With --tls the API is served over HTTPS using a self-signed certificate kept
in server.cert_dir. It covers localhost unless server.tls_hosts lists other
names or addresses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			addr := a.cfg.Server.Addr
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				addr = v
			}

			var opts []api.Option
			useTLS := a.cfg.Server.TLS
			if cmd.Flags().Changed("tls") {
				useTLS, _ = cmd.Flags().GetBool("tls")
			}
			if useTLS {
				var certOpts []certs.Option
				if len(a.cfg.Server.TLSHosts) > 0 {
					certOpts = append(certOpts, certs.WithHosts(a.cfg.Server.TLSHosts...))
				}
				manager := certs.NewFileManager(a.cfg.Server.CertDir, certOpts...)
				opts = append(opts, api.WithTLS(manager))
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Self-signed certificate: "+manager.CertFile()))
			}

			server := api.NewServer(a.store, a.engine(), a.manager, a.tracker, opts...)
			slog.Info("Serving API", "addr", addr, "tls", useTLS)
			if err := server.ListenAndServe(cmd.Context(), addr); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address (default: server.addr from config)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed certificate (default: server.tls from config)")
	return cmd
}
