package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whatsgate/golang_services/internal/bootstrap"
)

func paymentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Work with captured payment callbacks",
	}
	cmd.AddCommand(paymentInspectCmd(a))
	return cmd
}

func paymentInspectCmd(a *app) *cobra.Command {
	var sig string
	cmd := &cobra.Command{
		Use:   "inspect <provider> <body-file>",
		Short: "Verify and parse a captured callback without touching orders or the ledger",
		Long: `Parse a raw callback body exactly as the gateway would. With --signature the
configured secret is checked first.

Example:
  channelctl payment inspect wave ./wave-callback.json --signature "t=1717000000,v1=ab12..."`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			providerName, path := args[0], args[1]
			parser, err := bootstrap.PaymentParsers().Get(providerName)
			if err != nil {
				return err
			}
			body, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading callback body: %w", err)
			}

			if sig != "" {
				verifier, err := bootstrap.SignatureRegistry(a.cfg)
				if err != nil {
					return err
				}
				ok, err := verifier.Verify(providerName, "", body, sig)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("signature does not match the configured %s secret", providerName)
				}
				a.logger.Info("Signature verified", "provider", providerName)
			}

			ev, err := parser.Parse(body)
			if err != nil {
				return err
			}
			return a.printJSON(ev)
		},
	}
	cmd.Flags().StringVar(&sig, "signature", "", "raw value of the provider signature header")
	return cmd
}
