// Command idcore-wallet is a development wallet for the idcore sign-in flows.
// It holds local lightning and slashtags keys, answers k1 challenges and
// inspects the resulting session over gRPC.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type globals struct {
	httpURL  string
	grpcAddr string
	tls      transportOpts
	timeout  time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:          "idcore-wallet",
		Short:        "Development wallet for idcore",
		SilenceUsage: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&g.httpURL, "http", "http://localhost:8080", "public HTTP API origin")
	pf.StringVar(&g.grpcAddr, "grpc", "localhost:9090", "session gRPC address")
	pf.StringVar(&g.tls.caPath, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&g.tls.skipVerify, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&g.tls.plaintext, "plaintext", false, "dial gRPC without TLS (dev)")
	pf.DurationVar(&g.timeout, "timeout", 30*time.Second, "per-command timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "idcore-wallet %s (%s)\n", version, buildDate)
			},
		},
		keygenCmd(),
		pubkeyCmd(),
		loginCmd(g),
		whoamiCmd(g),
		renewCmd(g),
	)
	return cmd
}

func (g *globals) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), g.timeout)
}

func keygenCmd() *cobra.Command {
	var kind string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a local signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(keyPath(kind)); err == nil && !force {
				return fmt.Errorf("%s key exists; pass --force to replace it", kind)
			}
			raw, err := generateKey(kind)
			if err != nil {
				return err
			}
			s, err := newSigner(kind, raw)
			if err != nil {
				return err
			}
			if err := saveKey(kind, raw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.PubkeyHex())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", kindLightning, "key kind: lightning or slashtags")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key")
	return cmd
}

func pubkeyCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Print the public key of a local key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSigner(kind)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.PubkeyHex())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", kindLightning, "key kind: lightning or slashtags")
	return cmd
}

func loadSigner(kind string) (signer, error) {
	raw, err := loadKey(kind)
	if err != nil {
		return nil, err
	}
	return newSigner(kind, raw)
}

func loginCmd(g *globals) *cobra.Command {
	var kind string
	var link bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Answer a k1 challenge and sign in (saves the session)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSigner(kind)
			if err != nil {
				return err
			}
			c := &authClient{base: g.httpURL, hc: &http.Client{Timeout: g.timeout}}
			if link {
				if c.session, err = loadToken(); err != nil {
					return err
				}
			}
			ctx, cancel := g.ctx(cmd)
			defer cancel()

			res, err := c.login(ctx, kind, s)
			if err != nil {
				return err
			}
			if err := saveToken(tokenFile{AccessToken: res.Token, AccountID: res.AccountID, ExpiresAt: res.ExpiresAt}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", res.Outcome, res.AccountID, res.DisplayName)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", kindLightning, "key kind: lightning or slashtags")
	cmd.Flags().BoolVar(&link, "link", false, "link the key to the saved session's account")
	return cmd
}

func whoamiCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account and its identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := loadToken()
			if err != nil {
				return err
			}
			cc, cli, err := dial(g.grpcAddr, g.tls, token)
			if err != nil {
				return err
			}
			defer cc.Close()
			ctx, cancel := g.ctx(cmd)
			defer cancel()

			out, err := cli.WhoAmI(ctx, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func renewCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "renew",
		Short: "Renew the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := loadToken()
			if err != nil {
				return err
			}
			cc, cli, err := dial(g.grpcAddr, g.tls, token)
			if err != nil {
				return err
			}
			defer cc.Close()
			ctx, cancel := g.ctx(cmd)
			defer cancel()

			out, err := cli.Renew(ctx, nil)
			if err != nil {
				return err
			}
			renewed := out.GetFields()["token"].GetStringValue()
			exp, err := time.Parse(time.RFC3339, out.GetFields()["expires_at"].GetStringValue())
			if err != nil {
				return fmt.Errorf("bad expires_at: %w", err)
			}
			verified, err := cli.Verify(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{
				"token": structpb.NewStringValue(renewed),
			}})
			if err != nil {
				return err
			}
			if err := saveToken(tokenFile{
				AccessToken: renewed,
				AccountID:   verified.GetFields()["account_id"].GetStringValue(),
				ExpiresAt:   exp,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renewed until %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v *structpb.Struct) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v.AsMap())
}
