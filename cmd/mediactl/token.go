package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mediasearch/internal/tenant"
)

var tokenOpts struct {
	secret   string
	userID   string
	email    string
	role     string
	clientID string
	slug     string
	ttl      time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed bearer token for development",
	Long: `Mint an HS256 bearer token accepted by mediasearchd. The secret must match
the server's auth.jwt_secret.

Examples:
  MEDIASEARCH_AUTH_JWT_SECRET=... mediactl token --tenant-id demo --slug demo
  export MEDIACTL_TOKEN=$(mediactl token --role SUPER_ADMIN)`,
	RunE: runToken,
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenOpts.secret, "secret", os.Getenv("MEDIASEARCH_AUTH_JWT_SECRET"), "signing secret (default $MEDIASEARCH_AUTH_JWT_SECRET)")
	f.StringVar(&tokenOpts.userID, "user", "cli", "user id claim")
	f.StringVar(&tokenOpts.email, "email", "cli@localhost", "email claim")
	f.StringVar(&tokenOpts.role, "role", string(tenant.RoleAdmin), "role claim")
	f.StringVar(&tokenOpts.clientID, "tenant-id", "", "tenant id the caller belongs to")
	f.StringVar(&tokenOpts.slug, "slug", "", "tenant slug the caller belongs to")
	f.DurationVar(&tokenOpts.ttl, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if len(tokenOpts.secret) < 32 {
		return fmt.Errorf("signing secret must be at least 32 bytes")
	}
	role := tenant.Role(strings.ToUpper(tokenOpts.role))
	if !role.AtLeast(tenant.RoleUser) {
		return fmt.Errorf("unknown role %q", tokenOpts.role)
	}
	if role != tenant.RoleSuperAdmin && tokenOpts.clientID == "" {
		return fmt.Errorf("--tenant-id is required for role %s", role)
	}

	tok, err := tenant.Issue([]byte(tokenOpts.secret), tenant.Claims{
		UserID:     tokenOpts.userID,
		Email:      tokenOpts.email,
		Role:       role,
		ClientID:   tokenOpts.clientID,
		ClientSlug: tokenOpts.slug,
	}, tokenOpts.ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
