package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/config"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant records",
	}
	cmd.AddCommand(
		tenantListCmd(),
		tenantGetCmd(),
		tenantRegisterCmd(),
		tenantSetTierCmd(),
	)
	return cmd
}

func openStore(ctx context.Context) (tenant.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("tenant commands need a postgres url (MESH_POSTGRES_URL or config file)")
	}
	return tenant.NewPostgresStore(ctx, cfg.Postgres.URL)
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.ListTenants(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tUSER\tTYPE\tROLE\tTIER\tVERSION")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					r.TenantID, r.UserID, r.ContextType, r.Role, r.Tier, r.LimitsVersion)
			}
			return w.Flush()
		},
	}
}

func tenantGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Show one tenant record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.GetTenant(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func tenantRegisterCmd() *cobra.Command {
	var (
		userID      string
		role        string
		tier        string
		contextType string
		orgName     string
		perms       []string
	)

	cmd := &cobra.Command{
		Use:   "register <tenant-id>",
		Short: "Register or update a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := domain.Role(role)
			if !domain.ValidRole(r) {
				return fmt.Errorf("invalid role %q (valid: admin, user, viewer)", role)
			}
			ct := tenant.ContextType(contextType)
			if ct != tenant.ContextPersonal && ct != tenant.ContextOrganization {
				return fmt.Errorf("invalid context type %q (valid: personal, organization)", contextType)
			}

			permissions := make([]domain.Permission, 0, len(perms))
			for _, p := range perms {
				permissions = append(permissions, domain.Permission(strings.TrimSpace(p)))
			}

			rec := &tenant.Record{
				TenantID:    args[0],
				UserID:      userID,
				ContextType: ct,
				OrgName:     orgName,
				Role:        r,
				Permissions: permissions,
				Tier:        tier,
			}
			if err := rec.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.UpsertTenant(ctx, rec); err != nil {
				return err
			}
			fmt.Printf("tenant %s registered\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID bound to this tenant")
	cmd.Flags().StringVar(&role, "role", "user", "Role: admin, user, viewer")
	cmd.Flags().StringVar(&tier, "tier", domain.TierSmall, "Limit tier")
	cmd.Flags().StringVar(&contextType, "type", "organization", "Context type: personal, organization")
	cmd.Flags().StringVar(&orgName, "org-name", "", "Organization display name")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "Permission grants (service:action), repeatable")
	cmd.MarkFlagRequired("user")

	return cmd
}

func tenantSetTierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-tier <tenant-id> <tier>",
		Short: "Change a tenant's limit tier",
		Long: "Changes the tier and bumps the tenant's limits version. Live buckets " +
			"built from the old tier are replaced on the tenant's next call.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			manager := tenant.NewManager(s, domain.DefaultTierTable(), false)
			if err := manager.UpdateTier(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("tenant %s moved to tier %s\n", args[0], args[1])
			return nil
		},
	}
}
