package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"teamledger.io/internal/books"
	"teamledger.io/internal/cache"
	"teamledger.io/internal/config"
	"teamledger.io/internal/migrate"
	"teamledger.io/internal/tenancy"
)

// Recorded seed runs for the built-in catalogs.
const (
	catalogSeed  = "permission_catalog_v1"
	accountsSeed = "account_catalog_v1"
)

func seedCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the permission catalog, default role grants and account templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *tenancy.Service, ledger *books.Service, m *migrate.Manager) error {
				for _, seed := range []struct {
					name string
					fn   func(context.Context) error
				}{
					{catalogSeed, svc.Seed},
					{accountsSeed, ledger.Seed},
				} {
					ran, err := m.Seed(ctx, seed.name, seed.fn, force)
					if err != nil {
						return err
					}
					if ran {
						fmt.Fprintf(cmd.OutOrStdout(), "seeded %s\n", seed.name)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s already applied (use --force to reapply)\n", seed.name)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reapply even if the seed was recorded")

	cmd.AddCommand(&cobra.Command{
		Use:   "role ROLE [PERMISSION...]",
		Short: "Replace the default permissions of a role",
		Long:  "Replace the default permissions of a role. Passing no permissions leaves the role with none.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := tenancy.ParseRole(args[0])
			if err != nil {
				return fmt.Errorf("unknown role %q", args[0])
			}
			return withService(cmd, func(ctx context.Context, svc *tenancy.Service, _ *books.Service, _ *migrate.Manager) error {
				if err := svc.SetRoleDefaults(ctx, role, args[1:]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "role %s now grants %d permissions\n", role, len(args)-1)
				return nil
			})
		},
	})
	return cmd
}

// withService opens the store and shared cache so that changes purge
// cached permission sets the servers hold in redis.
func withService(cmd *cobra.Command, fn func(context.Context, *tenancy.Service, *books.Service, *migrate.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	svc, err := tenancy.NewService(store, tenancy.WithCache(sharedCache(cfg)))
	if err != nil {
		return err
	}
	ledger, err := books.NewService(store.Books(), svc)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
	defer cancel()
	return fn(ctx, svc, ledger, migrate.NewManager(store.DB()))
}

// sharedCache returns the redis cache when configured. A process-local cache
// would be invisible to the servers, so other modes get none.
func sharedCache(cfg config.Config) tenancy.PermissionCache {
	if cfg.Cache.Mode != cache.ModeRedis {
		return cache.Nop{}
	}
	c, err := cache.New(cfg.CacheSettings())
	if err != nil {
		return cache.Nop{}
	}
	return c
}
