package restaurantcmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/guiomkt/angubackend-sub001/domains/restaurants/be/repo"
	"github.com/guiomkt/angubackend-sub001/domains/restaurants/be/service"
	"github.com/guiomkt/angubackend-sub001/platform/go/persistence"
)

// Command groups restaurant-related helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restaurant",
		Short: "Restaurant utilities (create/list)",
	}

	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	_ = cmd.MarkPersistentFlagRequired("database-url")

	cmd.AddCommand(createCommand())
	cmd.AddCommand(listCommand())
	return cmd
}

func createCommand() *cobra.Command {
	var (
		slug     string
		name     string
		timezone string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Register a restaurant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			databaseURL, err := cmd.Flags().GetString("database-url")
			if err != nil {
				return err
			}

			ctx := context.Background()
			svc, cleanup, err := newRestaurantService(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer cleanup()

			restaurant, err := svc.Create(ctx, service.CreateInput{
				Slug:     slug,
				Name:     name,
				Timezone: timezone,
			})
			if err != nil {
				if errors.Is(err, service.ErrConflictSlug) {
					existing, getErr := svc.GetBySlug(ctx, slug)
					if getErr != nil {
						return fmt.Errorf("restaurant exists but could not fetch: %w", getErr)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Restaurant %q already exists (%s).\n", existing.Slug, existing.ID)
					return nil
				}
				return wrapRestaurantError("create", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created restaurant %s (%s)\n", restaurant.Name, restaurant.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Slug: %s\nStatus: %s\nTimezone: %s\n", restaurant.Slug, restaurant.Status, restaurant.Timezone)
			return nil
		},
	}

	c.Flags().StringVar(&slug, "slug", "", "URL-safe identifier (normalized to lowercase)")
	c.Flags().StringVar(&name, "name", "", "Display name")
	c.Flags().StringVar(&timezone, "timezone", "", "IANA timezone (defaults to "+service.DefaultTimezone+")")

	_ = c.MarkFlagRequired("slug")
	_ = c.MarkFlagRequired("name")

	return c
}

func listCommand() *cobra.Command {
	var (
		statusInput string
		page        int
		pageSize    int
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "List registered restaurants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			databaseURL, err := cmd.Flags().GetString("database-url")
			if err != nil {
				return err
			}

			ctx := context.Background()
			svc, cleanup, err := newRestaurantService(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := service.ListOptions{Page: page, PageSize: pageSize}
			if strings.TrimSpace(statusInput) != "" {
				status, parseErr := service.StatusFromString(statusInput)
				if parseErr != nil {
					return fmt.Errorf("invalid status filter: %w", parseErr)
				}
				opts.Status = &status
			}

			res, err := svc.List(ctx, opts)
			if err != nil {
				return fmt.Errorf("list restaurants: %w", err)
			}

			if len(res.Restaurants) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No restaurants found.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSLUG\tNAME\tSTATUS\tTIMEZONE\tCREATED_AT")
			for _, r := range res.Restaurants {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Slug, r.Name, r.Status, r.Timezone, r.CreatedAt.UTC().Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Page %d/%d (%d total)\n", res.Page, res.TotalPages, res.TotalItems)
			return nil
		},
	}

	c.Flags().StringVar(&statusInput, "status", "", "Filter by status (active|suspended)")
	c.Flags().IntVar(&page, "page", 1, "Page number")
	c.Flags().IntVar(&pageSize, "page-size", 20, "Items per page")

	return c
}

func newRestaurantService(ctx context.Context, databaseURL string) (service.Service, func(), error) {
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}

	store, err := persistence.NewRestaurantStore(pool)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, nil, fmt.Errorf("init restaurant store: %w", err)
	}

	svc := service.New(repo.NewPostgresRepository(store))
	cleanup := func() { persistence.ClosePool(pool) }
	return svc, cleanup, nil
}

func wrapRestaurantError(action string, err error) error {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return fmt.Errorf("%s validation failed:\n%s", action, formatFieldErrors(map[string][]string(validationErr.Fields)))
	case errors.Is(err, service.ErrNotFound):
		return fmt.Errorf("%s failed: restaurant not found", action)
	default:
		return fmt.Errorf("%s failed: %w", action, err)
	}
}

func formatFieldErrors(fields map[string][]string) string {
	keys := make([]string, 0, len(fields))
	for field := range fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, field := range keys {
		for _, msg := range fields[field] {
			fmt.Fprintf(&b, "- %s: %s\n", field, msg)
		}
	}
	return strings.TrimSpace(b.String())
}
