package channelcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/guiomkt/angubackend-sub001/platform/go/persistence"
)

// Command groups WhatsApp channel inspection helpers. These read the channel
// record and its integration log directly from the store; provisioning itself
// only runs through the API, which holds the Graph credentials.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "WhatsApp channel inspection (status/logs)",
	}

	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	_ = cmd.MarkPersistentFlagRequired("database-url")

	cmd.AddCommand(statusCommand())
	cmd.AddCommand(logsCommand())
	return cmd
}

func statusCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "status <restaurant-id>",
		Short: "Show the WhatsApp channel state for a restaurant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			restaurantID, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid restaurant id: %w", err)
			}

			ctx := context.Background()
			store, cleanup, err := newChannelStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := store.Get(ctx, restaurantID)
			if err != nil {
				if errors.Is(err, persistence.ErrNotFound) {
					return fmt.Errorf("no WhatsApp channel for restaurant %s", restaurantID)
				}
				return fmt.Errorf("get channel: %w", err)
			}

			printChannelSummary(cmd.OutOrStdout(), rec)
			return nil
		},
	}

	return c
}

func logsCommand() *cobra.Command {
	var limit int

	c := &cobra.Command{
		Use:   "logs <restaurant-id>",
		Short: "Show the integration log for a restaurant, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			restaurantID, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid restaurant id: %w", err)
			}
			if limit < 0 {
				return errors.New("limit must not be negative")
			}

			ctx := context.Background()
			store, cleanup, err := newChannelStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			logs, err := store.ListLogs(ctx, restaurantID, limit)
			if err != nil {
				return fmt.Errorf("list logs: %w", err)
			}

			if len(logs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No integration log entries found.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED_AT\tSTEP\tSTRATEGY\tOK\tERROR")
			for _, entry := range logs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
					entry.CreatedAt.UTC().Format(time.RFC3339),
					entry.Step,
					valueOrDash(entry.Strategy),
					entry.Success,
					valueOrDash(entry.ErrorMessage),
				)
			}
			return tw.Flush()
		},
	}

	c.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")

	return c
}

func newChannelStore(ctx context.Context, cmd *cobra.Command) (*persistence.ChannelStore, func(), error) {
	databaseURL, err := cmd.Flags().GetString("database-url")
	if err != nil {
		return nil, nil, err
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}

	store, err := persistence.NewChannelStore(pool)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, nil, fmt.Errorf("init channel store: %w", err)
	}

	cleanup := func() { persistence.ClosePool(pool) }
	return store, cleanup, nil
}

// printChannelSummary writes the operator-facing projection of a channel
// record. The stored access token is deliberately left out.
func printChannelSummary(out io.Writer, rec persistence.ChannelRecord) {
	expires := "-"
	if rec.TokenExpiresAt != nil {
		expires = rec.TokenExpiresAt.UTC().Format(time.RFC3339)
	}

	fmt.Fprintf(out, "Restaurant: %s\n", rec.RestaurantID)
	fmt.Fprintf(out, "Status: %s\n", rec.Status)
	fmt.Fprintf(out, "Business: %s\n", valueOrDash(rec.BusinessID))
	fmt.Fprintf(out, "WABA: %s\n", valueOrDash(rec.WABAID))
	fmt.Fprintf(out, "Phone number ID: %s\n", valueOrDash(rec.PhoneNumberID))
	fmt.Fprintf(out, "Display number: %s\n", valueOrDash(rec.DisplayPhoneNumber))
	fmt.Fprintf(out, "Verified name: %s\n", valueOrDash(rec.VerifiedName))
	fmt.Fprintf(out, "Creation strategy: %s\n", valueOrDash(rec.CreationStrategy))
	fmt.Fprintf(out, "Token expires: %s\n", expires)
	fmt.Fprintf(out, "Polling attempts: %d\n", rec.PollingAttempts)
	fmt.Fprintf(out, "Last error: %s\n", valueOrDash(rec.LastError))
	fmt.Fprintf(out, "Created: %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Updated: %s\n", rec.UpdatedAt.UTC().Format(time.RFC3339))
}

func valueOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
