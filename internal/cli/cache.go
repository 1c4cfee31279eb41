package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/unpaywall-client/internal/cache"
	"github.com/helixir/unpaywall-client/internal/domain"
)

func (a *App) newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the response cache",
		Args:  withUsage(cobra.NoArgs),
		Annotations: map[string]string{
			annotationNoClient: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return usagef("no cache command given")
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "delete <doi>...",
			Short: "Remove entries from the cache",
			Args:  withUsage(cobra.MinimumNArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				rc, err := a.responseCache()
				if err != nil {
					return err
				}
				for _, doi := range args {
					if err := rc.Delete(cmd.Context(), doi); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Remove every entry from the cache",
			Args:  withUsage(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				rc, err := a.responseCache()
				if err != nil {
					return err
				}
				return rc.Reset(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Remove expired entries from the cache",
			Args:  withUsage(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				rc, err := a.responseCache()
				if err != nil {
					return err
				}
				removed, err := rc.PruneExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.Stdout, "Removed %d expired entries.\n", removed)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List cached DOIs with their last fetch time",
			Args:  withUsage(cobra.NoArgs),
			RunE: func(_ *cobra.Command, _ []string) error {
				rc, err := a.responseCache()
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(a.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DOI\tSTATUS\tFETCHED\tEXPIRED")
				for _, e := range rc.Entries() {
					expired, err := rc.TimedOut(e.Key)
					if err != nil {
						continue
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\t%t\n", e.Key, e.Value.StatusCode, e.LastAccess.UTC().Format(time.RFC3339), expired)
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}

// responseCache returns the persistent cache behind the client. The remote
// and snapshot backends have none.
func (a *App) responseCache() (*cache.ResponseCache, error) {
	if domain.Backend(a.cfg.API.Backend) != domain.BackendCache {
		return nil, usagef("the cache commands need the %q backend, got %q", domain.BackendCache, a.cfg.API.Backend)
	}
	rc, ok := a.client.Cache().(*cache.ResponseCache)
	if !ok {
		return nil, fmt.Errorf("client is not backed by a response cache")
	}
	return rc, nil
}
