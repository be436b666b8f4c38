package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/internal/resultcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the per-VIN result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show result cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withResultCache(cmd.Context(), func(ctx context.Context, c *resultcache.Cache) error {
			stats, err := c.Stats(ctx)
			if err != nil {
				return eris.Wrap(err, "cache stats")
			}
			formatCacheStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <vin>",
	Short: "Print the cached response for a VIN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vin := model.NormalizeVIN(args[0])
		if !model.ValidVIN(vin) {
			return eris.Errorf("invalid vin: %s", args[0])
		}
		return withResultCache(cmd.Context(), func(ctx context.Context, c *resultcache.Cache) error {
			entry, err := c.Lookup(ctx, vin)
			if err != nil {
				return eris.Wrap(err, "cache show")
			}
			if entry == nil {
				zap.L().Info("no cache entry", zap.String("vin", vin))
				return nil
			}
			return formatCacheEntry(cmd.OutOrStdout(), entry, time.Now().UTC())
		})
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired result cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withResultCache(cmd.Context(), func(ctx context.Context, c *resultcache.Cache) error {
			n, err := c.Purge(ctx)
			if err != nil {
				return eris.Wrap(err, "cache purge")
			}
			zap.L().Info("expired cache entries deleted", zap.Int("deleted", n))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired entries\n", n)
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheShowCmd, cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}

func withResultCache(ctx context.Context, fn func(context.Context, *resultcache.Cache) error) error {
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}
	return fn(ctx, resultcache.New(st))
}

// formatCacheStats writes totals and a per-source breakdown to out.
func formatCacheStats(out io.Writer, stats *model.CacheStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ENTRIES\t%d\n", stats.Entries)
	_, _ = fmt.Fprintf(w, "FRESH\t%d\n", stats.Fresh)
	_, _ = fmt.Fprintf(w, "EXPIRED\t%d\n", stats.Expired)
	_, _ = fmt.Fprintf(w, "TOTAL HITS\t%d\n", stats.TotalHits)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "SOURCE\tENTRIES")
	_, _ = fmt.Fprintln(w, "------\t-------")

	sources := make([]string, 0, len(stats.BySource))
	for s := range stats.BySource {
		sources = append(sources, string(s))
	}
	sort.Strings(sources)
	for _, s := range sources {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, stats.BySource[model.SearchSource(s)])
	}
	_ = w.Flush()
}

// formatCacheEntry writes the bookkeeping fields followed by the stored
// response, indented.
func formatCacheEntry(out io.Writer, e *model.CacheEntry, now time.Time) error {
	state := "fresh"
	if !e.Fresh(now) {
		state = "expired"
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "VIN\t%s\n", e.VIN)
	_, _ = fmt.Fprintf(w, "LISTING\t%s\n", e.ListingID)
	_, _ = fmt.Fprintf(w, "SOURCE\t%s\n", e.SearchSource)
	_, _ = fmt.Fprintf(w, "CACHED\t%s\n", e.CachedAt.Format("2006-01-02 15:04"))
	_, _ = fmt.Fprintf(w, "VERIFIED\t%s\n", e.LastVerifiedAt.Format("2006-01-02 15:04"))
	_, _ = fmt.Fprintf(w, "EXPIRES\t%s (%s)\n", e.ExpiresAt.Format("2006-01-02 15:04"), state)
	_, _ = fmt.Fprintf(w, "HITS\t%d\n", e.HitCount)
	_ = w.Flush()

	var resp any
	if err := json.Unmarshal(e.Response, &resp); err != nil {
		return eris.Wrap(err, "decode cached response")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
