package main

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vehicle-resolver/internal/resolver"
)

var (
	resolveZip    string
	resolveRadius int
	resolvePick   string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <vin>",
	Short: "Resolve one VIN and print the response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		radius := ""
		if resolveRadius > 0 {
			radius = strconv.Itoa(resolveRadius)
		}
		req, err := resolver.ParseRequest(args[0], resolveZip, radius, resolvePick,
			cfg.Search.DefaultRadius, cfg.Search.MaxRadius)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Resolver.Resolve(ctx, req)
		if err != nil {
			return err
		}

		zap.L().Info("resolve complete",
			zap.String("vin", req.VIN),
			zap.Bool("found", res.Found),
			zap.String("search_source", string(res.Extras.SearchSource)),
		)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveZip, "zip", "", "5-digit zip code for the nearby search")
	resolveCmd.Flags().IntVar(&resolveRadius, "radius", 0, "search radius in miles (default from config)")
	resolveCmd.Flags().StringVar(&resolvePick, "pick", "nearest", "candidate selection: nearest or freshest")
	rootCmd.AddCommand(resolveCmd)
}
