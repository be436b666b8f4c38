package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/vehicle-resolver/internal/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Inspect provider credentials",
}

var secretsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that provider credentials resolve",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sec, err := initSecrets(st)
		if err != nil {
			return err
		}

		results := make([]secretStatus, 0, len(checkedSecrets))
		for _, s := range checkedSecrets {
			v, err := sec.Resolve(ctx, s.name)
			results = append(results, secretStatus{name: s.name, required: s.required, value: v, err: err})
		}

		formatSecretStatus(cmd.OutOrStdout(), results)
		for _, r := range results {
			if r.required && (r.err != nil || r.value == "") {
				return fmt.Errorf("required secret %s is not available", r.name)
			}
		}
		return nil
	},
}

var checkedSecrets = []struct {
	name     string
	required bool
}{
	{secrets.MarketCheckAPIKey, true},
	{secrets.MarketCheckBaseURL, false},
	{secrets.VPICBaseURL, false},
}

type secretStatus struct {
	name     string
	required bool
	value    string
	err      error
}

func init() {
	secretsCmd.AddCommand(secretsCheckCmd)
	rootCmd.AddCommand(secretsCmd)
}

// formatSecretStatus prints one row per secret. Values are masked.
func formatSecretStatus(out io.Writer, results []secretStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tREQUIRED\tSTATUS\tVALUE")
	_, _ = fmt.Fprintln(w, "----\t--------\t------\t-----")
	for _, r := range results {
		status := "ok"
		switch {
		case r.err != nil:
			status = "error: " + truncate(r.err.Error(), 60)
		case r.value == "":
			status = "missing"
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", r.name, r.required, status, mask(r.value))
	}
	_ = w.Flush()
}

// mask keeps the last four characters of long values.
func mask(v string) string {
	switch {
	case v == "":
		return "-"
	case len(v) <= 8:
		return "****"
	default:
		return "****" + v[len(v)-4:]
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
