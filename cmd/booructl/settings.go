package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func settingsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change runtime settings",
	}

	get := &cobra.Command{
		Use:   "get [key]",
		Short: "Print all settings or a single one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := c.infra.Settings.All(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				v, ok := values[args[0]]
				if !ok {
					return fmt.Errorf("unknown setting %q", args[0])
				}
				fmt.Fprintln(out, v)
				return nil
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s=%s\n", k, values[k])
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set key=value...",
		Short: "Update one or more settings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]string, len(args))
			for _, arg := range args {
				k, v, ok := strings.Cut(arg, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				values[strings.TrimSpace(k)] = v
			}
			return c.infra.Settings.Set(cmd.Context(), values)
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}
