// Command nfsgwctl runs operator actions against a gateway node.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alphauslabs/nfsgw/internal/api"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type runFunc func(ctx context.Context, c *api.Client) (map[string]interface{}, error)

func main() {
	var (
		addr    = envOr("NFSGW_ADDR", "localhost:8080")
		out     = envOr("NFSGW_OUT", "text")
		timeout = time.Minute * 5
	)

	root := &cobra.Command{
		Use:          "nfsgwctl",
		Short:        "Operator actions for an nfs gateway node",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&addr, "addr", addr, "Gateway gRPC address (env NFSGW_ADDR)")
	root.PersistentFlags().StringVar(&out, "out", out, "Output format: json|text")
	root.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "Call timeout")

	run := func(fn runFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}

			defer conn.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			v, err := fn(ctx, api.NewClient(conn))
			if err != nil {
				return err
			}

			return show(out, v)
		}
	}

	var name string
	var size int
	createCmd := &cobra.Command{
		Use:   "create-share",
		Short: "Create and export a share (leader only)",
		RunE: run(func(ctx context.Context, c *api.Client) (map[string]interface{}, error) {
			return c.CreateShare(ctx, name, size)
		}),
	}

	createCmd.Flags().StringVar(&name, "name", "", "Share name (default: generated)")
	createCmd.Flags().IntVar(&size, "size", 0, "Share size in GiB, 0 for unlimited")

	var delName string
	deleteCmd := &cobra.Command{
		Use:   "delete-share",
		Short: "Remove a share and its export (leader only)",
		RunE: run(func(ctx context.Context, c *api.Client) (map[string]interface{}, error) {
			if delName == "" {
				return nil, fmt.Errorf("--name is required")
			}

			return c.DeleteShare(ctx, delName)
		}),
	}

	deleteCmd.Flags().StringVar(&delName, "name", "", "Share name")

	root.AddCommand(
		createCmd,
		deleteCmd,
		&cobra.Command{
			Use:   "list-shares",
			Short: "List exports as yaml",
			RunE: run(func(ctx context.Context, c *api.Client) (map[string]interface{}, error) {
				return c.ListShares(ctx)
			}),
		},
		&cobra.Command{
			Use:   "decommission",
			Short: "Leave the grace database and stop serving on this node",
			RunE: run(func(ctx context.Context, c *api.Client) (map[string]interface{}, error) {
				return c.Decommission(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the node's convergence status",
			RunE: run(func(ctx context.Context, c *api.Client) (map[string]interface{}, error) {
				return c.Status(ctx)
			}),
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// show writes v as indented json, or the raw yaml for exports in text mode.
func show(format string, v map[string]interface{}) error {
	if s, ok := v["exports"].(string); ok && format == "text" && len(v) == 1 {
		fmt.Print(s)
		return nil
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(b))
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}

	return def
}
