//go:build linux

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/policyd/pkg/engine"
	"github.com/ja7ad/policyd/pkg/rpc"
	"github.com/ja7ad/policyd/pkg/types"
)

const requestTimeout = 10 * time.Second

func newGetCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "get OBJECT PROPERTY",
		Short: "Read a property from the daemon",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			v, err := rpc.NewClient(g.socket).Get(ctx, objectPath(args[0]), args[1])
			if err != nil {
				return err
			}
			return printValue(g, v)
		},
	}
}

func newSetCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "set OBJECT PROPERTY VALUE",
		Short: "Write a property through the daemon",
		Long: `Write a property through the daemon. VALUE is sent as text and
converted by the daemon to the property's type, so enum names ("quiet",
"balance_power"), numbers and booleans are all accepted.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			return rpc.NewClient(g.socket).Set(ctx, objectPath(args[0]), args[1], args[2])
		},
	}
}

func newCallCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "call OBJECT METHOD",
		Short: "Invoke a method on the daemon",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			v, err := rpc.NewClient(g.socket).Call(ctx, objectPath(args[0]), args[1])
			if err != nil || v == nil {
				return err
			}
			return printValue(g, v)
		},
	}
}

func newObjectsCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "objects",
		Short: "List the objects the daemon exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			objs, err := rpc.NewClient(g.socket).Objects(ctx)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(objs)
			}
			tw := newTable()
			fmt.Fprintln(tw, "PATH\tPROPERTIES\tMETHODS")
			fmt.Fprintln(tw, "----\t----------\t-------")
			for _, o := range objs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Path, strings.Join(o.Properties, ","), orDash(strings.Join(o.Methods, ",")))
			}
			return tw.Flush()
		},
	}
}

func newStatsCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the daemon's counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			stats, err := rpc.NewClient(g.socket).Stats(ctx)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(stats)
			}
			names := make([]string, 0, len(stats))
			for k := range stats {
				names = append(names, k)
			}
			slices.Sort(names)
			tw := newTable()
			for _, k := range names {
				fmt.Fprintf(tw, "%s\t%d\n", k, stats[k])
			}
			return tw.Flush()
		},
	}
}

func newMonitorCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print change notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			var tw *tabwriter.Writer
			if !g.json {
				tw = newTable()
				fmt.Fprintln(tw, "TIME\tOBJECT\tPROPERTY\tVALUE")
				fmt.Fprintln(tw, "----\t------\t--------\t-----")
				tw.Flush()
			}
			return rpc.NewClient(g.socket).Subscribe(ctx, func(c engine.Change) {
				if g.json {
					_ = printJSON(c)
					return
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", time.Now().Format("15:04:05"), c.Object, c.Property, formatValue(c.Value))
				tw.Flush()
			})
		},
	}
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, requestTimeout)
}

// objectPath accepts a bare attribute name as shorthand for its object.
func objectPath(arg string) string {
	if arg == engine.ObjectPlatform || strings.Contains(arg, "/") {
		return arg
	}
	return engine.AttributeObject(types.AttrName(arg))
}

func printValue(g *globalOpts, v any) error {
	if g.json {
		return printJSON(v)
	}
	fmt.Println(formatValue(v))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatValue renders a decoded value on one line: lists space
// separated, maps as sorted key=value pairs, null as "-".
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatValue(e)
		}
		return strings.Join(parts, " ")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + formatValue(v[k])
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(v)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}
