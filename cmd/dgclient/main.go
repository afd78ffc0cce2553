package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/danmuck/dgpool/internal/client"
	"github.com/danmuck/dgpool/internal/logging"
	"github.com/danmuck/dgpool/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	host     string
	basePort int
	channels int
	timeout  time.Duration
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "dgclient: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	defaults := client.DefaultConfig()
	opts := options{
		host:     defaults.Host,
		basePort: defaults.BasePort,
		channels: 1,
		timeout:  10 * time.Second,
	}

	cmd := &cobra.Command{
		Use:           "dgclient <sequence> [temperature]",
		Short:         "Query a dgpool worker for the free energy of one sequence",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			temp := protocol.DefaultTemperature
			if len(args) == 2 {
				v, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("invalid temperature %q: %w", args[1], err)
				}
				temp = v
			}
			dg, err := query(cmd.Context(), opts, args[0], temp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(float64(dg), 'f', -1, 32))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", opts.host, "worker host")
	cmd.Flags().IntVar(&opts.basePort, "base-port", opts.basePort, "first worker port")
	cmd.Flags().IntVar(&opts.channels, "channels", opts.channels, "number of worker ports to spread over")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", opts.timeout, "overall query timeout")
	return cmd
}

func query(ctx context.Context, opts options, sequence string, temperature float64) (float32, error) {
	cfg := client.DefaultConfig()
	cfg.Host = opts.host
	cfg.BasePort = opts.basePort
	cfg.Channels = opts.channels
	c, err := client.New(cfg, log.Logger)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	return c.DG(ctx, sequence, temperature)
}
