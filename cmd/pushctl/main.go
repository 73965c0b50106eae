// Path: cmd/pushctl/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"push-broker/internal/client"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type cli struct {
	baseURL string
	rps     float64
	burst   int
	out     io.Writer
}

func (c *cli) client() *client.Client {
	return client.NewClient(c.baseURL, client.WithRateLimit(c.rps, c.burst))
}

func newRootCommand(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:           "pushctl",
		Short:         "Listen to and publish events on a push broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	defaultURL := os.Getenv("PUSH_BROKER_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&c.baseURL, "url", "u", defaultURL, "Broker base URL (env PUSH_BROKER_URL)")
	rootCmd.PersistentFlags().Float64Var(&c.rps, "rps", 2, "Requests and reconnects per second")
	rootCmd.PersistentFlags().IntVar(&c.burst, "burst", 4, "Request burst size")

	rootCmd.AddCommand(newListenCommand(c))
	rootCmd.AddCommand(newSendCommand(c))
	rootCmd.AddCommand(newTestCommand(c))
	rootCmd.AddCommand(newConnectionsCommand(c))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}
