// Path: cmd/pushctl/commands.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"push-broker/internal/domain"
	"push-broker/internal/sse"
)

func newListenCommand(c *cli) *cobra.Command {
	var (
		userID string
		count  int
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			seen := 0
			err := c.client().Listen(cmd.Context(), userID, func(m sse.Message) error {
				printMessage(c, m)
				seen++
				if count > 0 && seen >= count {
					return sse.ErrStop
				}
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Listen as this user")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many events (0 = never)")
	return cmd
}

func newSendCommand(c *cli) *cobra.Command {
	var (
		in   domain.SendEventInput
		data string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish an event to a user or to everyone",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.UserID == "" && !bool(in.Broadcast) {
				return errors.New("either --user or --broadcast is required")
			}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON: %s", data)
				}
				in.Data = json.RawMessage(data)
			}
			res, err := c.client().SendEvent(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, green(res.Message))
			return nil
		},
	}
	cmd.Flags().StringVarP(&in.Type, "type", "t", string(domain.EventCustom), "Event type")
	cmd.Flags().StringVarP(&data, "data", "d", "", "Event data as JSON")
	cmd.Flags().StringVar(&in.UserID, "user", "", "Target user")
	cmd.Flags().BoolVar((*bool)(&in.Broadcast), "broadcast", false, "Send to every connection")
	return cmd
}

func newTestCommand(c *cli) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Ask the broker to emit a test event",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client().SendTestEvent(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, green(res.Message))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Target user (default everyone)")
	return cmd
}

func newConnectionsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List the broker's active connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.client().Connections(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, bold("ID\tUSER\tCONNECTED\tLAST HEARTBEAT"))
			for _, ch := range snap.Connections {
				owner := ch.Owner
				if owner == "" {
					owner = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					ch.ID,
					owner,
					ch.ConnectedTime().Format(time.RFC3339),
					ch.LastHeartbeatTime().Format(time.RFC3339),
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d connection(s)\n", snap.Count)
			return nil
		},
	}
}

func printMessage(c *cli, m sse.Message) {
	event := m.Event
	switch domain.EventType(event) {
	case domain.EventHeartbeat:
		event = gray(event)
	case domain.EventConnected:
		event = green(event)
	case domain.EventNotification:
		event = yellow(event)
	default:
		event = cyan(event)
	}
	fmt.Fprintf(c.out, "%s %s %s\n", event, gray(m.ID), string(m.Data))
}
