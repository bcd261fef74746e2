package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/diwise/iot-fleet-sync/pkg/client"
	"github.com/diwise/iot-fleet-sync/pkg/types"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newJobsCmd(ctx context.Context, flags flagMap) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control scheduled jobs of a running instance",
	}

	cmd.PersistentFlags().String("url", "", "base url of the control api")
	cmd.PersistentFlags().String("token", "", "bearer token for the control api")

	newClient := func() client.JobsClient {
		return client.New(flags[apiURL], flags[apiToken])
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := newClient().List(ctx)
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	})

	cmd.AddCommand(jobCommand("pause", "Pause a job", func(id string) (any, error) {
		return newClient().Pause(ctx, id)
	}))

	cmd.AddCommand(jobCommand("resume", "Resume a paused job", func(id string) (any, error) {
		return newClient().Resume(ctx, id)
	}))

	cmd.AddCommand(jobCommand("run", "Run a job immediately and wait for it to finish", func(id string) (any, error) {
		return newClient().Run(ctx, id)
	}))

	cmd.AddCommand(jobCommand("remove", "Remove a job", func(id string) (any, error) {
		return nil, newClient().Remove(ctx, id)
	}))

	notify := &cobra.Command{
		Use:   "notify <serial>",
		Short: "Send a notification about a device regardless of the cooldown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notificationType, _ := cmd.Flags().GetString("type")
			channels, _ := cmd.Flags().GetStringSlice("channels")

			report, err := newClient().Notify(ctx, types.NotificationRequest{
				SerialNumber: args[0],
				Type:         notificationType,
				Channels:     channels,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	notify.Flags().String("type", "", "notification type, offline when empty")
	notify.Flags().StringSlice("channels", nil, "channels to notify, the configured defaults when empty")

	cmd.AddCommand(notify)

	return cmd
}

func jobCommand(use, short string, fn func(id string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := fn(args[0])
			if err != nil {
				return err
			}
			if result == nil {
				return nil
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func printJobs(w io.Writer, jobs []types.Job) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Trigger", "Next run", "State", "Last error"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)

	for _, j := range jobs {
		next := "-"
		if j.NextRun != nil {
			next = j.NextRun.Format(time.RFC3339)
		}

		state := []string{}
		if j.Paused {
			state = append(state, "paused")
		}
		if j.Running {
			state = append(state, "running")
		}
		if len(state) == 0 {
			state = append(state, "scheduled")
		}

		table.Append([]string{j.ID, j.Trigger, next, strings.Join(state, ","), j.LastError})
	}

	table.Render()
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
