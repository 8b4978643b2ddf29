package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sceneplus/internal/filelock"
	"sceneplus/internal/ipc"
)

func newServiceCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStatusCommand(ctx),
		newEntitiesCommand(ctx),
		newUpdateCommand(ctx),
		newReloadCommand(ctx),
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, status)
				}
				writeStatus(cmd, status)
				return nil
			})
		},
	}
}

func writeStatus(cmd *cobra.Command, status *ipc.StatusResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	lines := renderSectionHeader("Daemon", colorize)

	if status.Running {
		detail := "pid " + strconv.Itoa(status.PID)
		if status.StartedAt != "" {
			detail += ", since " + status.StartedAt
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}

	switch {
	case status.LastError != "":
		lines = append(lines, renderStatusLine("Scenes", statusError, status.LastError, colorize))
	default:
		lines = append(lines, renderStatusLine("Scenes", statusOK,
			fmt.Sprintf("%d in %s", status.SceneCount, status.ScenesPath), colorize))
	}

	lockKind := statusInfo
	lockDetail := "in-process only"
	if status.CrossProcessLock {
		lockKind = statusOK
		lockDetail = "advisory lock on " + filelock.LockPath(status.ScenesPath)
	}
	lines = append(lines, renderStatusLine("File lock", lockKind, lockDetail, colorize))

	ha := status.HomeAssistant
	switch {
	case !ha.Configured:
		lines = append(lines, renderStatusLine("Home Assistant", statusWarn, ha.Detail, colorize))
	case ha.Reachable:
		lines = append(lines, renderStatusLine("Home Assistant", statusOK, "reachable", colorize))
	default:
		lines = append(lines, renderStatusLine("Home Assistant", statusError, ha.Detail, colorize))
	}

	if status.JournalPath != "" {
		lines = append(lines, renderStatusLine("Journal", statusOK, status.JournalPath, colorize))
	} else {
		lines = append(lines, renderStatusLine("Journal", statusInfo, "disabled", colorize))
	}

	fmt.Fprintln(out, strings.Join(lines, "\n"))
}

func newEntitiesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "entities <entity_id>",
		Short: "List the entities of the scene controlled by an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.GetEntities(args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				if !resp.Success {
					return errors.New(resp.Error)
				}
				out := cmd.OutOrStdout()
				if resp.SceneID == nil {
					fmt.Fprintf(out, "No scene found for %s\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "Scene %s (%d entities)\n", *resp.SceneID, len(resp.Entities))
				for _, id := range resp.Entities {
					fmt.Fprintf(out, "  %s\n", id)
				}
				return nil
			})
		},
	}
}

func newUpdateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "update <entity_id>",
		Short: "Capture live state into the scene controlled by an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Update(args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if err := writeJSON(cmd, resp); err != nil {
						return err
					}
				} else if resp.Success {
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
					for _, id := range resp.Updated {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
					}
				}
				if !resp.Success {
					return errors.New(updateFailure(resp))
				}
				return nil
			})
		},
	}
}

func updateFailure(resp *ipc.UpdateResponse) string {
	for _, msg := range []string{resp.Error, resp.Message} {
		if strings.TrimSpace(msg) != "" {
			return msg
		}
	}
	return "update failed"
}

func newReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask Home Assistant to reload scenes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reload()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				if !resp.Success {
					return errors.New(resp.Error)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Scenes reloaded")
				return nil
			})
		},
	}
}
