package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sceneplus/internal/capture"
	"sceneplus/internal/config"
	"sceneplus/internal/homeassistant"
	"sceneplus/internal/merge"
	"sceneplus/internal/scenestore"
)

var titleCaser = cases.Title(language.Und)

func newSceneCommand(ctx *commandContext) *cobra.Command {
	sceneCmd := &cobra.Command{
		Use:   "scene",
		Short: "Inspect and edit scenes without the daemon",
	}
	sceneCmd.AddCommand(newSceneShowCommand(ctx))
	sceneCmd.AddCommand(newSceneCaptureCommand(ctx))
	sceneCmd.AddCommand(newSceneCreateCommand(ctx))
	return sceneCmd
}

type sceneEntityView struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

type sceneView struct {
	SceneID  string            `json:"scene_id"`
	Entities []sceneEntityView `json:"entities"`
}

func newSceneShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <scene_id>",
		Short: "Show the entities stored for a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.cliLogger()
			store := scenestore.NewFromConfig(cfg, nil, logger)
			set, err := store.LookupEntities(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			view := sceneView{SceneID: args[0], Entities: make([]sceneEntityView, 0, len(set.IDs))}
			for _, id := range set.IDs {
				entry := set.Entries[id]
				view.Entities = append(view.Entities, sceneEntityView{EntityID: id, State: entry.State, Attributes: entry.Attributes})
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, view)
			}

			rows := make([][]string, 0, len(view.Entities))
			for _, entity := range view.Entities {
				state := entity.State
				if state == "" {
					state = "-"
				} else {
					state = titleCaser.String(state)
				}
				rows = append(rows, []string{entity.EntityID, state, strconv.Itoa(len(entity.Attributes)), attributeKeys(entity.Attributes)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scene %s\n", args[0])
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Entity", "State", "Attrs", "Keys"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func attributeKeys(attrs map[string]any) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

func newSceneCaptureCommand(ctx *commandContext) *cobra.Command {
	var snapshotPath string

	cmd := &cobra.Command{
		Use:   "capture <scene_id>",
		Short: "Capture current state into an existing scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.cliLogger()
			snapshot, err := takeSnapshot(cmd.Context(), cfg, snapshotPath, logger)
			if err != nil {
				return err
			}
			store := scenestore.NewFromConfig(cfg, nil, logger)
			return reportOutcome(cmd, ctx, store.Update(cmd.Context(), args[0], snapshot))
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Read entity states from a JSON file instead of Home Assistant")
	return cmd
}

func newSceneCreateCommand(ctx *commandContext) *cobra.Command {
	var snapshotPath string
	var name string
	var entityIDs []string

	cmd := &cobra.Command{
		Use:   "create <scene_id>",
		Short: "Create a scene from the current state of entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(entityIDs) == 0 {
				return errors.New("at least one --entity is required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.cliLogger()
			snapshot, err := takeSnapshot(cmd.Context(), cfg, snapshotPath, logger)
			if err != nil {
				return err
			}
			store := scenestore.NewFromConfig(cfg, nil, logger)
			return reportOutcome(cmd, ctx, store.Create(cmd.Context(), args[0], name, entityIDs, snapshot))
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Read entity states from a JSON file instead of Home Assistant")
	cmd.Flags().StringVar(&name, "name", "", "Display name for the scene")
	cmd.Flags().StringArrayVarP(&entityIDs, "entity", "e", nil, "Entity to include (repeatable)")
	return cmd
}

// takeSnapshot reads states from snapshotPath when set, otherwise from the
// configured Home Assistant instance.
func takeSnapshot(ctx context.Context, cfg *config.Config, snapshotPath string, logger *slog.Logger) (merge.Snapshot, error) {
	if path := strings.TrimSpace(snapshotPath); path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, fmt.Errorf("resolve snapshot path: %w", err)
		}
		return capture.FileProvider{Path: expanded}.SnapshotAll(ctx)
	}
	ha := homeassistant.NewFromConfig(cfg, logger)
	if !ha.Configured() {
		return nil, errors.New("no state provider configured: pass --snapshot or set home_assistant.url and home_assistant.token")
	}
	return ha.SnapshotAll(ctx)
}

func reportOutcome(cmd *cobra.Command, ctx *commandContext, out scenestore.Outcome) error {
	if ctx.JSONMode() {
		if err := writeJSON(cmd, out); err != nil {
			return err
		}
	} else if out.Success {
		fmt.Fprintln(cmd.OutOrStdout(), out.Message)
		for _, id := range out.Updated {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
		}
	}
	if !out.Success {
		return errors.New(out.Message)
	}
	return nil
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Rewrite flat scene entries into the state/attributes shape",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store := scenestore.NewFromConfig(cfg, nil, ctx.cliLogger())
			converted, err := store.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				if converted == nil {
					converted = []string{}
				}
				return writeJSON(cmd, map[string]any{"converted": converted})
			}
			out := cmd.OutOrStdout()
			if len(converted) == 0 {
				fmt.Fprintln(out, "No flat entries found")
				return nil
			}
			fmt.Fprintf(out, "Converted %d entries\n", len(converted))
			for _, item := range converted {
				fmt.Fprintf(out, "  %s\n", item)
			}
			return nil
		},
	}
}
