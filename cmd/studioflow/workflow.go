package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studioflow/internal/app"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Inspect the phase catalog"}
	cat.AddCommand(&cobra.Command{
		Use:   "phases",
		Short: "List phases and their actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				c := a.Engine.Catalog
				if viper.GetBool("json") {
					type phaseOut struct {
						domain.Phase
						Actions []domain.Action `json:"actions"`
					}
					var out []phaseOut
					for _, p := range c.Phases() {
						out = append(out, phaseOut{Phase: p, Actions: c.Actions(p.ID)})
					}
					return printJSON(out)
				}
				tw := newTable("#", "Key", "Name", "Client", "System", "Actions")
				for _, p := range c.Phases() {
					actions := ""
					for i, act := range c.Actions(p.ID) {
						if i > 0 {
							actions += ", "
						}
						actions += act.Key
						if act.IsRequired {
							actions += "*"
						}
					}
					tw.AppendRow(table.Row{p.OrderIndex, p.Icon + " " + p.Key, p.Name, yesNo(p.RequiresClientAction), yesNo(p.IsSystemPhase), actions})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cat
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name, owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project at the first phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				p, state, err := e.CreateProject(ctx, engine.NewProject{ID: id, Name: name, OwnerID: owner}, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "state": state})
				}
				fmt.Printf("Created project %s (%s) owned by %s\n", p.ID, p.Name, p.OwnerID)
				printState(state)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id (defaults to the acting user)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.Repo.ListProjects(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Owner", "Status", "Created")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.OwnerID, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only projects of this owner")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				p, err := a.Engine.ProjectFor(ctx, args[0], currentActor())
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project>",
		Short: "Soft-delete a project (history is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if err := e.DeleteProject(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Println("Deleted project", args[0])
				return nil
			})
		},
	}
}

func phaseCmd() *cobra.Command {
	ph := &cobra.Command{Use: "phase", Short: "Move projects through the pipeline"}
	ph.AddCommand(phaseShowCmd())
	ph.AddCommand(phaseHistoryCmd())
	ph.AddCommand(phaseInitCmd())
	ph.AddCommand(phaseAdvanceCmd())
	ph.AddCommand(phaseJumpCmd())
	ph.AddCommand(phaseApproveCmd())
	ph.AddCommand(phaseRejectCmd())
	ph.AddCommand(phaseDecisionsCmd())
	ph.AddCommand(phaseActivityCmd())
	return ph
}

func phaseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project>",
		Short: "Show the current phase and its checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				state, err := a.Engine.GetCurrentState(ctx, args[0])
				if err != nil {
					return err
				}
				return outputState(state)
			})
		},
	}
}

func phaseHistoryCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history <project>",
		Short: "Show phase transitions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				page, err := a.Engine.ListHistory(ctx, args[0], limit, offset)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable("Seq", "From", "To", "By", "Reason", "At")
				for _, h := range page.Entries {
					from := "-"
					if h.FromPhaseKey != "" {
						from = h.FromPhaseKey
					}
					tw.AppendRow(table.Row{h.Seq, from, h.ToPhaseKey, h.ActorName, h.Reason, h.CreatedAt})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "total", page.Total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func phaseInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <project>",
		Short: "Create phase tracking for a project that has none",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				state, err := e.Initialize(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return outputState(state)
			})
		},
	}
}

func phaseAdvanceCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "advance <project>",
		Short: "Advance to the next phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				state, err := e.Advance(ctx, args[0], actor, reason)
				if err != nil {
					return err
				}
				return outputState(state)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "history reason")
	return cmd
}

func phaseJumpCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "jump <project> <phase>",
		Short: "Move to any phase (administrators)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				state, err := e.JumpTo(ctx, args[0], args[1], actor, reason)
				if err != nil {
					return err
				}
				return outputState(state)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "history reason")
	return cmd
}

func phaseApproveCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "approve <project> <phase>",
		Short: "Approve the current phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				state, err := e.Approve(ctx, args[0], args[1], actor, notes)
				if err != nil {
					return err
				}
				return outputState(state)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "approval notes")
	return cmd
}

func phaseRejectCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "reject <project> <phase>",
		Short: "Request changes on the current phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				state, err := e.Reject(ctx, args[0], args[1], actor, feedback)
				if err != nil {
					return err
				}
				return outputState(state)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "requested changes")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func phaseDecisionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decisions <project>",
		Short: "List approvals and change requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.Decisions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Phase", "Decision", "By", "Notes", "At")
				for _, d := range items {
					key := d.PhaseID
					if p, ok := a.Engine.Catalog.ByID(d.PhaseID); ok {
						key = p.Key
					}
					tw.AppendRow(table.Row{key, d.Decision, d.ActorID, d.Notes, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func phaseActivityCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity <project>",
		Short: "Show the project activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ActivityLog(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("At", "Actor", "Action", "Description")
				for _, l := range items {
					tw.AppendRow(table.Row{l.CreatedAt, l.ActorID, l.Action, l.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries")
	return cmd
}

func actionCmd() *cobra.Command {
	act := &cobra.Command{Use: "action", Short: "Client action checklist"}
	var notes string
	var undo bool
	set := &cobra.Command{
		Use:   "set <project> <action>",
		Short: "Mark an action done (or not done with --undo)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				res, err := e.SetActionStatus(ctx, engine.ActionUpdate{
					ProjectID: args[0],
					Action:    args[1],
					Completed: !undo,
					Notes:     notes,
				}, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				switch {
				case res.Automation.Completed:
					fmt.Println("All required actions done: project completed")
				case res.Automation.Advanced:
					fmt.Printf("All required actions done: advanced to %s\n", res.Automation.ToPhase)
				case res.AllRequiredComplete:
					fmt.Println("All required actions done")
				}
				printState(res.State)
				return nil
			})
		},
	}
	set.Flags().StringVar(&notes, "notes", "", "notes")
	set.Flags().BoolVar(&undo, "undo", false, "mark the action not done")
	act.AddCommand(set)
	return act
}

func outputState(state domain.PhaseState) error {
	if viper.GetBool("json") {
		return printJSON(state)
	}
	printState(state)
	return nil
}

func printState(state domain.PhaseState) {
	status := "in progress"
	if state.IsCompleted {
		status = "completed"
	}
	fmt.Printf("%s %s (%d/%d) %s, since %s\n", state.Phase.Icon, state.Phase.Name, state.PhaseIndex+1, state.TotalPhases, status, state.PhaseStartedAt)
	if len(state.Actions) == 0 {
		return
	}
	tw := newTable("Done", "Action", "Required", "By", "Notes")
	for _, a := range state.Actions {
		by := ""
		if a.CompletedBy != nil {
			by = *a.CompletedBy
		}
		tw.AppendRow(table.Row{yesNo(a.IsCompleted), a.Key, yesNo(a.IsRequired), by, a.Notes})
	}
	tw.Render()
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
