package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"idealine/internal/app"
	"idealine/internal/domain"
	"idealine/internal/engine"
	"idealine/internal/repo"
)

func captureCmd() *cobra.Command {
	var speaker, source, audioRef string
	cmd := &cobra.Command{
		Use:   "capture [text...]",
		Short: "Capture and triage raw input",
		Long:  "Stores the text as a captured idea and triages it. Reads stdin when no text is given. A classifier failure leaves the idea captured so it can be re-triaged.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if speaker == "" {
					speaker = actorID()
				}
				out, err := a.Engine.Capture(ctx, engine.CaptureInput{
					Text:     text,
					Speaker:  speaker,
					Source:   source,
					AudioRef: audioRef,
				})
				if err != nil {
					return err
				}
				return printTriage(out)
			})
		},
	}
	cmd.Flags().StringVar(&speaker, "speaker", "", "who said it (defaults to --actor-id)")
	cmd.Flags().StringVar(&source, "source", "text", "text or voice")
	cmd.Flags().StringVar(&audioRef, "audio-ref", "", "reference to the original audio")
	return cmd
}

func previewCmd() *cobra.Command {
	var speaker string
	cmd := &cobra.Command{
		Use:   "preview [text...]",
		Short: "Classify input without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if speaker == "" {
					speaker = actorID()
				}
				res, err := a.Engine.Preview(ctx, text, speaker)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"kind": res.Kind, "items": res.Items})
				}
				fmt.Printf("Result: %s (%d item(s))\n", res.Kind, len(res.Items))
				tw := newTable("#", "Type", "Category", "PARA", "Confidence", "Summary")
				for i, item := range res.Items {
					tw.AppendRow(table.Row{
						i + 1,
						item.Type.String(),
						item.Category.String(),
						item.PARAType.String(),
						confidence(item.Confidence.Value, item.Confidence.Set),
						truncate(item.Summary.String(), 60),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&speaker, "speaker", "", "who said it (defaults to --actor-id)")
	return cmd
}

func ideaCmd() *cobra.Command {
	c := &cobra.Command{Use: "idea", Short: "Manage ideas"}
	c.AddCommand(ideaListCmd())
	c.AddCommand(ideaShowCmd())
	c.AddCommand(ideaSubtasksCmd())
	c.AddCommand(ideaTriageCmd())
	c.AddCommand(ideaGTDCmd())
	c.AddCommand(ideaCompleteCmd())
	c.AddCommand(ideaReopenCmd())
	c.AddCommand(ideaDistillCmd())
	c.AddCommand(ideaExpressCmd())
	c.AddCommand(ideaDecomposeCmd())
	c.AddCommand(ideaExecuteCmd())
	c.AddCommand(ideaExecutionCmd())
	return c
}

func ideaListCmd() *cobra.Command {
	var f repo.IdeaFilters
	var needsReview, completed, projects string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ideas, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if f.NeedsReview, err = triState("needs-review", needsReview); err != nil {
				return err
			}
			if f.Completed, err = triState("completed", completed); err != nil {
				return err
			}
			if f.IsProject, err = triState("projects", projects); err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				ideas, err := a.Engine.ListIdeas(ctx, f)
				if err != nil {
					return err
				}
				return printIdeas(ideas)
			})
		},
	}
	cmd.Flags().StringVar(&f.Stage, "stage", "", "captured, organized, distilled or expressed")
	cmd.Flags().StringVar(&needsReview, "needs-review", "", "true or false")
	cmd.Flags().StringVar(&completed, "completed", "", "true or false")
	cmd.Flags().StringVar(&projects, "projects", "", "true or false")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "parent project id")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max ideas")
	return cmd
}

func ideaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.GetIdea(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(idea)
			})
		},
	}
}

func ideaSubtasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subtasks <project-id>",
		Short: "List the sub-tasks of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				subs, err := a.Engine.SubTasks(ctx, args[0])
				if err != nil {
					return err
				}
				return printIdeas(subs)
			})
		},
	}
}

func ideaTriageCmd() *cobra.Command {
	var text, speaker string
	cmd := &cobra.Command{
		Use:   "triage <id>",
		Short: "Re-run triage on a captured idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if speaker == "" {
					speaker = actorID()
				}
				out, err := a.Engine.Triage(ctx, args[0], text, speaker)
				if err != nil {
					return err
				}
				return printTriage(out)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "replacement text (defaults to the stored text)")
	cmd.Flags().StringVar(&speaker, "speaker", "", "who said it (defaults to --actor-id)")
	return cmd
}

func ideaGTDCmd() *cobra.Command {
	var contextTag, energy, commitment, objective, notes, assignedTo, priority, estimate string
	var nextAction bool
	cmd := &cobra.Command{
		Use:   "gtd <id>",
		Short: "Update GTD fields of an idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.GTDPatch{
				ContextTag:     changedString(cmd, "context", contextTag),
				Energy:         changedString(cmd, "energy", energy),
				CommitmentKind: changedString(cmd, "commitment", commitment),
				Objective:      changedString(cmd, "objective", objective),
				Notes:          changedString(cmd, "notes", notes),
				AssignedTo:     changedString(cmd, "assigned-to", assignedTo),
				Priority:       changedString(cmd, "priority", priority),
				EstimatedTime:  changedString(cmd, "estimate", estimate),
			}
			if cmd.Flags().Changed("next-action") {
				patch.IsNextAction = &nextAction
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.UpdateGTD(ctx, args[0], patch, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(idea)
			})
		},
	}
	cmd.Flags().StringVar(&contextTag, "context", "", "context tag, e.g. at-computer")
	cmd.Flags().StringVar(&energy, "energy", "", "low, medium or high")
	cmd.Flags().StringVar(&commitment, "commitment", "", "committed, this-week, someday or maybe")
	cmd.Flags().BoolVar(&nextAction, "next-action", false, "flag as the next action")
	cmd.Flags().StringVar(&objective, "objective", "", "objective")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee")
	cmd.Flags().StringVar(&priority, "priority", "", "high, medium or low")
	cmd.Flags().StringVar(&estimate, "estimate", "", "estimated time, e.g. 30m")
	return cmd
}

func ideaCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark an idea done",
		Long:  "Completing a sub-task hands the next action to the earliest open sibling; completing the last one completes the project.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.Complete(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(idea)
			})
		},
	}
}

func ideaReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a completed idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.Reopen(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(idea)
			})
		},
	}
}

func ideaDistillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distill <id>",
		Short: "Distill an organized idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Distill(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				d := res.Distillation
				if res.Fallback {
					fmt.Println("Classifier unavailable; showing a fallback distillation (nothing saved).")
				}
				fmt.Printf("Idea: %s [%s]\n", res.Idea.ID, res.Idea.CodeStage)
				fmt.Printf("Key insight: %s\n", d.KeyInsight.String())
				fmt.Printf("Key action: %s\n", d.KeyAction.String())
				if len(d.Connections) > 0 {
					fmt.Printf("Connections: %s\n", strings.Join(d.Connections, ", "))
				}
				fmt.Printf("Summary: %s\n", d.DistilledSummary.String())
				return nil
			})
		},
	}
}

func ideaExpressCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "express <id>",
		Short: "Record the output produced from an idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.Express(ctx, args[0], output, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(idea)
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "produced output")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func ideaDecomposeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decompose <project-id>",
		Short: "Split a project into sub-tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Decompose(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Project: %s\nObjective: %s\n", res.ProjectName, res.Objective)
				return printIdeas(res.SubTasks)
			})
		},
	}
}

func ideaExecuteCmd() *cobra.Command {
	var opts engine.ExecuteOptions
	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Run an agent over an idea",
		Long:  "Runs the suggested (or given) agent with its skills. A failed run is stored on the idea and can be retried.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.IdeaID = args[0]
			opts.ActorID = actorID()
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.Execute(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(idea)
				}
				fmt.Printf("Execution: %s (agent %s)\n", idea.ExecutionStatus, deref(idea.ExecutedBy))
				if idea.ExecutionError != nil {
					fmt.Printf("Error: %s\n", *idea.ExecutionError)
				}
				if idea.ExecutionOutput != nil {
					fmt.Println(*idea.ExecutionOutput)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.AgentKey, "agent", "", "agent key (defaults to the suggested agent)")
	cmd.Flags().StringSliceVar(&opts.Skills, "skill", nil, "skill reference (repeatable)")
	cmd.Flags().StringVar(&opts.Context, "context", "", "extra context for the agent")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "re-run a completed execution")
	return cmd
}

func ideaExecutionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execution <id>",
		Short: "Show the execution state of an idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				view, err := a.Engine.Execution(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
}

func reviewCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List ideas awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				ideas, err := a.Engine.ReviewQueue(ctx, limit)
				if err != nil {
					return err
				}
				return printIdeas(ideas)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max ideas")
	return cmd
}

func fixCmd() *cobra.Command {
	var typ, category, para, assignedTo, priority, area string
	cmd := &cobra.Command{
		Use:   "fix <id>",
		Short: "Correct a classification and clear its review flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.FixInput{
				Type:       changedString(cmd, "type", typ),
				Category:   changedString(cmd, "category", category),
				PARAType:   changedString(cmd, "para", para),
				AssignedTo: changedString(cmd, "assigned-to", assignedTo),
				Priority:   changedString(cmd, "priority", priority),
				Area:       changedString(cmd, "area", area),
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.Fix(ctx, args[0], in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(idea)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "idea type")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&para, "para", "", "project, area, resource or archive")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee")
	cmd.Flags().StringVar(&priority, "priority", "", "high, medium or low")
	cmd.Flags().StringVar(&area, "area", "", "area name (empty clears it)")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count ideas per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				counts, err := a.Engine.StageCounts(ctx)
				if err != nil {
					return err
				}
				stages := []string{domain.StageCaptured, domain.StageOrganized, domain.StageDistilled, domain.StageExpressed}
				out := make(map[string]int, len(stages))
				for _, s := range stages {
					out[s] = counts[s]
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable("Stage", "Ideas")
				for _, s := range stages {
					tw.AppendRow(table.Row{s, out[s]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func printIdeas(ideas []domain.Idea) error {
	if viper.GetBool("json") {
		return printJSON(ideas)
	}
	tw := newTable("ID", "Stage", "Type", "Category", "Next", "Review", "Done", "Summary")
	for _, i := range ideas {
		summary := deref(i.Summary)
		if summary == "" {
			summary = i.Text
		}
		tw.AppendRow(table.Row{
			i.ID,
			i.CodeStage,
			deref(i.Type),
			deref(i.Category),
			mark(i.IsNextAction),
			mark(i.NeedsReview),
			mark(i.Completed),
			truncate(summary, 50),
		})
	}
	tw.Render()
	return nil
}

func printTriage(out engine.TriageOutcome) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"idea_ids":     out.IdeaIDs(),
			"ideas":        out.Ideas,
			"split":        out.Split,
			"sub_task_ids": out.SubTaskIDs,
			"error":        out.Error,
		})
	}
	if out.Error != nil {
		fmt.Printf("Triage failed (%s): %s\nThe idea stays captured; retry with 'il idea triage <id>'.\n", out.ErrorKind, out.Error.Message)
	} else if out.Split {
		fmt.Printf("Split into %d ideas.\n", len(out.Ideas))
	}
	if len(out.SubTaskIDs) > 0 {
		fmt.Printf("Created %d sub-task(s).\n", len(out.SubTaskIDs))
	}
	return printIdeas(out.Ideas)
}

func confidence(v float64, set bool) string {
	if !set {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func mark(b bool) string {
	if b {
		return "x"
	}
	return ""
}
