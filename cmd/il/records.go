package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"idealine/internal/app"
	"idealine/internal/config"
	"idealine/internal/domain"
	"idealine/internal/engine"
	"idealine/internal/repo"
)

func auditCmd() *cobra.Command {
	c := &cobra.Command{Use: "audit", Short: "Inspect the classification audit log"}
	c.AddCommand(auditListCmd())
	c.AddCommand(auditReviewedCmd())
	return c
}

func auditListCmd() *cobra.Command {
	var f repo.AuditFilters
	var needsReview, reviewed string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if f.NeedsReview, err = triState("needs-review", needsReview); err != nil {
				return err
			}
			if f.Reviewed, err = triState("reviewed", reviewed); err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.ListAudit(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("ID", "Idea", "Source", "Confidence", "Routed To", "Review", "Reviewed", "Input")
				for _, entry := range entries {
					tw.AppendRow(table.Row{
						entry.ID,
						entry.IdeaID,
						entry.Source,
						fmt.Sprintf("%.2f", entry.Confidence),
						entry.RoutedTo,
						mark(entry.NeedsReview),
						mark(entry.Reviewed),
						truncate(entry.InputText, 40),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.IdeaID, "idea", "", "idea id")
	cmd.Flags().StringVar(&needsReview, "needs-review", "", "true or false")
	cmd.Flags().StringVar(&reviewed, "reviewed", "", "true or false")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max entries")
	return cmd
}

func auditReviewedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reviewed <audit-id>",
		Short: "Mark an audit entry reviewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				entry, err := a.Engine.MarkAuditReviewed(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
}

func delegationCmd() *cobra.Command {
	c := &cobra.Command{Use: "delegation", Short: "Track delegated work"}
	c.AddCommand(delegationCreateCmd())
	c.AddCommand(delegationListCmd())
	c.AddCommand(delegationCompleteCmd())
	return c
}

func delegationCreateCmd() *cobra.Command {
	var in engine.DelegationInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Delegate work to someone",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ActorID = actorID()
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.CreateDelegation(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&in.DelegatedTo, "to", "", "delegate")
	cmd.Flags().StringVar(&in.Description, "description", "", "what was delegated")
	cmd.Flags().StringVar(&in.IdeaID, "idea", "", "related idea id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func delegationListCmd() *cobra.Command {
	var status, ideaID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List delegations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListDelegations(ctx, status, ideaID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "To", "By", "Status", "Idea", "Description")
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.DelegatedTo, d.DelegatedBy, d.Status, deref(d.IdeaID), truncate(d.Description, 50)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending or completed")
	cmd.Flags().StringVar(&ideaID, "idea", "", "idea id")
	return cmd
}

func delegationCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a delegation completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.CompleteDelegation(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func areaCmd() *cobra.Command {
	c := &cobra.Command{Use: "area", Short: "Manage areas of responsibility"}
	c.AddCommand(areaAddCmd())
	c.AddCommand(areaListCmd())
	c.AddCommand(areaArchiveCmd())
	return c
}

func areaAddCmd() *cobra.Command {
	var area domain.Area
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create an area",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			area.Name = args[0]
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				created, err := a.Engine.CreateArea(ctx, area, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&area.Description, "description", "", "description")
	cmd.Flags().StringVar(&area.Horizon, "horizon", "", "planning horizon")
	return cmd
}

func areaListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List areas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				areas, err := a.Engine.ListAreas(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(areas)
				}
				tw := newTable("Name", "Status", "Horizon", "Description")
				for _, ar := range areas {
					tw.AppendRow(table.Row{ar.Name, ar.Status, ar.Horizon, truncate(ar.Description, 50)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "active", "active, archived or empty for all")
	return cmd
}

func areaArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <name>",
		Short: "Archive an area so triage stops matching it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				ar, err := a.Engine.ArchiveArea(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(ar)
			})
		},
	}
}

func knowledgeCmd() *cobra.Command {
	c := &cobra.Command{Use: "knowledge", Short: "Manage the knowledge base used as classifier context"}
	c.AddCommand(knowledgeAddCmd())
	c.AddCommand(knowledgeListCmd())
	c.AddCommand(knowledgeSearchCmd())
	return c
}

func knowledgeAddCmd() *cobra.Command {
	var in engine.KnowledgeInput
	cmd := &cobra.Command{
		Use:   "add <key> [content...]",
		Short: "Add a knowledge entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := inputText(args[1:])
			if err != nil {
				return err
			}
			in.Key = args[0]
			in.Content = content
			in.ActorID = actorID()
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				k, err := a.Engine.AddKnowledge(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(k)
			})
		},
	}
	cmd.Flags().StringVar(&in.Category, "category", "", "category")
	cmd.Flags().StringVar(&in.PARAType, "para", "", "project, area, resource or archive")
	cmd.Flags().StringVar(&in.IdeaID, "idea", "", "related idea id")
	return cmd
}

func knowledgeListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent knowledge entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListKnowledge(ctx, limit)
				if err != nil {
					return err
				}
				return printKnowledge(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries")
	return cmd
}

func knowledgeSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search knowledge entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.SearchKnowledge(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				return printKnowledge(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries")
	return cmd
}

func printKnowledge(items []domain.KnowledgeEntry) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("Key", "PARA", "Category", "Content")
	for _, k := range items {
		tw.AppendRow(table.Row{k.Key, k.PARAType, k.Category, truncate(k.Content, 60)})
	}
	tw.Render()
	return nil
}

func personCmd() *cobra.Command {
	c := &cobra.Command{Use: "person", Short: "Manage people known to the classifier"}
	c.AddCommand(personSetCmd())
	c.AddCommand(personShowCmd())
	c.AddCommand(personListCmd())
	return c
}

func personSetCmd() *cobra.Command {
	var p domain.Person
	cmd := &cobra.Command{
		Use:   "set <username>",
		Short: "Create or update a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Username = args[0]
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				saved, err := a.Engine.SetPerson(ctx, p, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&p.Role, "role", "", "role")
	cmd.Flags().StringVar(&p.Department, "department", "", "department")
	cmd.Flags().StringVar(&p.Expertise, "expertise", "", "expertise")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func personShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <username>",
		Short: "Show a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetPerson(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func personListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List people",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				people, err := a.Engine.ListPeople(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(people)
				}
				tw := newTable("Username", "Role", "Department", "Expertise")
				for _, p := range people {
					tw.AppendRow(table.Row{p.Username, p.Role, p.Department, truncate(p.Expertise, 40)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	c.AddCommand(apikeyCreateCmd())
	c.AddCommand(apikeyListCmd())
	c.AddCommand(apikeyRevokeCmd())
	return c
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				key, secret, err := a.Engine.CreateAPIKey(ctx, actorID(), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("API key %s for %s\nSecret (shown once): %s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys of --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Actor", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.ActorID, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.RevokeAPIKey(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect and import configuration"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	c.AddCommand(configImportCmd())
	return c
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if viper.GetBool("json") {
					return printJSON(a.Config)
				}
				out, err := yaml.Marshal(a.Config)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without importing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromFile(filePath); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML or TOML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a config file into the workspace",
		Long:  "Stores the config in the workspace database and seeds its areas. Classifier and agent changes apply to the next command or server start.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.ImportConfig(ctx, cfg, actorID()); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "imported %s\n", filePath)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML or TOML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				list := a.Engine.Agents.List()
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable("Key", "Name", "Categories", "Skills", "Suggestable")
				for _, ag := range list {
					tw.AppendRow(table.Row{ag.Key, ag.Name, strings.Join(ag.Categories, ", "), strings.Join(ag.Skills, ", "), mark(ag.Suggestable)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func skillsCmd() *cobra.Command {
	c := &cobra.Command{Use: "skills", Short: "Inspect the skills library"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List skill documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				refs, err := a.Skills.List()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(refs)
				}
				for _, ref := range refs {
					fmt.Println(ref)
				}
				return nil
			})
		},
	})
	return c
}

func eventsCmd() *cobra.Command {
	c := &cobra.Command{Use: "events", Short: "Read the event log"}
	c.AddCommand(eventsTailCmd())
	return c
}

func eventsTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				evts, err := a.Engine.ListEvents(ctx, n, 0, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}
