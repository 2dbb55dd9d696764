package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studioflow/internal/app"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/repo"
	"studioflow/internal/server"
)

func rulesCmd() *cobra.Command {
	rules := &cobra.Command{Use: "rules", Short: "Manage automation rules"}
	rules.AddCommand(rulesListCmd())
	rules.AddCommand(rulesCreateCmd())
	rules.AddCommand(rulesUpdateCmd())
	rules.AddCommand(rulesDeleteCmd())
	return rules
}

func rulesListCmd() *cobra.Command {
	var phase string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List automation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListRules(ctx, phase)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Phase", "Type", "Auto advance", "Auto complete", "Active")
				for _, r := range items {
					key := r.FromPhaseID
					if p, ok := a.Engine.Catalog.ByID(r.FromPhaseID); ok {
						key = p.Key
					}
					tw.AppendRow(table.Row{r.ID, key, r.RuleType, yesNo(r.Config.AutoAdvance), yesNo(r.Config.AutoComplete), yesNo(r.IsActive)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "only rules of this phase")
	return cmd
}

func rulesCreateCmd() *cobra.Command {
	var in engine.RuleInput
	cmd := &cobra.Command{
		Use:   "create <phase>",
		Short: "Add an all_actions_complete rule to a phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.PhaseKey = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				rule, err := e.CreateRule(ctx, in, actor)
				if err != nil {
					return err
				}
				return printJSON(rule)
			})
		},
	}
	cmd.Flags().BoolVar(&in.AutoAdvance, "auto-advance", true, "advance once required actions are done")
	cmd.Flags().BoolVar(&in.AutoComplete, "auto-complete", false, "complete the project (final phase only)")
	cmd.Flags().BoolVar(&in.Active, "active", true, "rule is active")
	return cmd
}

func rulesUpdateCmd() *cobra.Command {
	var autoAdvance, autoComplete, active bool
	cmd := &cobra.Command{
		Use:   "update <rule-id>",
		Short: "Change an automation rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.RulePatch
			if cmd.Flags().Changed("auto-advance") {
				patch.AutoAdvance = &autoAdvance
			}
			if cmd.Flags().Changed("auto-complete") {
				patch.AutoComplete = &autoComplete
			}
			if cmd.Flags().Changed("active") {
				patch.Active = &active
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				rule, err := e.UpdateRule(ctx, args[0], patch, actor)
				if err != nil {
					return err
				}
				return printJSON(rule)
			})
		},
	}
	cmd.Flags().BoolVar(&autoAdvance, "auto-advance", false, "advance once required actions are done")
	cmd.Flags().BoolVar(&autoComplete, "auto-complete", false, "complete the project (final phase only)")
	cmd.Flags().BoolVar(&active, "active", false, "rule is active")
	return cmd
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete an automation rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if err := e.DeleteRule(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Println("Deleted rule", args[0])
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	var u domain.User
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Create or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u.ID = args[0]
			if u.Role != domain.RoleAdmin && u.Role != domain.RoleClient {
				return fmt.Errorf("--role must be %s or %s", domain.RoleAdmin, domain.RoleClient)
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.Repo.UpsertUser(ctx, nil, u); err != nil {
					return err
				}
				fmt.Printf("Saved user %s (%s)\n", u.ID, u.Role)
				return nil
			})
		},
	}
	add.Flags().StringVar(&u.DisplayName, "name", "", "display name")
	add.Flags().StringVar(&u.Email, "email", "", "email address for notifications")
	add.Flags().StringVar(&u.Role, "role", domain.RoleClient, "admin or client")
	usr.AddCommand(add)
	usr.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Email", "Role")
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.DisplayName, u.Email, u.Role})
				}
				tw.Render()
				return nil
			})
		},
	})
	return usr
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var owner, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = viper.GetString("actor-id")
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				secret, err := newAPIKeySecret()
				if err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   owner,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": secret})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&owner, "actor", "", "actor the key authenticates as (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "label")
	keys.AddCommand(create)

	var listActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.Repo.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Actor", "Name", "Created")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listActor, "actor", "", "only keys of this actor")
	keys.AddCommand(list)

	keys.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("Revoked", args[0])
				return nil
			})
		},
	})
	return keys
}

func newAPIKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sf_" + hex.EncodeToString(buf), nil
}

func tokenCmd() *cobra.Command {
	var roles string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <actor>",
		Short: "Mint a bearer token signed with STUDIOFLOW_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var roleList []string
			for _, r := range strings.Split(roles, ",") {
				if r = strings.TrimSpace(r); r != "" {
					roleList = append(roleList, r)
				}
			}
			token, err := server.SignToken(viper.GetString("jwt-secret"), args[0], roleList, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&roles, "roles", "", "comma separated roles, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret")
	cmd.PreRunE = bindSecret
	return cmd
}
