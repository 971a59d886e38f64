package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsdesk/internal/app"
	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/migrate"
	"opsdesk/internal/repo"
	"opsdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "od",
	Short: "Opsdesk CLI",
	Long: `Opsdesk runs agency operations: shared task templates, client assignments
and the fork flow that turns a shared template into a client-specific one.
- Workspace: the .opsdesk directory holding the database; opsdesk.yml holds config.
- Clients: the agency's customers.
- Templates: reusable bundles of assets (profiles, listings, sites) and a team roster.
- Assignments: a client bound to a template, with per-asset settings and tasks.
- Fork: clone the shared template for one client, swap or add assets, regenerate
  tasks and rebind the assignment — one atomic operation, safe to retry with an
  idempotency key.
- Audit log: every mutation is recorded, view with 'od audit list'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OPSDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(forkCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func clientCmd() *cobra.Command {
	c := &cobra.Command{Use: "client", Short: "Manage clients"}
	c.AddCommand(clientCreateCmd())
	c.AddCommand(clientListCmd())
	return c
}

func clientCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateClient(ctx, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func clientListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListClients(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Status, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// templateFile is the --file shape for template create: the asset list and
// team roster, using the same field names as the HTTP API.
type templateFile struct {
	Assets      []domain.Asset      `json:"assets"`
	TeamMembers []domain.TeamMember `json:"team_members"`
}

func templateCmd() *cobra.Command {
	t := &cobra.Command{Use: "template", Short: "Manage templates"}
	t.AddCommand(templateCreateCmd())
	t.AddCommand(templateListCmd())
	t.AddCommand(templateShowCmd())
	return t
}

func templateCreateCmd() *cobra.Command {
	var name, description, packageRef, filePath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create template",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TemplateCreateOptions{
				Name:        name,
				Description: description,
				PackageRef:  packageRef,
				ActorID:     viper.GetString("actor-id"),
			}
			if filePath != "" {
				data, err := os.ReadFile(filePath)
				if err != nil {
					return err
				}
				var tf templateFile
				if err := json.Unmarshal(data, &tf); err != nil {
					return fmt.Errorf("invalid template file: %w", err)
				}
				opts.Assets = tf.Assets
				opts.TeamMembers = tf.TeamMembers
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, assets, err := e.CreateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"template": t, "assets": assets})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "template name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&packageRef, "package-ref", "", "service package reference")
	cmd.Flags().StringVar(&filePath, "file", "", "JSON file with assets and team_members")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func templateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Package", "Status", "Created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.PackageRef, t.Status, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func templateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show template with assets and team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTemplate(ctx, id)
				if err != nil {
					return err
				}
				assets, err := e.Repo.ListAssets(ctx, t.ID)
				if err != nil {
					return err
				}
				members, err := e.Repo.ListTeamMembers(ctx, t.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"template":     t,
					"assets":       assets,
					"team_members": members,
				})
			})
		},
	}
	return cmd
}

func assignmentCmd() *cobra.Command {
	a := &cobra.Command{Use: "assignment", Short: "Manage assignments"}
	a.AddCommand(assignmentCreateCmd())
	a.AddCommand(assignmentShowCmd())
	return a
}

func assignmentCreateCmd() *cobra.Command {
	var clientID, templateID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Bind a client to a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAssignment(ctx, clientID, templateID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func assignmentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show assignment state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("assignment id is required")
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AssignmentState(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"assignment":   res.Assignment,
					"template":     res.Template,
					"assets":       res.Assets,
					"team_members": res.TeamMembers,
					"tasks":        res.Tasks,
					"settings":     res.Settings,
				})
			})
		},
	}
	return cmd
}

// forkFile is the --file shape for fork: replacements and new assets, using
// the same field names as the HTTP API.
type forkFile struct {
	NewAssets []struct {
		Type                        string  `json:"type"`
		Name                        string  `json:"name"`
		CustomName                  *string `json:"custom_name,omitempty"`
		URL                         *string `json:"url,omitempty"`
		Description                 *string `json:"description,omitempty"`
		IsRequired                  bool    `json:"is_required"`
		DefaultPostingFrequency     *int    `json:"default_posting_frequency,omitempty"`
		DefaultIdealDurationMinutes *int    `json:"default_ideal_duration_minutes,omitempty"`
	} `json:"new_assets"`
	Replacements []struct {
		OldAssetID                  int64   `json:"old_asset_id"`
		NewAssetName                string  `json:"new_asset_name"`
		NewAssetType                *string `json:"new_asset_type,omitempty"`
		NewAssetURL                 *string `json:"new_asset_url,omitempty"`
		NewAssetDescription         *string `json:"new_asset_description,omitempty"`
		IsRequired                  *bool   `json:"is_required,omitempty"`
		DefaultPostingFrequency     *int    `json:"default_posting_frequency,omitempty"`
		DefaultIdealDurationMinutes *int    `json:"default_ideal_duration_minutes,omitempty"`
	} `json:"replacements"`
}

func (f forkFile) toOptions(opts *engine.ForkOptions) {
	for _, a := range f.NewAssets {
		opts.NewAssets = append(opts.NewAssets, engine.AssetAddition{
			Type:                   a.Type,
			Name:                   a.Name,
			CustomName:             a.CustomName,
			URL:                    a.URL,
			Description:            a.Description,
			IsRequired:             a.IsRequired,
			DefaultFrequency:       a.DefaultPostingFrequency,
			DefaultDurationMinutes: a.DefaultIdealDurationMinutes,
		})
	}
	for _, r := range f.Replacements {
		opts.Replacements = append(opts.Replacements, engine.AssetReplacement{
			OldAssetID:             r.OldAssetID,
			NewName:                r.NewAssetName,
			NewType:                r.NewAssetType,
			NewURL:                 r.NewAssetURL,
			NewDescription:         r.NewAssetDescription,
			IsRequired:             r.IsRequired,
			DefaultFrequency:       r.DefaultPostingFrequency,
			DefaultDurationMinutes: r.DefaultIdealDurationMinutes,
		})
	}
}

func forkCmd() *cobra.Command {
	var filePath, customName, idempotencyKey string
	var forceRecreate bool
	cmd := &cobra.Command{
		Use:   "fork <assignment-id>",
		Short: "Fork the assignment's template into a client-specific variant",
		Long: `Clones the shared template for this assignment's client, migrates the
per-asset settings onto the clone, applies replacements and additions from
--file, regenerates tasks and rebinds the assignment. Atomic; pass
--idempotency-key to make retries safe.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ForkOptions{
				AssignmentID:       args[0],
				ActorID:            viper.GetString("actor-id"),
				CustomTemplateName: customName,
				IdempotencyKey:     idempotencyKey,
				ForceRecreate:      forceRecreate,
			}
			if filePath != "" {
				data, err := os.ReadFile(filePath)
				if err != nil {
					return err
				}
				var ff forkFile
				if err := json.Unmarshal(data, &ff); err != nil {
					return fmt.Errorf("invalid fork file: %w", err)
				}
				ff.toOptions(&opts)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ForkTemplate(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"assignment":         res.Assignment,
						"template":           res.Template,
						"counts":             res.Counts,
						"skipped":            res.Skipped,
						"previous_operation": res.PreviousOperation,
					})
				}
				if res.Skipped {
					fmt.Printf("Fork skipped: already applied at %s\n", res.PreviousOperation)
					return nil
				}
				fmt.Printf("Forked template %q for assignment %s\n", res.Template.Name, res.Assignment.ID)
				fmt.Printf("  assets added: %d, replaced: %d, skipped: %d\n",
					res.Counts.AssetsAdded, res.Counts.AssetsReplaced, res.Counts.ReplacementsSkipped)
				fmt.Printf("  tasks created: %d, cancelled: %d, settings migrated: %d\n",
					res.Counts.TasksCreated, res.Counts.TasksArchived, res.Counts.SettingsMigrated)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "JSON file with replacements and new_assets")
	cmd.Flags().StringVar(&customName, "name", "", "custom name for the cloned template")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "operation key for safe retries")
	cmd.Flags().BoolVar(&forceRecreate, "force-recreate", false, "run again even if the key was seen")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	t.AddCommand(taskListCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list <assignment-id>",
		Short: "List tasks for an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.AssignmentID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Due", "Asset"})
				for _, t := range tasks {
					asset := ""
					if t.AssetID != nil {
						asset = fmt.Sprint(*t.AssetID)
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.DueDate, asset})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().Int64Var(&f.AssetID, "asset", 0, "asset id filter")
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Audit log"}
	a.AddCommand(auditListCmd())
	return a
}

func auditListCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListAudit(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Entity", "ID", "Action", "Actor"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.TS, en.EntityType, en.EntityID, en.Action, en.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of entries")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is opsdesk.yml in the workspace: task category mapping per asset type, fork defaults and role grants.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "RBAC management"}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				roles, err := e.Auth.ActorRoles(ctx, actorID)
				if err != nil {
					return err
				}
				perms, err := e.Auth.ActorPermissions(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"actor_id":    actorID,
					"roles":       roles,
					"permissions": perms,
				})
			})
		},
	}
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, ok := e.Config.RBAC.Roles[role]; !ok {
					return fmt.Errorf("unknown role %q", role)
				}
				return e.Repo.AssignRole(ctx, target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API key management"}
	cmd.AddCommand(apikeyIssueCmd())
	return cmd
}

func apikeyIssueCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := hex.EncodeToString(raw)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: now,
				}
				if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				// The secret is only printed here; the DB stores its hash.
				return printJSONOrTable(map[string]any{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"name":     key.Name,
					"key":      secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, e, err := app.Bootstrap(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("OPSDESK_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("OPSDESK_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Opsdesk API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, e, err := app.Bootstrap(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
