package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sqliteadapter "github.com/atvirokodosprendimai/cmdgate/internal/adapters/db/sqlite"
	httpadapter "github.com/atvirokodosprendimai/cmdgate/internal/adapters/http"
	rpcadapter "github.com/atvirokodosprendimai/cmdgate/internal/adapters/rpcjson"
	"github.com/atvirokodosprendimai/cmdgate/internal/application"
	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
	"github.com/urfave/cli/v3"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "cmdgate",
		Usage: "Command gateway server and CLI",
		Commands: []*cli.Command{
			serverCommand(),
			authCommand(),
			usersCommand(),
			rulesCommand(),
			commandsCommand(),
			approvalsCommand(),
			auditCommand(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServer(ctx, serverOptions{
				Addr:           ":8080",
				RPCSocket:      "/tmp/cmdgate.sock",
				DBPath:         "cmdgate.db",
				BootstrapAdmin: "admin",
				BootstrapCreds: 100,
				DefaultAction:  string(domain.ActionRequireApproval),
				CommandCost:    1,
			})
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

type serverOptions struct {
	Addr           string
	RPCSocket      string
	DBPath         string
	BootstrapAdmin string
	BootstrapCreds int
	DefaultAction  string
	CommandCost    int
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "rpc-socket", Value: "/tmp/cmdgate.sock", Usage: "JSON-RPC unix socket path"},
			&cli.StringFlag{Name: "db-path", Value: "cmdgate.db", Usage: "SQLite database path"},
			&cli.StringFlag{Name: "bootstrap-admin", Value: "admin", Usage: "initial admin username when users are empty"},
			&cli.IntFlag{Name: "bootstrap-credits", Value: 100, Usage: "initial admin credit balance"},
			&cli.StringFlag{Name: "default-action", Value: string(domain.ActionRequireApproval), Usage: "engine action when no rule matches"},
			&cli.IntFlag{Name: "command-cost", Value: 1, Usage: "credits charged per executed command"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx, serverOptions{
				Addr:           c.String("addr"),
				RPCSocket:      c.String("rpc-socket"),
				DBPath:         c.String("db-path"),
				BootstrapAdmin: c.String("bootstrap-admin"),
				BootstrapCreds: c.Int("bootstrap-credits"),
				DefaultAction:  c.String("default-action"),
				CommandCost:    c.Int("command-cost"),
			})
		},
	}
}

func runServer(ctx context.Context, opts serverOptions) error {
	db, err := sqliteadapter.Open(opts.DBPath)
	if err != nil {
		return err
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		return err
	}

	repo := sqliteadapter.NewGatewayRepository(db)
	service := application.NewGatewayService(repo, application.Config{
		DefaultAction: domain.RuleAction(opts.DefaultAction),
		CommandCost:   opts.CommandCost,
	})

	admin, adminKey, err := service.BootstrapAdmin(ctx, opts.BootstrapAdmin, opts.BootstrapCreds)
	if err != nil {
		return err
	}
	if adminKey != "" {
		// Printed exactly once; the hash is all that survives in the database.
		log.Printf("bootstrap admin %q created, API key: %s", admin.Username, adminKey)
	}

	router := httpadapter.NewRouter(service)
	srv := &http.Server{Addr: opts.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.Start(opts.RPCSocket, service)
	if err != nil {
		return err
	}

	defer func() {
		_ = rpcSrv.Close()
	}()
	log.Printf("json-rpc listening on unix://%s", opts.RPCSocket)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authentication commands",
		Commands: []*cli.Command{
			{
				Name:  "set-key",
				Usage: "Store an API key for CLI use",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transport", Value: "uds"},
					&cli.StringFlag{Name: "server", Value: "http://127.0.0.1:8080"},
					&cli.StringFlag{Name: "socket", Value: "/tmp/cmdgate.sock"},
					&cli.StringFlag{Name: "key", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := cliConfig{
						Transport: c.String("transport"),
						Server:    c.String("server"),
						Socket:    c.String("socket"),
						APIKey:    c.String("key"),
					}
					var out domain.User
					if err := doWhoAmI(ctx, cfg, &out); err != nil {
						return err
					}
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Printf("key stored for %s (%s)\n", out.Username, out.Role)
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show current authenticated user",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.User
					if err := doWhoAmI(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{
						{"id", uintToString(out.ID)},
						{"username", out.Username},
						{"role", out.Role},
						{"credits", fmt.Sprintf("%d", out.Credits)},
					})
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Clear the stored API key",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					cfg.APIKey = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("logged out")
					return nil
				},
			},
		},
	}
}

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "User management commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List users",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit"}, &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.User
					if err := doUsersList(ctx, cfg, c.Int("limit"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printUsers(out)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create user and print their one-time API key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "role", Value: domain.RoleMember},
					&cli.IntFlag{Name: "credits"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out struct {
						User   domain.User `json:"user"`
						APIKey string      `json:"api_key"`
					}
					if err := doUsersCreate(ctx, cfg, c.String("username"), c.String("role"), c.Int("credits"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printUsers([]domain.User{out.User})
					fmt.Printf("api key (shown once): %s\n", out.APIKey)
					return nil
				},
			},
			{
				Name:  "credits",
				Usage: "Set a user's credit balance",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "user-id", Required: true},
					&cli.IntFlag{Name: "credits", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.User
					if err := doUsersSetCredits(ctx, cfg, c.Uint("user-id"), c.Int("credits"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printUsers([]domain.User{out})
					return nil
				},
			},
			{
				Name:  "deactivate",
				Usage: "Deactivate a user and revoke their API key",
				Flags: []cli.Flag{&cli.UintFlag{Name: "user-id", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if err := doUsersDeactivate(ctx, cfg, c.Uint("user-id")); err != nil {
						return err
					}
					fmt.Printf("user %d deactivated\n", c.Uint("user-id"))
					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "Show the caller's usage stats",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.UserStats
					if err := doUserStats(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printStats(out)
					return nil
				},
			},
		},
	}
}

func rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Authorization rule commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List rules",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.Rule
					if err := doRulesList(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRules(out)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create rule",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pattern", Required: true, Usage: "regular expression matched against command text"},
					&cli.StringFlag{Name: "action", Required: true, Usage: "AUTO_ACCEPT, AUTO_REJECT or REQUIRE_APPROVAL"},
					&cli.IntFlag{Name: "priority"},
					&cli.StringFlag{Name: "description"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.Rule
					if err := doRulesCreate(ctx, cfg, c.String("pattern"), c.String("action"), c.Int("priority"), c.String("description"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRules([]domain.Rule{out})
					return nil
				},
			},
			{
				Name:  "update",
				Usage: "Replace a rule's pattern, action and priority",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "rule-id", Required: true},
					&cli.StringFlag{Name: "pattern", Required: true, Usage: "regular expression matched against command text"},
					&cli.StringFlag{Name: "action", Required: true, Usage: "AUTO_ACCEPT, AUTO_REJECT or REQUIRE_APPROVAL"},
					&cli.IntFlag{Name: "priority"},
					&cli.StringFlag{Name: "description"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.Rule
					if err := doRulesUpdate(ctx, cfg, c.Uint("rule-id"), c.String("pattern"), c.String("action"), c.Int("priority"), c.String("description"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRules([]domain.Rule{out})
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete rule by id",
				Flags: []cli.Flag{&cli.UintFlag{Name: "rule-id", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if err := doRulesDelete(ctx, cfg, c.Uint("rule-id")); err != nil {
						return err
					}
					fmt.Printf("rule %d deleted\n", c.Uint("rule-id"))
					return nil
				},
			},
			{
				Name:  "conflicts",
				Usage: "Report overlapping rules with differing actions",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.ConflictReport
					if err := doRulesConflicts(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printConflicts(out)
					return nil
				},
			},
		},
	}
}

func commandsCommand() *cli.Command {
	return &cli.Command{
		Name:  "commands",
		Usage: "Command submission and history",
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Submit a command through the gateway",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "text", Required: true, Usage: "command text to authorize"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.Command
					if err := doCommandsSubmit(ctx, cfg, c.String("text"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printCommands([]domain.Command{out})
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List command history",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "list every user's commands (admin)"},
					&cli.IntFlag{Name: "limit"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.Command
					if err := doCommandsList(ctx, cfg, c.Bool("all"), c.Int("limit"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printCommands(out)
					return nil
				},
			},
		},
	}
}

func approvalsCommand() *cli.Command {
	return &cli.Command{
		Name:  "approvals",
		Usage: "Approval queue commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List open approval requests",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.ApprovalSummary
					if err := doApprovalsList(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printApprovals(out)
					return nil
				},
			},
			{
				Name:  "review",
				Usage: "Approve or reject an open approval request",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "approval-id", Required: true},
					&cli.StringFlag{Name: "action", Required: true, Usage: "approve or reject"},
					&cli.StringFlag{Name: "reason"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out struct {
						Approval domain.ApprovalRequest `json:"approval"`
						Command  domain.Command         `json:"command"`
					}
					if err := doApprovalsReview(ctx, cfg, c.Uint("approval-id"), c.String("action"), c.String("reason"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{
						{"approval", string(out.Approval.Status)},
						{"command_id", uintToString(out.Command.ID)},
						{"command_status", string(out.Command.Status)},
						{"result", out.Command.Result},
					})
					return nil
				},
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit log commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List audit logs",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "user-id", Usage: "filter by acting user"},
					&cli.IntFlag{Name: "limit"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var userID *uint
					if c.IsSet("user-id") {
						v := c.Uint("user-id")
						userID = &v
					}
					var out []domain.AuditRecord
					if err := doAuditList(ctx, cfg, userID, c.Int("limit"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditRecords(out)
					return nil
				},
			},
		},
	}
}

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
