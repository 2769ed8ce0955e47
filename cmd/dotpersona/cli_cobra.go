package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/engine"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand() *cobra.Command {
	var (
		showVersion bool
		configPath  string
	)

	root := &cobra.Command{
		Use:   appName,
		Short: "Turn-based persona conversation engine with HTTP and Discord front ends",
		Long: strings.TrimSpace(`dotpersona runs Walter, a retired-grandfather persona that remembers what
you tell him, shifts mood as the conversation goes, and answers from
templates, memories, a small grammar and curated knowledge.

Use CLI commands to chat locally, serve the HTTP/Discord gateway, and
inspect or delete stored conversations.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to config.json")

	root.AddCommand(newOnboardCommand(&configPath))
	root.AddCommand(newChatCommand(&configPath))
	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newConversationsCommand(&configPath))
	root.AddCommand(newStatusCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default config file",
		Long:    "Create the default configuration file. Existing files are kept unless --force is given.",
		Example: "  dotpersona onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", *configPath)
			}
			if err := config.SaveConfig(*configPath, config.DefaultConfig()); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Config written to %s\n", *configPath)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")
	return cmd
}

func newChatCommand(configPath *string) *cobra.Command {
	var (
		message string
		userID  string
		chatID  string
		verbose bool
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the persona from the terminal",
		Long:  "Run an interactive chat session, or send one message and print the reply.",
		Example: strings.Join([]string{
			"  dotpersona chat",
			"  dotpersona chat --user greg --chat kitchen",
			"  dotpersona chat --message \"Tell me about your family\" --metadata",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, debug)
			if err != nil {
				return err
			}
			svc, err := openService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			session := &chatSession{
				svc:     svc,
				persona: cfg.Persona.Name,
				userID:  userID,
				chatID:  chatID,
				verbose: verbose,
				out:     cmd.OutOrStdout(),
			}
			if strings.TrimSpace(message) != "" {
				return session.say(cmd.Context(), message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Chatting with %s (Ctrl+C or \"exit\" to leave)\n\n", cfg.Persona.Name)
			session.interactive()
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User id the conversation belongs to")
	cmd.Flags().StringVar(&chatID, "chat", "cli", "Chat id the conversation belongs to")
	cmd.Flags().BoolVar(&verbose, "metadata", false, "Print turn metadata after each reply")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newServeCommand(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP chat gateway and enabled channels",
		Long:    "Start the /api/chat HTTP endpoint, health and metrics routes, the Discord channel when enabled, and scheduled store maintenance.",
		Example: "  dotpersona serve --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, debug)
			if err != nil {
				return err
			}
			return runServe(cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newConversationsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect and delete stored conversations",
		Example: strings.Join([]string{
			"  dotpersona conversations list --user greg",
			"  dotpersona conversations show --user greg --chat kitchen",
			"  dotpersona conversations delete cv1:0123456789abcdef0123456789abcdef",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		listUser  string
		listLimit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(*configPath, func(svc *engine.Service) error {
				summaries, err := svc.ListConversations(cmd.Context(), listUser, listLimit)
				if err != nil {
					return fmt.Errorf("list conversations: %w", err)
				}
				if len(summaries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No conversations stored.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tUSER\tCHAT\tTURNS\tMESSAGES\tUPDATED")
				for _, s := range summaries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
						s.ConversationID, s.UserID, s.ChatID, s.InteractionCount, s.MessageCount,
						s.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVarP(&listUser, "user", "u", "", "Only conversations of this user id")
	list.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum conversations to list")

	var showUser, showChat string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored state of one conversation as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(showUser) == "" || strings.TrimSpace(showChat) == "" {
				return fmt.Errorf("--user and --chat are required")
			}
			return withService(*configPath, func(svc *engine.Service) error {
				st, err := svc.Conversation(cmd.Context(), showUser, showChat)
				if errors.Is(err, memory.ErrNotFound) {
					return fmt.Errorf("no conversation for user %q in chat %q", showUser, showChat)
				}
				if err != nil {
					return fmt.Errorf("load conversation: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}
	show.Flags().StringVarP(&showUser, "user", "u", "", "User id")
	show.Flags().StringVar(&showChat, "chat", "", "Chat id")

	del := &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation with its messages and memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if !engine.IsConversationID(id) {
				return fmt.Errorf("%q is not a conversation id", id)
			}
			return withService(*configPath, func(svc *engine.Service) error {
				if err := svc.DeleteConversation(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete conversation: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s\n", id)
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and store readiness",
		Example: "  dotpersona status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(*configPath, false)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s status\n\n", appName)
			if _, err := os.Stat(*configPath); err == nil {
				fmt.Fprintf(out, "Config:      %s\n", *configPath)
			} else {
				fmt.Fprintf(out, "Config:      %s (not found, using defaults)\n", *configPath)
			}
			fmt.Fprintf(out, "Persona:     %s\n", cfg.Persona.Name)
			fmt.Fprintf(out, "Gateway:     %s\n", cfg.GatewayAddr())
			fmt.Fprintf(out, "Discord:     %s\n", enabledLabel(cfg.Discord.Enabled))
			if cfg.Maintenance.Enabled {
				next, err := gronx.NextTickAfter(cfg.Maintenance.Cron, time.Now(), false)
				if err == nil {
					fmt.Fprintf(out, "Maintenance: %s (next %s)\n", cfg.Maintenance.Cron, next.Local().Format(time.DateTime))
				}
			} else {
				fmt.Fprintf(out, "Maintenance: disabled\n")
			}

			if _, err := os.Stat(cfg.StorePath()); err != nil {
				fmt.Fprintf(out, "Store:       %s (not created yet)\n", cfg.StorePath())
				return nil
			}
			store, err := memory.NewSQLiteStore(cfg.StorePath())
			if err != nil {
				fmt.Fprintf(out, "Store:       %s (unavailable: %v)\n", cfg.StorePath(), err)
				return nil
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.StoreTimeout())
			defer cancel()
			n, err := store.CountConversations(ctx)
			if err != nil {
				fmt.Fprintf(out, "Store:       %s (unavailable: %v)\n", cfg.StorePath(), err)
				return nil
			}
			fmt.Fprintf(out, "Store:       %s (%d conversations)\n", cfg.StorePath(), n)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		Example: "  dotpersona version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func withService(configPath string, fn func(svc *engine.Service) error) error {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	svc, err := openService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
