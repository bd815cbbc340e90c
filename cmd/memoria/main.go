// Package main provides the Memoria CLI harness.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memoria-db/memoria/pkg/config"
	"github.com/memoria-db/memoria/pkg/memoria"
)

var version = "0.1.0"

func main() {
	var (
		dbPath     string
		configPath string
	)

	rootCmd := &cobra.Command{
		Use:   "memoria",
		Short: "Memoria - embedded conversational memory engine",
		Long: `Memoria distills chat messages into a typed knowledge graph
(entities, events, concepts), stores it with vector embeddings in a local
database directory, and answers natural-language queries with ranked,
formatted memories.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "database directory (default ./memory_db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./memoria.yaml", "config file path")

	// openSystem builds and initializes a System from config + flags.
	openSystem := func(ctx context.Context) (*memoria.System, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}

		system := memoria.NewWithConfig(cfg.ToSystemConfig())
		if err := system.Initialize(ctx); err != nil {
			return nil, err
		}
		return system, nil
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Memoria v%s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Initialize the memory database",
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()
			fmt.Println("memory database initialized")
			return nil
		},
	})

	var saveContent, saveFile string
	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Save a conversation into memory",
		Long: `Save messages from --content or --file. Input is a JSON array of
{"role","content","timestamp"} objects; plain text is treated as a single
user message.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			switch {
			case saveFile != "":
				data, err := os.ReadFile(saveFile)
				if err != nil {
					return err
				}
				raw = string(data)
			case saveContent != "":
				raw = saveContent
			default:
				return fmt.Errorf("provide --content or --file")
			}

			messages := parseMessages(raw)
			if len(messages) == 0 {
				return fmt.Errorf("no messages to save")
			}

			system, err := openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()

			if err := system.Save(cmd.Context(), messages); err != nil {
				return err
			}
			fmt.Printf("saved %d messages\n", len(messages))
			return nil
		},
	}
	saveCmd.Flags().StringVar(&saveContent, "content", "", "conversation content (JSON or plain text)")
	saveCmd.Flags().StringVar(&saveFile, "file", "", "read conversation from file")
	rootCmd.AddCommand(saveCmd)

	var topK int
	queryCmd := &cobra.Command{
		Use:   "query <message>",
		Short: "Query related memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()

			result, err := system.Query(cmd.Context(), &memoria.QueryParams{
				UserMessage: args[0],
				TopK:        topK,
				IncludeRaw:  true,
			})
			if err != nil {
				return err
			}

			if result.Count == 0 {
				fmt.Println("未找到相关记忆")
				return nil
			}
			fmt.Printf("找到 %d 条相关记忆:\n\n%s\n", result.Count, result.FormattedContext)
			for i, memory := range result.Raw {
				fmt.Printf("  %d. [%s] 相关度 %.2f\n", i+1, memory.MemoryType, memory.Relevance)
			}
			return nil
		},
	}
	queryCmd.Flags().IntVar(&topK, "top-k", 5, "number of results")
	rootCmd.AddCommand(queryCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "chat",
		Short: "Interactive mode: query and save in a loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()
			return runChat(cmd.Context(), system)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "set-token <token>",
		Short: "Persist the embedding service auth token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.AuthToken = args[0]
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Println("auth token saved")
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "set-url <url>",
		Short: "Persist the embedding service URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.ServerURL = strings.TrimRight(args[0], "/")
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Println("server URL saved")
			return nil
		},
	})

	var pruneMinCount uint32
	var pruneMaxAge time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete inactive concept-pool entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()

			pruned, err := system.PruneInactiveConcepts(cmd.Context(), pruneMinCount, pruneMaxAge)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d concepts\n", pruned)
			return nil
		},
	}
	pruneCmd.Flags().Uint32Var(&pruneMinCount, "min-count", 2, "keep concepts with at least this many instances")
	pruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 90*24*time.Hour, "keep concepts used within this window")
	rootCmd.AddCommand(pruneCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\x1b[31mError: %v\x1b[0m\n", err)
		os.Exit(1)
	}
}

// parseMessages accepts a JSON message array or falls back to treating the
// whole input as one user message.
func parseMessages(raw string) []memoria.Message {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	var messages []memoria.Message
	if err := json.Unmarshal([]byte(trimmed), &messages); err == nil {
		return messages
	}
	return []memoria.Message{{
		Role:      memoria.RoleUser,
		Content:   trimmed,
		Timestamp: time.Now().Unix(),
	}}
}

// runChat is the interactive loop. Each turn queries memory with the
// running conversation as recent-message context, echoes a simulated
// assistant reply, and appends the user+assistant pair to the history so
// saved turns become paired events. The history is flushed into memory
// every five rounds and once more on exit.
func runChat(ctx context.Context, system *memoria.System) error {
	fmt.Println("进入对话模式（输入 exit 退出）")
	scanner := bufio.NewScanner(os.Stdin)

	var history []memoria.Message
	flush := func() {
		if len(history) == 0 {
			return
		}
		if err := system.Save(ctx, history); err != nil {
			fmt.Fprintf(os.Stderr, "保存失败: %v\n", err)
		} else {
			fmt.Println("[对话已保存到记忆]")
		}
		history = history[:0]
	}

	for {
		fmt.Print("你: ")
		if !scanner.Scan() {
			flush()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			flush()
			return nil
		}

		result, err := system.Query(ctx, &memoria.QueryParams{
			UserMessage:    line,
			RecentMessages: history,
			TopK:           3,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "查询失败: %v\n", err)
		} else if result.Count > 0 {
			fmt.Println("相关记忆:")
			fmt.Println(result.FormattedContext)
		} else {
			fmt.Println("（无相关记忆）")
		}

		reply := "收到你的消息: " + line
		fmt.Printf("助手: %s\n\n", reply)

		now := time.Now().Unix()
		history = append(history,
			memoria.Message{Role: memoria.RoleUser, Content: line, Timestamp: now},
			memoria.Message{Role: memoria.RoleAssistant, Content: reply, Timestamp: now},
		)
		if len(history) >= 10 {
			flush()
		}
	}
}
