// Command cohortql is the natural-language cohort filtering CLI.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/actions"
	"github.com/cohortql/cohortql/internal/app"
	"github.com/cohortql/cohortql/internal/config"
	"github.com/cohortql/cohortql/internal/dataset"
	"github.com/cohortql/cohortql/internal/exec"
	"github.com/cohortql/cohortql/internal/llm"
	"github.com/cohortql/cohortql/internal/logging"
	"github.com/cohortql/cohortql/internal/preparse"
	"github.com/cohortql/cohortql/internal/version"
	"github.com/cohortql/cohortql/internal/viz"
)

var (
	flagConfig  string
	flagData    string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "cohortql",
		Short: "Natural-language cohort filtering over CSV patient data",
		Long: `cohortql loads a directory of CSV source tables, merges them on the
patient identifier and lets you narrow the patient cohort with natural
language queries, resolved from a local cache, regex fast paths or an LLM.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (json or yaml)")
	root.PersistentFlags().StringVarP(&flagData, "data", "d", "", "directory containing CSV source tables")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newReplCmd(), newRunCmd(), newCacheCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(requireData bool) (config.Config, error) {
	var cfg config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFromFile(flagConfig)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.LoadFromEnv()
	}

	if flagData != "" {
		cfg.DataPath = flagData
	}
	if flagVerbose {
		cfg.VerboseLogging = true
	}
	if requireData && cfg.DataPath == "" {
		return config.Config{}, fmt.Errorf("no data directory configured (use --data or COHORTQL_DATA_PATH)")
	}
	return cfg, cfg.Validate()
}

// session bundles everything a query command needs, plus the cache
// save-on-exit hook.
type session struct {
	app       *app.App
	preparser *preparse.Preparser
	cfg       config.Config
	logger    *zap.Logger
}

func newSession(cfg config.Config) (*session, error) {
	logger, err := logging.New(cfg.VerboseLogging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	manager, err := dataset.NewManager(cfg.DataPath, dataset.ManagerConfig{
		Loader: dataset.LoaderOptions{
			PatientIDColumn:       cfg.PatientIDColumn,
			PatientIDAlternatives: cfg.PatientIDAlternatives,
			BaseTable:             "pacientes",
		},
		UniqueValuesThreshold: cfg.UniqueValuesThreshold,
		Logger:                logger,
	})
	if err != nil {
		return nil, err
	}

	preparser := preparse.New(cfg.CacheMaxSize, logger)
	if err := preparser.LoadFromFile(cfg.CachePath); err != nil {
		// Fatal to the cache feature only; the session continues with an
		// empty cache.
		logger.Error("cache load failed, continuing without persisted cache", zap.Error(err))
	}

	var client llm.Client
	chatClient, err := llm.NewChatClient(llm.ChatConfig{
		BaseURL:           cfg.LLMBaseURL,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.LLMModel,
		Temperature:       cfg.LLMTemperature,
		MaxTokens:         cfg.LLMMaxTokens,
		Timeout:           cfg.LLMTimeout,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	}, logger)
	if err != nil {
		logger.Warn("LLM unavailable, only cached and pattern-matched queries will resolve", zap.Error(err))
		client = unavailableClient{reason: err}
	} else {
		client = chatClient
	}

	parser := llm.NewParser(client, manager, logger)
	specWriter := viz.NewSpecWriter(cfg.OutputPath, logger)
	dispatcher := exec.NewExecutor(manager, specWriter, logger)
	executor := actions.NewExecutor(manager, specWriter, cfg.OutputPath, logger)

	// The analysis phase needs a working LLM; without one it only adds
	// noise to every turn.
	var analyzer *actions.Analyzer
	if _, isStub := client.(unavailableClient); !isStub {
		analyzer = actions.NewAnalyzer(client, manager, executor, logger)
	}

	return &session{
		app:       app.New(preparser, parser, dispatcher, manager, analyzer, cfg.HistoryLimit, logger),
		preparser: preparser,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

func (s *session) close() {
	if err := s.preparser.SaveToFile(s.cfg.CachePath); err != nil {
		s.logger.Error("saving cache failed", zap.Error(err))
	}
	_ = s.logger.Sync()
}

// unavailableClient fails every chat call with the configuration error.
type unavailableClient struct{ reason error }

func (u unavailableClient) Chat(context.Context, []llm.Message) (string, error) {
	return "", fmt.Errorf("LLM not configured: %w", u.reason)
}

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive query session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			s, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer s.close()

			fmt.Println("cohortql — type a query, 'reset', 'save [name]' or 'exit'.")
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "exit" || line == "quit":
					return nil
				case line == "reset":
					s.app.ResetCohort()
					fmt.Println("Cohort reset to full dataset.")
				case line == "save" || strings.HasPrefix(line, "save "):
					name := strings.TrimSpace(strings.TrimPrefix(line, "save"))
					csvPath, schemaPath, err := s.app.SaveCohort(cfg.OutputPath, name)
					if err != nil {
						fmt.Println("Save failed:", err)
						continue
					}
					fmt.Printf("Saved cohort to %s (schema: %s)\n", csvPath, schemaPath)
				default:
					printResult(s.app.ProcessTurn(cmd.Context(), line))
				}
			}
		},
	}
}

func newRunCmd() *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Resolve and execute a single query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			s, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer s.close()

			result := s.app.ProcessTurn(cmd.Context(), strings.Join(args, " "))
			printResult(result)
			if !result.Result.Success {
				return fmt.Errorf("query failed")
			}

			if save != "" {
				csvPath, schemaPath, err := s.app.SaveCohort(cfg.OutputPath, save)
				if err != nil {
					return err
				}
				fmt.Printf("Saved cohort to %s (schema: %s)\n", csvPath, schemaPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "save the resulting cohort under this name")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cache := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the preparser cache",
	}

	cache.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache occupancy and usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			p := preparse.New(cfg.CacheMaxSize, zap.NewNop())
			if err := p.LoadFromFile(cfg.CachePath); err != nil {
				return err
			}
			stats := p.CacheStats()
			fmt.Printf("Entries: %d / %d\nTotal hits: %d\n", stats.Size, stats.MaxSize, stats.TotalHits)
			return nil
		},
	})

	cache.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the persisted cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			p := preparse.New(cfg.CacheMaxSize, zap.NewNop())
			p.ClearCache()
			if err := p.SaveToFile(cfg.CachePath); err != nil {
				return err
			}
			fmt.Println("Cache cleared.")
			return nil
		},
	})

	return cache
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(version.Info().String())
		},
	}
}

func printResult(r app.TurnResult) {
	res := r.Result
	if !res.Success {
		fmt.Println("The request could not be completed:")
		for _, reason := range res.Errors {
			fmt.Println("  -", reason)
		}
		return
	}

	switch {
	case res.Message != "":
		fmt.Println(res.Message)
	case len(res.Artifacts) > 0:
		for _, artifact := range res.Artifacts {
			fmt.Println("Artifact:", artifact)
		}
	default:
		fmt.Printf("Cohort now has %d rows.\n", res.CohortSize)
	}
	for _, line := range r.Analysis {
		fmt.Println(line)
	}
	if r.FromCache {
		fmt.Println("(resolved without LLM)")
	}
}
