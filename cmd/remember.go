package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/memory"
)

var errNoMemory = errors.New("memory.path is not configured")

var rememberCmd = &cobra.Command{
	Use:   "remember CODE DESCRIPTION...",
	Short: "Store a confirmed match so that the same line resolves without searching",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runRemember(cmd, args)
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget DESCRIPTION...",
	Short: "Remove a confirmed match from the match memory",
	Args:  cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		runForget(args)
	},
}

func init() {
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(forgetCmd)

	rememberCmd.Flags().String("by", os.Getenv("USER"), "who confirmed the match")
}

func runRemember(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	logger, config := commandSetup()

	code := strings.TrimSpace(args[0])
	description := strings.Join(args[1:], " ")
	by, _ := cmd.Flags().GetString("by")

	c, err := catalog.Open(ctx, config.Catalog)
	if err != nil {
		logger.Fatal("opening catalog", zap.Error(err))
	}
	defer c.Close()

	item, err := c.GetByCode(ctx, code)
	if err != nil {
		logger.Fatal("looking up catalog code", zap.Error(err), zap.String("code", code))
	}
	if item == nil {
		logger.Fatal("catalog code does not exist", zap.String("code", code))
	}

	store, err := openMemory(ctx, config)
	if err != nil {
		logger.Fatal("opening match memory", zap.Error(err))
	}
	defer store.Close()

	if err := store.Remember(ctx, memory.Pair{Description: description, Item: *item, ConfirmedBy: by}); err != nil {
		logger.Fatal("remembering the match", zap.Error(err))
	}

	count, err := store.Count(ctx)
	if err != nil {
		logger.Warn("counting remembered matches", zap.Error(err))
	}
	logger.Info("remembered the match",
		zap.String("code", item.Code),
		zap.String("name", item.Name),
		zap.String("description", description),
		zap.Int("remembered", count),
	)
}

func runForget(args []string) {
	ctx := context.Background()
	logger, config := commandSetup()

	description := strings.Join(args, " ")

	store, err := openMemory(ctx, config)
	if err != nil {
		logger.Fatal("opening match memory", zap.Error(err))
	}
	defer store.Close()

	found, err := store.Forget(ctx, description)
	if err != nil {
		logger.Fatal("forgetting the match", zap.Error(err))
	}
	if !found {
		logger.Info("nothing to forget", zap.String("description", description))
		return
	}
	logger.Info("forgot the match", zap.String("description", description))
}

// commandSetup builds the logger and reads the config for short-lived commands.
func commandSetup() (*zap.Logger, *Config) {
	logger, err := logger.Build(loggerOptions())
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	return logger, config
}

func openMemory(ctx context.Context, config *Config) (*memory.Store, error) {
	path := strings.TrimSpace(config.Memory.Path)
	if path == "" {
		return nil, fmt.Errorf("%w (set memory.path or URS_MEMORY_PATH)", errNoMemory)
	}
	return memory.OpenStore(ctx, path)
}
