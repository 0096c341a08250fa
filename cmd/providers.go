package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/pipeline"
	"github.com/spigell/urs-matcher/internal/router"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Print registered providers, the resolved routing table and matching stages",
	Run: func(cmd *cobra.Command, _ []string) {
		runProviders(cmd)
	},
}

type routeReport struct {
	Task      router.Task `json:"task"`
	Providers []string    `json:"providers"`
	Timeout   string      `json:"timeout"`
}

type providersReport struct {
	Registered []string          `json:"registered"`
	Pin        string            `json:"pin,omitempty"`
	Routes     []routeReport     `json:"routes"`
	Stages     []pipeline.Status `json:"stages"`
}

func init() {
	rootCmd.AddCommand(providersCmd)

	providersCmd.Flags().StringP("provider", "p", "", "show the routes as they look with this provider pinned")
}

func runProviders(cmd *cobra.Command) {
	ctx := context.Background()
	logger, config := commandSetup()

	s, err := newStack(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the matcher", zap.Error(err))
	}
	defer s.Close()

	pin, _ := cmd.Flags().GetString("provider")
	if pin != "" {
		ctx = router.WithPin(ctx, pin)
	}

	report := providersReport{
		Registered: s.router.Providers(),
		Pin:        pin,
		Stages:     s.pipeline.Describe(),
	}
	for _, task := range router.Tasks {
		report.Routes = append(report.Routes, routeReport{
			Task:      task,
			Providers: s.router.Plan(ctx, task),
			Timeout:   s.router.Timeout(task).String(),
		})
	}

	pretty, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Fatal("encoding the report", zap.Error(err))
	}
	fmt.Fprintln(os.Stdout, string(pretty))
}
