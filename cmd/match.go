package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/batch"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/progress"
	"github.com/spigell/urs-matcher/internal/retrieve"
	"github.com/spigell/urs-matcher/internal/router"
	"github.com/spigell/urs-matcher/internal/workitem"
)

const PromptNoPin = "No pin, follow the routing table"

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match work items from a sheet or JSON file to catalog codes",
	Run: func(cmd *cobra.Command, _ []string) {
		runMatch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringP("input", "i", "", "work items file (.xlsx, .csv, .json, .jsonl, .ndjson)")
	matchCmd.Flags().StringP("out", "o", "", "write the batch result to a file instead of stdout")
	matchCmd.Flags().BoolP("stream", "s", false, "stream NDJSON progress events to stdout")
	matchCmd.Flags().String("depth", "", "search depth: shallow, normal or deep")
	matchCmd.Flags().IntP("concurrency", "c", 0, "number of items processed at once")
	matchCmd.Flags().Duration("timeout", 0, "overall batch deadline, e.g. 5m. Default is unset.")
	matchCmd.Flags().StringP("provider", "p", "", "provider tried first for every task of the batch")
	matchCmd.Flags().Bool("pick-provider", false, "choose the pinned provider interactively")

	matchCmd.MarkFlagRequired("input")

	viper.BindPFlag("matching.depth", matchCmd.Flags().Lookup("depth"))
	viper.BindPFlag("batch.concurrency", matchCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("batch.timeout", matchCmd.Flags().Lookup("timeout"))
}

// runMatch matches every work item of the input file.
func runMatch(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.Build(loggerOptions())
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	stream, _ := cmd.Flags().GetBool("stream")
	var events *progress.Writer
	sink := progress.Discard
	if stream {
		events = progress.NewWriter(os.Stdout)
		sink = events
	}

	// fail reports a systemic failure on the stream as well, so that a
	// consumer always sees a terminal event.
	fail := func(step string, err error) {
		if events != nil {
			events.Emit(progress.Event{Event: progress.Error, Message: fmt.Sprintf("%s: %s", step, err)})
		}
		logger.Fatal(step, zap.Error(err))
	}

	config, err := getConfig()
	if err != nil {
		fail("getting a config", err)
	}

	logger.Info("starting the urs-matcher", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	depth, err := retrieve.ParseDepth(config.Matching.Depth)
	if err != nil {
		fail("parsing search depth", err)
	}

	input, _ := cmd.Flags().GetString("input")
	items, err := workitem.LoadFile(input)
	if err != nil {
		fail("loading work items", err)
	}
	logger.Info("loaded work items", zap.String("file", input), zap.Int("count", len(items)))

	s, err := newStack(ctx, config, logger)
	if err != nil {
		fail("building the matcher", err)
	}

	pin, err := selectPin(cmd, s.router)
	if err != nil {
		fail("selecting a provider", err)
	}
	if pin != "" && !slices.Contains(s.router.Providers(), pin) {
		logger.Warn("pinned provider is not registered, following the routing table",
			zap.String("provider", pin),
			zap.Strings("registered", s.router.Providers()),
		)
	}

	res := s.orchestrator.Run(ctx, items, batch.Options{
		Concurrency:     config.Batch.Concurrency,
		Timeout:         config.Batch.Timeout,
		Pin:             pin,
		Depth:           depth,
		Sink:            sink,
		ReviewThreshold: config.Matching.ReviewThreshold,
		Usage:           s.router.Stats,
	})

	if events != nil && events.Err() != nil {
		logger.Warn("progress stream broke", zap.Error(events.Err()))
	}

	out, _ := cmd.Flags().GetString("out")
	if err := writeResult(res, out, stream); err != nil {
		logger.Fatal("writing the result", zap.Error(err))
	}

	if err := s.Close(); err != nil {
		logger.Warn("closing the matcher", zap.Error(err))
	}

	logger.Info("matching finished",
		zap.String("batch_id", res.ID.String()),
		zap.Int("matched", res.Summary.Matched),
		zap.Int("unmatched", res.Summary.Unmatched),
		zap.Int("failed", res.Summary.Failed),
		zap.Int("skipped", res.Summary.Skipped),
	)
}

func selectPin(cmd *cobra.Command, r *router.Router) (string, error) {
	pin, _ := cmd.Flags().GetString("provider")
	pick, _ := cmd.Flags().GetBool("pick-provider")
	if !pick {
		return pin, nil
	}

	prompt := promptui.Select{
		Label: "Pin a provider for this batch",
		Items: append([]string{PromptNoPin}, r.Providers()...),
		// stdout may carry the progress stream
		Stdout: os.Stderr,
	}
	_, selected, err := prompt.Run()
	if err != nil {
		return "", err
	}
	if selected == PromptNoPin {
		return "", nil
	}
	return selected, nil
}

// writeResult writes res to path, or to stdout when no path is given and
// the result was not already streamed.
func writeResult(res *batch.Result, path string, streamed bool) error {
	if path == "" && streamed {
		return nil
	}

	pretty, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch result: %w", err)
	}
	pretty = append(pretty, '\n')

	if path == "" {
		_, err = os.Stdout.Write(pretty)
		return err
	}
	if err := os.WriteFile(path, pretty, 0o644); err != nil {
		return fmt.Errorf("write batch result to %s: %w", path, err)
	}
	return nil
}
