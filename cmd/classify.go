package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/classify"
	"github.com/spigell/urs-matcher/internal/normalize"
	"github.com/spigell/urs-matcher/internal/workitem"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [description...]",
	Short: "Print the coarse catalog section of descriptions without matching them",
	Run: func(cmd *cobra.Command, args []string) {
		runClassify(cmd, args)
	},
}

type classification struct {
	Description string `json:"description"`
	classify.Result
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().StringP("input", "i", "", "work items file to classify instead of arguments")
}

func runClassify(cmd *cobra.Command, args []string) {
	logger, config := commandSetup()

	descriptions, err := classifyInputs(cmd, args)
	if err != nil {
		logger.Fatal("reading descriptions", zap.Error(err))
	}

	classifier, err := newClassifier(config.Matching.Sections)
	if err != nil {
		logger.Fatal("building the classifier", zap.Error(err))
	}

	out := make([]classification, 0, len(descriptions))
	for _, d := range descriptions {
		out = append(out, classification{Description: d, Result: classifier.Classify(normalize.Normalize(d))})
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logger.Fatal("encoding classifications", zap.Error(err))
	}
	fmt.Fprintln(os.Stdout, string(pretty))
}

func classifyInputs(cmd *cobra.Command, args []string) ([]string, error) {
	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		if len(args) == 0 {
			return nil, errors.New("pass descriptions as arguments or a file with --input")
		}
		return args, nil
	}

	items, err := workitem.LoadFile(input)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Description)
	}
	return out, nil
}
