package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/export"
	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/pipeline"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a market-study report",
	Long:  "Runs the full section workflow for one mission and prints the report as JSON, or its progress events as JSON lines with --stream.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mission, opts, err := generateMission(cmd)
		if err != nil {
			return err
		}

		env, err := initApp(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		warmIndex(ctx, env.Indexer)

		stream, _ := cmd.Flags().GetBool("stream")
		var emit func(pipeline.Event)
		if stream {
			emit = jsonLines(cmd.OutOrStdout())
		}

		report, err := env.Pipeline.Run(ctx, mission, emit, opts...)
		if err != nil {
			return eris.Wrap(err, "generate")
		}

		if !stream {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return eris.Wrap(err, "generate: encode report")
			}
		}

		mdPath, _ := cmd.Flags().GetString("markdown")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		return writeExports(report, mdPath, xlsxPath)
	},
}

// generateMission reads the mission and run options from the flags.
func generateMission(cmd *cobra.Command) (model.MissionParams, []pipeline.RunOption, error) {
	market, _ := cmd.Flags().GetString("market")
	geography, _ := cmd.Flags().GetString("geography")
	missionType, _ := cmd.Flags().GetString("mission-type")
	website, _ := cmd.Flags().GetString("client-website")
	conversation, _ := cmd.Flags().GetString("conversation")
	section, _ := cmd.Flags().GetString("section")

	mission := model.MissionParams{
		MarketName:    market,
		Geography:     geography,
		MissionType:   missionType,
		ClientWebsite: website,
	}
	if err := mission.Validate(); err != nil {
		return mission, nil, err
	}

	var opts []pipeline.RunOption
	if conversation != "" {
		opts = append(opts, pipeline.WithConversationID(conversation))
	}
	if section != "" {
		opts = append(opts, pipeline.WithSection(section))
	}
	return mission, opts, nil
}

// jsonLines writes each event as one JSON document per line.
func jsonLines(w io.Writer) func(pipeline.Event) {
	enc := json.NewEncoder(w)
	return func(ev pipeline.Event) {
		if err := enc.Encode(ev); err != nil {
			zap.L().Warn("generate: write event", zap.Error(err))
		}
	}
}

// writeExports writes the optional Markdown and spreadsheet renditions.
func writeExports(report *model.Report, mdPath, xlsxPath string) error {
	if mdPath != "" {
		if err := os.WriteFile(mdPath, []byte(pipeline.FormatReport(report)), 0o644); err != nil {
			return eris.Wrapf(err, "generate: write %s", mdPath)
		}
		zap.L().Info("markdown report written", zap.String("path", mdPath))
	}
	if xlsxPath != "" {
		if err := export.SaveXLSX(xlsxPath, report); err != nil {
			return err
		}
		zap.L().Info("spreadsheet report written", zap.String("path", xlsxPath))
	}
	return nil
}

func init() {
	generateCmd.Flags().String("market", "", "market to study (required)")
	generateCmd.Flags().String("geography", "", "geography of the study (required)")
	generateCmd.Flags().String("mission-type", model.DefaultMissionType, "mission type selecting the section catalog")
	generateCmd.Flags().String("client-website", "", "client website")
	generateCmd.Flags().String("conversation", "", "conversation id to reuse")
	generateCmd.Flags().String("section", "", "deepen a single section by id")
	generateCmd.Flags().Bool("stream", false, "print progress events as JSON lines instead of the report")
	generateCmd.Flags().String("markdown", "", "also write the report as Markdown to this path")
	generateCmd.Flags().String("xlsx", "", "also write the report as a spreadsheet to this path")
	_ = generateCmd.MarkFlagRequired("market")
	_ = generateCmd.MarkFlagRequired("geography")

	rootCmd.AddCommand(generateCmd)
}
