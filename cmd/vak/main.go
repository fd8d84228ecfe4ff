// CLI for preparing datasets and training, evaluating and applying frame
// classification models.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nzoschke/vak/pkg/cli"
	"github.com/nzoschke/vak/pkg/server"
	"github.com/nzoschke/vak/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:     "vak",
	Short:   "Frame classification of animal vocalizations",
	Version: version.Version,
}

var prepCmd = &cobra.Command{
	Use:   "prep <config.toml>",
	Short: "Prepare a dataset from audio or spectrogram files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cli.Prep(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var trainCmd = &cobra.Command{
	Use:   "train <config.toml>",
	Short: "Train a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := cli.Train(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("trained %s steps, results in %s\n", humanize.Comma(int64(res.Steps)), res.ResultsPath)
		return nil
	},
}

var learncurveCmd = &cobra.Command{
	Use:   "learncurve <config.toml>",
	Short: "Train and evaluate models on increasing amounts of training data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := cli.LearnCurve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(res.SummaryPath)
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval <config.toml>",
	Short: "Evaluate a trained model on a dataset split",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := cli.Eval(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(res.CSVPath)
		return nil
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict <config.toml>",
	Short: "Annotate a dataset with one or more trained models",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := cli.Predict(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(res.AnnotCSVPath)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve <root_results_dir>",
	Short: "Start web server for browsing results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return server.Run(addr, args[0])
	},
}

func init() {
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on")
	rootCmd.AddCommand(prepCmd, trainCmd, learncurveCmd, evalCmd, predictCmd, serveCmd)
}

func main() {
	// .env is optional, it sets VAK_DEVICE and ONNXRUNTIME_LIB_PATH per machine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
