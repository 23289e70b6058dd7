package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tutorllm/internal/bootstrap"
	"tutorllm/internal/config"
	"tutorllm/internal/pipeline"
)

type options struct {
	configFile string
	verbose    bool
	asJSON     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tutorctl",
		Short:         "Study from your own documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default configs/config.toml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		newIngestCmd(opts),
		newAskCmd(opts),
		newFlashcardsCmd(opts),
		newQuizCmd(opts),
		newFilesCmd(opts),
	)
	return root
}

// openStudy loads config and wires the study components.
func openStudy(ctx context.Context, opts *options) (*bootstrap.Study, error) {
	if opts.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", opts.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	var w io.Writer = io.Discard
	if opts.verbose {
		w = os.Stderr
	}
	slog.SetDefault(bootstrap.NewLogger(w, cfg.App.LogLevel, cfg.App.LogFormat))
	return bootstrap.NewStudy(ctx, cfg)
}

func newIngestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Chunk, embed and index documents",
		Long: `Chunk, embed and index documents (.txt, .md, .pdf, .csv, .tsv).

Examples:
  tutorctl ingest ./biology/chapter1.pdf
  tutorctl ingest notes.md glossary.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			study, err := openStudy(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer study.Close()

			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				res, err := study.Tutor.Ingest(cmd.Context(), filepath.Base(path), data)
				if err != nil {
					return fmt.Errorf("ingesting %s: %w", path, err)
				}
				if opts.asJSON {
					if err := writeJSON(out, res); err != nil {
						return err
					}
					continue
				}
				printSuccess(out, "%s: %d chunks", res.Filename, res.Chunks)
			}
			return nil
		},
	}
}

func newAskCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question; textbook questions are answered from indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			study, err := openStudy(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer study.Close()

			out := cmd.OutOrStdout()
			_, err = study.Tutor.Query(cmd.Context(), queryInput(args[0]), func(fragment string) error {
				_, werr := io.WriteString(out, fragment)
				return werr
			})
			fmt.Fprintln(out)
			return err
		},
	}
}

func newFlashcardsCmd(opts *options) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "flashcards <topic>",
		Short: "Generate flashcards on a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			study, err := openStudy(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer study.Close()

			cards, err := study.Tutor.Flashcards(cmd.Context(), args[0], count)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), cards)
			}
			renderFlashcards(cmd.OutOrStdout(), cards)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", pipeline.DefaultFlashcardCount, "number of flashcards")
	return cmd
}

func newQuizCmd(opts *options) *cobra.Command {
	var (
		count      int
		difficulty string
	)
	cmd := &cobra.Command{
		Use:   "quiz <topic>",
		Short: "Generate a multiple-choice quiz on a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			study, err := openStudy(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer study.Close()

			questions, err := study.Tutor.Quiz(cmd.Context(), args[0], count, difficulty)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), questions)
			}
			renderQuiz(cmd.OutOrStdout(), questions)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", pipeline.DefaultQuizCount, "number of questions")
	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", pipeline.DefaultDifficulty, "Easy, Medium or Hard")
	return cmd
}

func newFilesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List uploaded documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			study, err := openStudy(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer study.Close()

			files, err := study.Tutor.ListFiles()
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), files)
			}
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %8d  %s\n", f.Name, f.Size, f.Modified.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
