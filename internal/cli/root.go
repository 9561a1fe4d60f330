// Package cli 实现docsplit命令行工具
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ErrFailures 批次中存在失败的文档
var ErrFailures = errors.New("some documents failed to split")

// options 所有子命令共享的参数
type options struct {
	splitter   document.SplitterConfig
	workers    int
	failFast   bool
	jsonOutput bool
	noColor    bool
	verbose    bool
	preview    int
}

// NewRootCommand 创建docsplit根命令
func NewRootCommand() *cobra.Command {
	opts := &options{splitter: document.DefaultSplitterConfig()}

	root := &cobra.Command{
		Use:           "docsplit",
		Short:         "Split documents into provenance-tagged chunks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor || opts.jsonOutput {
				color.NoColor = true
			}
			if opts.workers < 1 {
				return fmt.Errorf("--workers must be at least 1")
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP((*string)(&opts.splitter.SplitType), "split-type", "s", string(opts.splitter.SplitType), "split strategy (paragraph, sentence, length, recursive, markdown, code, auto)")
	flags.IntVar(&opts.splitter.ChunkSize, "chunk-size", opts.splitter.ChunkSize, "maximum chunk size in bytes")
	flags.IntVar(&opts.splitter.ChunkOverlap, "chunk-overlap", opts.splitter.ChunkOverlap, "overlap between windowed chunks in bytes")
	flags.IntVar(&opts.splitter.MaxChunks, "max-chunks", 0, "maximum chunks per document (0 = unlimited)")
	flags.IntVar(&opts.splitter.MaxHeadingLevel, "max-heading-level", opts.splitter.MaxHeadingLevel, "deepest markdown heading that starts a section")
	flags.StringVar(&opts.splitter.Language, "language", "", "default language for code splitting")
	flags.StringSliceVar(&opts.splitter.Separators, "separator", nil, "separator for recursive splitting, repeatable")
	flags.IntVarP(&opts.workers, "workers", "w", 1, "number of documents split concurrently")
	flags.BoolVar(&opts.failFast, "fail-fast", false, "stop the batch at the first failing document")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print the batch result as JSON")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress to stderr")
	flags.IntVar(&opts.preview, "preview", 80, "characters of chunk text to show (0 = full text)")

	root.AddCommand(newSplitCommand(opts))
	root.AddCommand(newBatchCommand(opts))
	root.AddCommand(newStrategiesCommand())
	return root
}

// Execute 运行命令行工具
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// newLogger 创建输出到stderr的日志记录器
func (o *options) newLogger(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if o.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// pipeline 根据参数创建切分流水线
func (o *options) pipeline(cfg document.SplitterConfig, logger *logrus.Logger) (*document.Pipeline, error) {
	pipeOpts := []document.PipelineOption{
		document.WithWorkers(o.workers),
		document.WithPipelineLogger(logger),
	}
	if o.failFast {
		pipeOpts = append(pipeOpts, document.WithFailFast())
	}
	if o.verbose {
		pipeOpts = append(pipeOpts, document.WithProgressReporter(
			document.NewLogReporter(logger, logrus.Fields{"strategy": cfg.SplitType})))
	}
	return document.NewTextSplitter(cfg, pipeOpts...)
}

func newStrategiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the available split strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := color.New(color.FgCyan, color.Bold).SprintFunc()
			for _, st := range document.StrategyNames() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name(st), st.Description())
			}
			return nil
		},
	}
}
