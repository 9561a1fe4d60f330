package cli

import (
	"errors"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/loader"
	"github.com/spf13/cobra"
)

func newSplitCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "split <file>...",
		Short: "Load local files and split them",
		Long: "Load local files (pdf, markdown, xlsx, plain text and source code) " +
			"and split them with the selected strategy.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.newLogger(cmd.ErrOrStderr())

			docs := make([]*document.LoadedDocument, 0, len(args))
			positions := make([]int, 0, len(args))
			var loadFailures []document.Failure
			for i, path := range args {
				doc, err := loader.LoadFile(path)
				if err != nil {
					loadFailures = append(loadFailures, document.Failure{
						Index:      i,
						DocumentID: path,
						Message:    err.Error(),
						Err:        err,
					})
					if opts.failFast {
						break
					}
					continue
				}
				// 以路径作为文档ID，分块ID可以直接对应到文件
				doc.ID = path
				docs = append(docs, doc)
				positions = append(positions, i)
			}

			pipeline, err := opts.pipeline(opts.splitter, logger)
			if err != nil {
				return err
			}

			result := &document.BatchResult{Documents: []document.Document{}}
			var splitErr error
			if len(loadFailures) == 0 || !opts.failFast {
				result, splitErr = pipeline.SplitAll(cmd.Context(), docs)
				if result == nil {
					return splitErr
				}
			}
			result = mergeLoadFailures(result, loadFailures, positions, len(args))

			if err := newPrinter(cmd.OutOrStdout(), opts).print(result); err != nil {
				return err
			}
			if splitErr != nil && !errors.Is(splitErr, document.ErrUnsplittable) {
				return splitErr
			}
			if result.HasFailures() {
				return ErrFailures
			}
			return nil
		},
	}
}

// mergeLoadFailures 把加载失败并入切分结果，失败位置映射回命令行参数的位置
// 两组失败都已按参数顺序排列，逐个比较归并即可
func mergeLoadFailures(result *document.BatchResult, loadFailures []document.Failure, positions []int, total int) *document.BatchResult {
	splitFailures := result.Failures
	for i := range splitFailures {
		if idx := splitFailures[i].Index; idx >= 0 && idx < len(positions) {
			splitFailures[i].Index = positions[idx]
		}
	}

	loadFailed := len(loadFailures)
	merged := make([]document.Failure, 0, loadFailed+len(splitFailures))
	for len(loadFailures) > 0 && len(splitFailures) > 0 {
		if loadFailures[0].Index < splitFailures[0].Index {
			merged, loadFailures = append(merged, loadFailures[0]), loadFailures[1:]
		} else {
			merged, splitFailures = append(merged, splitFailures[0]), splitFailures[1:]
		}
	}
	merged = append(merged, loadFailures...)
	result.Failures = append(merged, splitFailures...)
	result.Processed += loadFailed
	result.Total = total
	return result
}
