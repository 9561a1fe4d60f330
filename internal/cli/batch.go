package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"
)

// batchSchema 批量输入文件的JSON Schema
const batchSchema = `{
  "type": "object",
  "required": ["documents"],
  "properties": {
    "documents": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["content"],
        "properties": {
          "id": {"type": "string"},
          "content": {"type": "string"},
          "source": {"type": "string"},
          "mime_type": {"type": "string"},
          "metadata": {"type": "object"}
        },
        "additionalProperties": false
      }
    },
    "splitter": {
      "type": "object",
      "properties": {
        "split_type": {"enum": ["paragraph", "sentence", "length", "recursive", "markdown", "code", "auto"]},
        "chunk_size": {"type": "integer", "minimum": 1},
        "chunk_overlap": {"type": "integer", "minimum": 0},
        "max_chunks": {"type": "integer", "minimum": 0},
        "max_heading_level": {"type": "integer", "minimum": 1, "maximum": 6},
        "language": {"type": "string"},
        "separators": {"type": "array", "items": {"type": "string"}}
      },
      "additionalProperties": false
    }
  }
}`

// batchFile 批量输入文件
type batchFile struct {
	Documents []*document.LoadedDocument `json:"documents"`
	Splitter  *document.SplitterConfig   `json:"splitter"`
}

func newBatchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <documents.json|->",
		Short: "Split an in-memory batch described by a JSON file",
		Long: "Split the documents listed in a JSON file (or stdin with \"-\"). " +
			"A splitter object in the file is used unless overridden by flags.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			batch, err := parseBatch(data)
			if err != nil {
				return err
			}

			cfg := opts.splitter
			if batch.Splitter != nil {
				cfg = mergeSplitter(*batch.Splitter, opts.splitter, cmd)
			}

			logger := opts.newLogger(cmd.ErrOrStderr())
			pipeline, err := opts.pipeline(cfg, logger)
			if err != nil {
				return err
			}

			result, splitErr := pipeline.SplitAll(cmd.Context(), batch.Documents)
			if result == nil {
				return splitErr
			}
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

// readInput 读取文件内容，"-"表示标准输入
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return data, nil
}

// parseBatch 校验并解析批量输入
func parseBatch(data []byte) (*batchFile, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(batchSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid batch file: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("invalid batch file: %s", strings.Join(msgs, "; "))
	}

	var batch batchFile
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("invalid batch file: %w", err)
	}
	for _, doc := range batch.Documents {
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
	}
	return &batch, nil
}

// mergeSplitter 以文件中的配置为基础，命令行显式设置的参数优先
func mergeSplitter(base, flagCfg document.SplitterConfig, cmd *cobra.Command) document.SplitterConfig {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("split-type") || base.SplitType == "" {
		base.SplitType = flagCfg.SplitType
	}
	if changed("chunk-size") || base.ChunkSize == 0 {
		base.ChunkSize = flagCfg.ChunkSize
	}
	if changed("chunk-overlap") {
		base.ChunkOverlap = flagCfg.ChunkOverlap
	}
	if changed("max-chunks") {
		base.MaxChunks = flagCfg.MaxChunks
	}
	if changed("max-heading-level") || base.MaxHeadingLevel == 0 {
		base.MaxHeadingLevel = flagCfg.MaxHeadingLevel
	}
	if changed("language") {
		base.Language = flagCfg.Language
	}
	if changed("separator") {
		base.Separators = flagCfg.Separators
	}
	return base
}
