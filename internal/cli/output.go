package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/fyerfyer/doc-ingest/internal/document"
)

// printer 输出切分结果
type printer struct {
	out  io.Writer
	opts *options

	id      func(a ...interface{}) string
	meta    func(a ...interface{}) string
	failure func(a ...interface{}) string
	ok      func(a ...interface{}) string
	warn    func(a ...interface{}) string
}

func newPrinter(out io.Writer, opts *options) *printer {
	return &printer{
		out:     out,
		opts:    opts,
		id:      color.New(color.FgCyan, color.Bold).SprintFunc(),
		meta:    color.New(color.Faint).SprintFunc(),
		failure: color.New(color.FgRed).SprintFunc(),
		ok:      color.New(color.FgGreen).SprintFunc(),
		warn:    color.New(color.FgYellow).SprintFunc(),
	}
}

func (p *printer) print(result *document.BatchResult) error {
	if p.opts.jsonOutput {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	for _, chunk := range result.Documents {
		fmt.Fprintf(p.out, "%s %s\n", p.id(chunk.ID), p.meta(fmt.Sprintf("[%d,%d) %s", chunk.Start, chunk.End, describe(chunk.Metadata))))
		fmt.Fprintf(p.out, "  %s\n", p.previewText(chunk.Text))
	}
	for _, f := range result.Failures {
		fmt.Fprintf(p.out, "%s document %d (%s): %s\n", p.failure("FAILED"), f.Index, f.DocumentID, f.Message)
	}

	summary := fmt.Sprintf("%d chunks from %d/%d documents", len(result.Documents), result.Processed, result.Total)
	switch {
	case result.Cancelled:
		fmt.Fprintln(p.out, p.warn("cancelled: "+summary))
	case result.HasFailures():
		fmt.Fprintln(p.out, p.warn(fmt.Sprintf("%s, %d failed", summary, len(result.Failures))))
	default:
		fmt.Fprintln(p.out, p.ok(summary))
	}
	return nil
}

// previewText 截断过长的分块文本，换行显示为空格
func (p *printer) previewText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if p.opts.preview <= 0 || utf8.RuneCountInString(text) <= p.opts.preview {
		return text
	}
	runes := []rune(text)
	return string(runes[:p.opts.preview]) + "..."
}

// describe 输出分块的溯源和标题元数据
func describe(meta map[string]any) string {
	keys := []string{document.MetaStrategy, document.MetaMimeType, document.MetaHeading}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := meta[k]; ok && v != "" {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(parts, " ")
}
