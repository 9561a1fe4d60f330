package main

import "github.com/fyerfyer/doc-ingest/internal/cli"

// docsplit 在本地切分文档，不依赖服务端
func main() {
	cli.Execute()
}
