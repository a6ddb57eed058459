//go:build !onnx

package main

import (
	"fmt"

	"github.com/recallkit/recall/config"
	"github.com/recallkit/recall/memory/embedder"
)

func buildONNXEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	return nil, fmt.Errorf("onnx embedder requires building with -tags onnx")
}
