//go:build onnx

package main

import (
	"github.com/recallkit/recall/config"
	"github.com/recallkit/recall/memory/embedder"
	"github.com/recallkit/recall/memory/embedder/onnx"
)

func buildONNXEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:     cfg.Embedder.ModelPath,
		TokenizerPath: cfg.Embedder.TokenizerPath,
	})
}
