// Package memory implements the semantic memory store.
//
// Memories are natural-language facts namespaced by UserID. The package
// is split along three seams so backends can be swapped without touching
// callers:
//
//   - Store: vector storage backend (chromem or hnsw in-process; swap in
//     a server-backed store for production)
//   - Embedder: text-to-vector conversion (OpenAI API, local ONNX model,
//     or deterministic mock for tests)
//   - Extractor: optional LLM pipeline that distills raw text into facts
//     and reconciles them against existing memories
//
// The Manager orchestrates the operations exposed over HTTP and MCP:
// Add, Search, Get, GetAll, Update, Delete, DeleteAll, History, plus the
// pause/archive lifecycle. Every mutation appends to an in-process
// history log and is broadcast to an optional Notifier.
//
// Retrieval is deliberately non-fatal: RetrieveOrEmpty swallows search
// errors and returns an empty result so agents keep working when the
// memory backend is down.
package memory
