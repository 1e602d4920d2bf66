package engine

import "context"

// Engine abstracts an inference backend (OpenAI or any OpenAI-compatible
// server, Ollama, Gemini). The retrieval and answer pipeline depends on
// this interface instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// Embed returns one embedding per text, in input order.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// Puller is implemented by engines that host models locally and can
// download missing ones.
type Puller interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
