// Package ai provides abstractions for the AI services used by BoardMax.
//
// The package defines the two capabilities the pipelines depend on, text
// embeddings and chat completion, so that ingestion and query code depend on
// interfaces rather than on a particular provider.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text
//   - Generator: Produces an answer from an assembled Prompt
//   - AIProvider: Aggregates both services for convenient initialization
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs (Groq, OpenAI, LM Studio, Ollama's /v1)
//   - ai/ollama: Ollama's native API
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors (openai.NewProvider, ollama.NewProvider) return
// interface types. Mock constructors return concrete types so tests can
// inject behaviour and inspect call counts.
//
// # Retries
//
// Embedding calls made during ingestion are wrapped in a RetryingEmbedder,
// which retries transient failures with exponential backoff and jitter
// (RetryWithBackoff). Generation is never retried: answers are user facing
// and latency sensitive.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithGenerationAPIKey(os.Getenv("GROQ_API_KEY")))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, "Define refraction")
//	answer, err := provider.Generator().Generate(ctx, &ai.Prompt{User: "..."})
package ai
