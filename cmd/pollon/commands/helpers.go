package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/pollon-ai/pollon-go/internal/embedder"
	"github.com/pollon-ai/pollon-go/internal/provider"
	"github.com/pollon-ai/pollon-go/internal/qa"
	"github.com/pollon-ai/pollon-go/internal/qastore"
	"github.com/pollon-ai/pollon-go/internal/session"
)

// openStore opens the question cache store selected by POLLON_DB.
// "memory" gives an ephemeral in-memory store; an empty value resolves to the
// default path under ~/.pollon.
func openStore(log *slog.Logger) (qa.Store, error) {
	path := os.Getenv("POLLON_DB")
	if path == "memory" {
		log.Info("store: using in-memory question cache")
		return qastore.NewMemoryStore(), nil
	}
	if path == "" {
		p, err := qastore.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		path = p
	}
	s, err := qastore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	log.Info("store: question cache opened", slog.String("path", path))
	return s, nil
}

// embeddingBackend resolves the embedding backend name the same way the
// embedder factory does: EMBEDDING_PROVIDER, then MODEL_PROVIDER, then ollama.
func embeddingBackend() string {
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		return v
	}
	if v := os.Getenv("MODEL_PROVIDER"); v != "" {
		return v
	}
	return "ollama"
}

// embeddingDimensions resolves the configured embedding vector size, needed
// when creating the Qdrant collection.
func embeddingDimensions() int {
	if v := os.Getenv("EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return embedder.DefaultDimensions(embeddingBackend())
}

// chatGenerator adapts the provider Generator to the session's Generator
// contract, mapping transcript roles between the two packages.
type chatGenerator struct {
	gen *provider.Generator
}

func (c *chatGenerator) Complete(ctx context.Context, transcript []session.Turn, question string) (string, error) {
	history := make([]provider.Turn, 0, len(transcript))
	for _, t := range transcript {
		role := provider.RoleStudent
		if t.Role == session.RoleAssistant {
			role = provider.RoleAssistant
		}
		history = append(history, provider.Turn{Role: role, Content: t.Content})
	}
	return c.gen.Complete(ctx, history, question)
}
