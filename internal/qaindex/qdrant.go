// Package qaindex provides an optional Qdrant-backed approximate
// nearest-neighbor matcher behind the same FindBestMatch contract as the
// linear scan in internal/qa. The Qdrant collection only carries vectors and
// scope markers; the question store stays authoritative for text and
// answers, so curation edits never need to touch the index.
package qaindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/pollon-ai/pollon-go/internal/logging"
	"github.com/pollon-ai/pollon-go/internal/qa"
)

// Config holds connection parameters for the Qdrant index.
type Config struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Enabled reports whether the operator opted into the ANN index.
func Enabled() bool {
	return os.Getenv("QDRANT_HOST") != ""
}

// ConfigFromEnv assembles a Config from QDRANT_* environment variables.
// vectorSize must match the configured embedding dimensionality.
func ConfigFromEnv(vectorSize int) *Config {
	port := 6334
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	collection := os.Getenv("QDRANT_COLLECTION")
	if collection == "" {
		collection = "pollon_questions"
	}
	return &Config{
		Host:       os.Getenv("QDRANT_HOST"),
		Port:       port,
		Collection: collection,
		VectorSize: uint64(vectorSize),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_USE_TLS") == "true",
	}
}

// Index is a Qdrant-backed qa.Matcher. It mirrors cache writes from the
// question store via its change subscription and resolves every match back
// through the store, which remains the source of truth.
type Index struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *Config

	// store resolves matched ids to authoritative records.
	store qa.Store

	// unsubscribe detaches the change subscription.
	unsubscribe func()
}

// New creates the Index, ensures the target collection exists, backfills it
// from the store, and subscribes to store changes so later cache writes are
// mirrored automatically.
func New(ctx context.Context, cfg *Config, store qa.Store) (*Index, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qaindex: failed to create client: %w", err)
	}

	ix := &Index{client: client, cfg: cfg, store: store}
	if err := ix.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if err := ix.backfill(ctx); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	ix.unsubscribe = store.Subscribe(func(c qa.Change) {
		if c.Kind != qa.ChangeCreated {
			// Answer edits never touch embeddings, so the index is
			// already correct.
			return
		}
		if err := ix.mirror(context.Background(), c.Ref); err != nil {
			log.Warn("qaindex: failed to mirror new question", slog.Any("error", err))
		}
	})

	return ix, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (ix *Index) ensureCollection(ctx context.Context) error {
	exists, err := ix.client.CollectionExists(ctx, ix.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qaindex: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = ix.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: ix.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     ix.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qaindex: failed to create collection %q: %w", ix.cfg.Collection, err)
	}

	return nil
}

// backfill upserts every record already in the store, so an index enabled on
// an existing database starts complete.
func (ix *Index) backfill(ctx context.Context) error {
	roots, err := ix.store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("qaindex: backfill: list roots: %w", err)
	}
	for _, root := range roots {
		if err := ix.upsert(ctx, "", root); err != nil {
			return err
		}
		followups, err := ix.store.List(ctx, root.ID)
		if err != nil {
			return fmt.Errorf("qaindex: backfill: list follow-ups of %s: %w", root.ID, err)
		}
		for _, f := range followups {
			if err := ix.upsert(ctx, root.ID, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// mirror reads the record behind a create notification and upserts it.
func (ix *Index) mirror(ctx context.Context, ref qa.Ref) error {
	q, err := ix.store.Get(ctx, ref)
	if err != nil {
		return fmt.Errorf("qaindex: read new record: %w", err)
	}
	parentID := ""
	if !ref.IsRoot() {
		parentID = ref.RootID
	}
	return ix.upsert(ctx, parentID, q)
}

// upsert writes one point. The payload carries only the scope marker;
// question text and answer stay in the store.
func (ix *Index) upsert(ctx context.Context, parentID string, q qa.Question) error {
	_, err := ix.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: ix.cfg.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(q.ID),
			Vectors: qdrant.NewVectors(q.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{"parent_id": parentID}),
		}},
	})
	if err != nil {
		return fmt.Errorf("qaindex: upsert %s: %w", q.ID, err)
	}
	return nil
}

// FindBestMatch queries the index for the closest question within the given
// scope, applying the same acceptance threshold as the linear scan. Exact
// ties may resolve differently than the scan's first-encountered rule; the
// contract permits that. A stale index entry whose record is gone from the
// store is treated as no match.
func (ix *Index) FindBestMatch(ctx context.Context, queryEmbedding []float32, parentID string) (*qa.Question, error) {
	limit := uint64(1)
	threshold := float32(qa.MatchThreshold)
	results, err := ix.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: ix.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("parent_id", parentID),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qaindex: query failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	id := results[0].Id.GetUuid()
	ref := qa.RootRef(id)
	if parentID != "" {
		ref = qa.FollowUpRef(parentID, id)
	}
	q, err := ix.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, qa.ErrNotFound) || errors.Is(err, qa.ErrCorruptRecord) {
			return nil, nil
		}
		return nil, fmt.Errorf("qaindex: resolve match %s: %w", id, err)
	}
	return &q, nil
}

// Client exposes the underlying Qdrant client, for readiness probes.
func (ix *Index) Client() *qdrant.Client { return ix.client }

// Close detaches the store subscription and closes the gRPC connection.
func (ix *Index) Close() error {
	if ix.unsubscribe != nil {
		ix.unsubscribe()
	}
	return ix.client.Close()
}
