// Package chroma mirrors transformed messages into a Chroma collection.
// Embeddings are computed upstream; Chroma only stores them.
package chroma

import (
	"context"
	"fmt"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"

	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// Config holds connection settings.
type Config struct {
	BaseURL    string
	Collection string
}

// Index is a driven.VectorIndex over one Chroma collection.
type Index struct {
	client     chroma.Client
	collection chroma.Collection
}

// Open connects to Chroma and gets or creates the collection.
func Open(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.BaseURL == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("chroma: base URL and collection are required")
	}

	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	collection, err := client.GetOrCreateCollection(ctx, cfg.Collection)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to get collection %s: %w", cfg.Collection, err)
	}

	logger.Debug("Chroma collection %s ready at %s", cfg.Collection, cfg.BaseURL)
	return &Index{client: client, collection: collection}, nil
}

// Upsert writes records, replacing any with the same ID.
func (x *Index) Upsert(ctx context.Context, records []driven.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := buildBatch(records)
	if err != nil {
		return err
	}

	err = x.collection.Upsert(
		ctx,
		chroma.WithIDs(batch.ids...),
		chroma.WithEmbeddings(batch.embeddings...),
		chroma.WithTexts(batch.texts...),
		chroma.WithMetadatas(batch.metadatas...),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %d vectors: %w", len(records), err)
	}
	return nil
}

// DeleteMessage removes every record of a message.
func (x *Index) DeleteMessage(ctx context.Context, messageID string) error {
	err := x.collection.Delete(ctx, chroma.WithWhereDelete(chroma.EqString(MetaMessageID, messageID)))
	if err != nil {
		return fmt.Errorf("failed to delete vectors of %s: %w", messageID, err)
	}
	return nil
}

// Close releases the client.
func (x *Index) Close() error {
	return x.client.Close()
}

// MetaMessageID is the metadata key DeleteMessage filters on.
const MetaMessageID = "message_id"

type batch struct {
	ids        []chroma.DocumentID
	embeddings []embeddings.Embedding
	texts      []string
	metadatas  []chroma.DocumentMetadata
}

// buildBatch converts records to Chroma columns. The message and account
// IDs are always present in metadata.
func buildBatch(records []driven.VectorRecord) (batch, error) {
	b := batch{
		ids:        make([]chroma.DocumentID, 0, len(records)),
		embeddings: make([]embeddings.Embedding, 0, len(records)),
		texts:      make([]string, 0, len(records)),
		metadatas:  make([]chroma.DocumentMetadata, 0, len(records)),
	}
	seen := make(map[string]bool, len(records))

	for _, r := range records {
		if r.ID == "" || len(r.Embedding) == 0 {
			return batch{}, fmt.Errorf("chroma: record %q has no id or embedding", r.ID)
		}
		if seen[r.ID] {
			return batch{}, fmt.Errorf("chroma: duplicate record id %s", r.ID)
		}
		seen[r.ID] = true

		meta := make(map[string]any, len(r.Metadata)+3)
		for k, v := range r.Metadata {
			meta[k] = v
		}
		meta[MetaMessageID] = r.MessageID
		meta["account_id"] = r.AccountID
		meta["kind"] = r.Kind

		dm, err := chroma.NewDocumentMetadataFromMap(meta)
		if err != nil {
			return batch{}, fmt.Errorf("failed to create metadata for %s: %w", r.ID, err)
		}

		b.ids = append(b.ids, chroma.DocumentID(r.ID))
		b.embeddings = append(b.embeddings, embeddings.NewEmbeddingFromFloat32(r.Embedding))
		b.texts = append(b.texts, r.Text)
		b.metadatas = append(b.metadatas, dm)
	}
	return b, nil
}
