// Package memory keeps per-task discovery notes in a vector store so a
// resumed task can recall what an earlier run already learned.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"aide/internal/logging"

	chromem "github.com/philippgille/chromem-go"
)

// Config holds discovery store configuration.
type Config struct {
	// PersistPath is the directory the vector data lives in. Empty keeps
	// everything in memory.
	PersistPath string
	// Embedder defaults to the deterministic local embedder.
	Embedder Embedder
	Logger   logging.Logger
}

// Discovery is one recalled finding.
type Discovery struct {
	Content    string
	Similarity float32
}

// Store manages one vector collection per task.
type Store struct {
	db       *chromem.DB
	embedder Embedder
	logger   logging.Logger

	// chromem creates collections lazily; the lock keeps concurrent
	// recorders from racing GetOrCreateCollection.
	mu sync.Mutex
}

// NewStore creates a discovery store. With a persist path the data
// survives restarts, which is what makes recall across resumes work.
func NewStore(config Config) (*Store, error) {
	var db *chromem.DB
	var err error
	if config.PersistPath != "" {
		db, err = chromem.NewPersistentDB(config.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("create persistent discovery store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embedder := config.Embedder
	if embedder == nil {
		embedder = NewLocalEmbedder(0)
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewComponentLogger("memory")
	}

	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}, nil
}

// RecordDiscoveries adds the task's findings to its collection. Document
// ids are content hashes, so re-recording the same finding on every
// checkpoint stays idempotent.
func (s *Store) RecordDiscoveries(ctx context.Context, taskID string, discoveries []string) error {
	if taskID == "" {
		return fmt.Errorf("missing task id")
	}
	if len(discoveries) == 0 {
		return nil
	}

	collection, err := s.collection(taskID)
	if err != nil {
		return err
	}

	for _, discovery := range discoveries {
		discovery = strings.TrimSpace(discovery)
		if discovery == "" {
			continue
		}
		err := collection.AddDocument(ctx, chromem.Document{
			ID:      contentID(discovery),
			Content: discovery,
			Metadata: map[string]string{
				"task_id": taskID,
			},
		})
		if err != nil {
			return fmt.Errorf("record discovery for %s: %w", taskID, err)
		}
	}

	s.logger.Debug("Recorded %d discoveries for %s (collection now %d)",
		len(discoveries), taskID, collection.Count())
	return nil
}

// Recall returns the task's stored findings most similar to the query,
// best match first. A task without recorded discoveries recalls nothing.
func (s *Store) Recall(ctx context.Context, taskID string, query string, limit int) ([]Discovery, error) {
	if taskID == "" {
		return nil, fmt.Errorf("missing task id")
	}
	if limit <= 0 {
		limit = 5
	}

	collection := s.db.GetCollection(taskID, s.embeddingFunc())
	if collection == nil {
		return nil, nil
	}
	// chromem rejects queries asking for more results than documents.
	if count := collection.Count(); count < limit {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("recall for %s: %w", taskID, err)
	}

	discoveries := make([]Discovery, 0, len(results))
	for _, r := range results {
		discoveries = append(discoveries, Discovery{
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return discoveries, nil
}

// Count returns how many findings the task has recorded.
func (s *Store) Count(taskID string) int {
	collection := s.db.GetCollection(taskID, s.embeddingFunc())
	if collection == nil {
		return 0
	}
	return collection.Count()
}

// Forget drops the task's collection once the task is done.
func (s *Store) Forget(taskID string) error {
	if taskID == "" {
		return fmt.Errorf("missing task id")
	}
	return s.db.DeleteCollection(taskID)
}

func (s *Store) collection(taskID string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	collection, err := s.db.GetOrCreateCollection(taskID, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("open collection for %s: %w", taskID, err)
	}
	return collection, nil
}

func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
}

func contentID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}
