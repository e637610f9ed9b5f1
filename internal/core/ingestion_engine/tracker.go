package ingestion_engine

import (
	"sync"
	"time"
)

// Stage is the pipeline position of one batch item.
type Stage string

const (
	StagePending    Stage = "pending"
	StageParsing    Stage = "parsing"
	StageExtracting Stage = "extracting"
	StageAnalyzing  Stage = "analyzing"
	StageChunking   Stage = "chunking"
	StageStoring    Stage = "storing"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
)

// Terminal reports whether no further transitions follow s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// Update is published on every stage transition of an item.
type Update struct {
	BatchID    string `json:"batch_id"`
	Index      int    `json:"index"`
	FileName   string `json:"filename"`
	Stage      Stage  `json:"status"`
	Error      string `json:"error,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
}

// StatusFunc receives item updates. It may be called from several goroutines.
type StatusFunc func(Update)

// ItemState is the latest known state of a batch item.
type ItemState struct {
	FileName   string    `json:"filename"`
	Stage      Stage     `json:"status"`
	Error      string    `json:"error,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Batch is a snapshot of one submitted batch.
type Batch struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	AgentID   string      `json:"agent_id"`
	Items     []ItemState `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
	Done      bool        `json:"done"`
}

// Tracker keeps every batch in memory so item states can be inspected after
// the submitting request has gone away.
type Tracker struct {
	mu      sync.RWMutex
	batches map[string]*Batch
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{batches: make(map[string]*Batch), now: time.Now}
}

// Register records a new batch with every item pending.
func (t *Tracker) Register(id string, req Request, names []string) {
	now := t.now()
	items := make([]ItemState, len(names))
	for i, n := range names {
		items[i] = ItemState{FileName: n, Stage: StagePending, UpdatedAt: now}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[id] = &Batch{
		ID:        id,
		UserID:    req.UserID,
		AgentID:   req.AgentID,
		Items:     items,
		CreatedAt: now,
		Done:      len(items) == 0,
	}
}

// Apply stores u. Updates for unknown batches or items are ignored, as are
// transitions out of a terminal stage.
func (t *Tracker) Apply(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.batches[u.BatchID]
	if !ok || u.Index < 0 || u.Index >= len(b.Items) {
		return
	}
	item := &b.Items[u.Index]
	if item.Stage.Terminal() {
		return
	}
	item.Stage = u.Stage
	item.Error = u.Error
	if u.DocumentID != "" {
		item.DocumentID = u.DocumentID
	}
	if u.ChunkCount > 0 {
		item.ChunkCount = u.ChunkCount
	}
	item.UpdatedAt = t.now()

	b.Done = true
	for _, it := range b.Items {
		if !it.Stage.Terminal() {
			b.Done = false
			break
		}
	}
}

// Get returns a copy of the batch.
func (t *Tracker) Get(id string) (Batch, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b, ok := t.batches[id]
	if !ok {
		return Batch{}, false
	}
	out := *b
	out.Items = append([]ItemState(nil), b.Items...)
	return out, true
}

// Prune forgets finished batches created before cutoff and returns how many were removed.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, b := range t.batches {
		if b.Done && b.CreatedAt.Before(cutoff) {
			delete(t.batches, id)
			n++
		}
	}
	return n
}
