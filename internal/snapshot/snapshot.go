// Package snapshot caches survey structures for cheap repeated reads. Each
// survey's structure is published atomically with a weak ETag so the read
// endpoint can answer conditional requests without touching the store.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/quantai/surveyflow/internal/survey"
	"github.com/quantai/surveyflow/internal/telemetry"
)

// Snapshot is one published structure version.
type Snapshot struct {
	ETag      string            `json:"etag"`
	Structure *survey.Structure `json:"structure"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Cache holds the current snapshot per survey. Reads are lock-free.
type Cache struct {
	bySurvey sync.Map // int64 -> *Snapshot
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Load returns the current snapshot for a survey, or nil when none has been
// published yet.
func (c *Cache) Load(surveyID int64) *Snapshot {
	v, ok := c.bySurvey.Load(surveyID)
	if !ok {
		return nil
	}
	return v.(*Snapshot)
}

// Update builds and publishes a new snapshot for the structure.
func (c *Cache) Update(st *survey.Structure) *Snapshot {
	s := Build(st)
	c.bySurvey.Store(st.Survey.ID, s)

	total := 0
	c.bySurvey.Range(func(_, v any) bool {
		total += len(v.(*Snapshot).Structure.Questions)
		return true
	})
	telemetry.SnapshotQuestions.Set(float64(total))
	return s
}

// Invalidate drops the cached snapshot for a survey.
func (c *Cache) Invalidate(surveyID int64) {
	c.bySurvey.Delete(surveyID)
}

// Build computes a snapshot with a weak ETag over the serialized structure.
func Build(st *survey.Structure) *Snapshot {
	blob, _ := json.Marshal(st)
	sum := sha256.Sum256(blob)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return &Snapshot{ETag: etag, Structure: st, UpdatedAt: time.Now().UTC()}
}
