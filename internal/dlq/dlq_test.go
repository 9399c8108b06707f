package dlq

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedQueue(t *testing.T, now time.Time) *Queue {
	t.Helper()
	q, err := NewQueue(filepath.Join(t.TempDir(), "rejected"))
	require.NoError(t, err)
	q.now = func() time.Time { return now }
	return q
}

func TestNewQueue_RequiresDir(t *testing.T) {
	_, err := NewQueue("")
	assert.Error(t, err)
}

func TestWrite_AppendsToDatedFile(t *testing.T) {
	now := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	q := fixedQueue(t, now)

	require.NoError(t, q.Write(context.Background(), SourceParse, "events-2025-01-31.ndjson", []byte(`{"bad`), errors.New("unexpected end of JSON input")))
	require.NoError(t, q.Write(context.Background(), SourceUpsert, "", []byte(`{"@type":"room"}`), errors.New("store rejected")))

	_, err := os.Stat(filepath.Join(q.basePath, "rejected-2025-01-31.ndjson"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), q.Written())

	records, err := q.List(now, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, SourceParse, records[0].Source)
	assert.Equal(t, `{"bad`, records[0].Line)
	assert.Equal(t, "unexpected end of JSON input", records[0].Reason)
	assert.Equal(t, "events-2025-01-31.ndjson", records[0].File)
	assert.Equal(t, SourceUpsert, records[1].Source)

	limited, err := q.List(now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestList_MissingDayIsEmpty(t *testing.T) {
	q := fixedQueue(t, time.Now())
	records, err := q.List(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNilQueue(t *testing.T) {
	var q *Queue
	assert.NoError(t, q.Write(context.Background(), SourceParse, "", []byte("x"), nil))
	assert.Zero(t, q.Written())
	_, err := q.List(time.Now(), 0)
	assert.Error(t, err)
}

func TestWrite_Concurrent(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	q := fixedQueue(t, now)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Write(context.Background(), SourceUpsert, "", []byte(`{"x":1}`), errors.New("nope")))
		}()
	}
	wg.Wait()

	records, err := q.List(now, 0)
	require.NoError(t, err)
	assert.Len(t, records, 20)
}
