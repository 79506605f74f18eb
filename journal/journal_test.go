package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/sentinel/detector"
)

func open(t *testing.T, retention int) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), retention)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func event(at time.Time, detected bool) *detector.Event {
	return &detector.Event{
		ID:            uuid.New(),
		Timestamp:     at,
		Detected:      detected,
		Confidence:    0.8,
		Message:       "Detected: a fox",
		Urgency:       detector.UrgencyMedium,
		FrameCount:    2,
		ChangePercent: 3.5,
		Image:         "data:image/jpeg;base64,AAAA",
	}
}

func TestRecordAndRecent(t *testing.T) {
	j := open(t, 0)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	first := event(base, true)
	second := event(base.Add(time.Second), false)
	require.NoError(t, j.Record(ctx, first))
	require.NoError(t, j.Record(ctx, second))

	events, err := j.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, second.ID, events[0].ID)
	assert.Equal(t, first.ID, events[1].ID)
	assert.True(t, events[1].Timestamp.Equal(base))
	assert.Equal(t, detector.UrgencyMedium, events[1].Urgency)
	assert.Equal(t, 2, events[1].FrameCount)
	assert.Empty(t, events[1].Image)

	events, err = j.Recent(ctx, Query{DetectedOnly: true, WithImages: true})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, first.Image, events[0].Image)

	events, err = j.Recent(ctx, Query{Since: base.Add(500 * time.Millisecond)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, second.ID, events[0].ID)
}

func TestRetentionPrunesOldest(t *testing.T) {
	j := open(t, 3)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		e := event(base.Add(time.Duration(i)*time.Second), true)
		ids = append(ids, e.ID)
		require.NoError(t, j.Record(ctx, e))
	}

	n, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	events, err := j.Recent(ctx, Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []uuid.UUID{ids[4], ids[3], ids[2]}, []uuid.UUID{events[0].ID, events[1].ID, events[2].ID})
}

func TestDuplicateIDRejected(t *testing.T) {
	j := open(t, 0)
	e := event(time.Now(), true)
	require.NoError(t, j.Record(context.Background(), e))
	assert.Error(t, j.Record(context.Background(), e))
}
