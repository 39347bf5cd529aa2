package recording

import (
	"context"
	"testing"

	"github.com/windhoek-dev/aegis/internal/store"
)

func TestStoreRecorderLifecycle(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	defer st.Close()
	rec := NewStoreRecorder(st)

	if err := rec.Start(ctx, "s1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// 16000 samples at 16kHz is exactly one second.
	pcm := make([]byte, 32000)
	id, err := rec.AppendChunk(ctx, "s1", pcm, 16000)
	if err != nil {
		t.Fatalf("AppendChunk() error = %v", err)
	}
	if id == "" {
		t.Fatalf("AppendChunk() returned empty chunk id")
	}
	if _, err := rec.AppendChunk(ctx, "s1", pcm, 16000); err != nil {
		t.Fatalf("AppendChunk() second error = %v", err)
	}

	sum, err := rec.Stop(ctx, "s1")
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sum.ChunkCount != 2 {
		t.Fatalf("ChunkCount = %d, want 2", sum.ChunkCount)
	}
	if sum.DurationSeconds < 1.99 || sum.DurationSeconds > 2.01 {
		t.Fatalf("DurationSeconds = %v, want ~2", sum.DurationSeconds)
	}

	recs, err := st.Query(ctx, store.CollectionAudioChunks, store.Filter{"session_id": "s1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("stored chunks = %d, want 2", len(recs))
	}
}

func TestStoreRecorderRejectsUnstartedSession(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()
	rec := NewStoreRecorder(st)

	if _, err := rec.AppendChunk(context.Background(), "ghost", []byte{0, 0}, 16000); err == nil {
		t.Fatalf("expected error for unstarted session")
	}
}

func TestStoreRecorderStopWithoutStart(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()
	rec := NewStoreRecorder(st)

	sum, err := rec.Stop(context.Background(), "never")
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sum.ChunkCount != 0 {
		t.Fatalf("ChunkCount = %d, want 0", sum.ChunkCount)
	}
}
