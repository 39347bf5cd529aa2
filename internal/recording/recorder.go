// Package recording captures evidence audio for active emergency sessions.
// Chunks arrive as raw PCM16LE from the client and are persisted as WAV so
// responders can play them back directly.
package recording

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/windhoek-dev/aegis/internal/audio"
	"github.com/windhoek-dev/aegis/internal/store"
)

// Summary describes a finished recording.
type Summary struct {
	ChunkCount      int     `json:"chunk_count"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Recorder is the evidence-capture boundary. Implementations must tolerate
// Stop on a session that never started.
type Recorder interface {
	Start(ctx context.Context, sessionID string) error
	AppendChunk(ctx context.Context, sessionID string, pcm []byte, sampleRate int) (string, error)
	Stop(ctx context.Context, sessionID string) (Summary, error)
}

// StoreRecorder persists WAV-wrapped chunks into the session audio
// collection. One record per chunk, append-only.
type StoreRecorder struct {
	mu     sync.Mutex
	store  store.Store
	active map[string]*recState
}

type recState struct {
	startedAt time.Time
	chunks    int
	duration  float64
}

func NewStoreRecorder(st store.Store) *StoreRecorder {
	return &StoreRecorder{
		store:  st,
		active: make(map[string]*recState),
	}
}

func (r *StoreRecorder) Start(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[sessionID]; ok {
		return nil
	}
	r.active[sessionID] = &recState{startedAt: time.Now().UTC()}
	return nil
}

func (r *StoreRecorder) AppendChunk(ctx context.Context, sessionID string, pcm []byte, sampleRate int) (string, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	r.mu.Lock()
	st, ok := r.active[sessionID]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("recording not started for session %s", sessionID)
	}
	st.chunks++
	seq := st.chunks
	// 2 bytes per mono PCM16 sample.
	chunkSeconds := float64(len(pcm)) / 2 / float64(sampleRate)
	st.duration += chunkSeconds
	r.mu.Unlock()

	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return "", fmt.Errorf("encode chunk: %w", err)
	}
	chunkID := uuid.NewString()
	_, err = r.store.Insert(ctx, store.CollectionAudioChunks, map[string]any{
		"chunk_id":    chunkID,
		"session_id":  sessionID,
		"seq":         seq,
		"wav_base64":  base64.StdEncoding.EncodeToString(wav),
		"sample_rate": sampleRate,
		"seconds":     chunkSeconds,
	})
	if err != nil {
		return "", fmt.Errorf("persist chunk: %w", err)
	}
	return chunkID, nil
}

func (r *StoreRecorder) Stop(_ context.Context, sessionID string) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.active[sessionID]
	if !ok {
		return Summary{}, nil
	}
	delete(r.active, sessionID)
	return Summary{ChunkCount: st.chunks, DurationSeconds: st.duration}, nil
}

// NopRecorder satisfies Recorder when evidence capture is disabled.
type NopRecorder struct{}

func (NopRecorder) Start(context.Context, string) error { return nil }

func (NopRecorder) AppendChunk(context.Context, string, []byte, int) (string, error) {
	return "", nil
}

func (NopRecorder) Stop(context.Context, string) (Summary, error) { return Summary{}, nil }
