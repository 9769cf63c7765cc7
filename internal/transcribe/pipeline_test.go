package transcribe

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"transcriptor-pro/internal/audio"
	"transcriptor-pro/internal/keypool"
	"transcriptor-pro/internal/store"
	"transcriptor-pro/internal/types"
)

type fakeUpdater struct {
	mu       sync.Mutex
	jobs     map[string]*types.Job
	progress []int
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{jobs: make(map[string]*types.Job)}
}

func (u *fakeUpdater) UpdateJob(id string, mutate func(*types.Job)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	j := u.jobs[id]
	if j == nil {
		j = &types.Job{ID: id}
		u.jobs[id] = j
	}
	before := j.Progress
	mutate(j)
	if j.Progress != before {
		u.progress = append(u.progress, j.Progress)
	}
}

func writeTestWAV(t *testing.T, dir string, seconds float64) string {
	t.Helper()
	n := int(seconds * 16000)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.1
	}
	path := filepath.Join(dir, "llamada.wav")
	if err := os.WriteFile(path, audio.EncodePCM16(samples, 16000), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testPipeline(t *testing.T, tmp string, client Client, pool *keypool.Pool, jobs JobUpdater) (*Pipeline, store.UsageStore, store.UsageStore, *store.FileHistoryStore) {
	t.Helper()
	agentUsage, err := store.NewFileUsageStore(filepath.Join(tmp, "usage_agents.json"))
	if err != nil {
		t.Fatal(err)
	}
	keyUsage, err := store.NewFileUsageStore(filepath.Join(tmp, "usage_keys.json"))
	if err != nil {
		t.Fatal(err)
	}
	history := store.NewFileHistoryStore(filepath.Join(tmp, "history.jsonl"))

	return &Pipeline{
		Client:       client,
		Pool:         pool,
		AgentUsage:   agentUsage,
		KeyUsage:     keyUsage,
		History:      history,
		Jobs:         jobs,
		DocDir:       filepath.Join(tmp, "docs"),
		ChunkSeconds: 1,
		RetryFactor:  2,
		RetryBackoff: time.Millisecond,
		Log:          discardLog(),
	}, agentUsage, keyUsage, history
}

// TestPipelineEndToEnd runs a 2.5 second file through all stages with a
// 1 second chunk size and checks progress, segment offsets, usage accounting,
// the rendered document, and source cleanup.
func TestPipelineEndToEnd(t *testing.T) {
	tmp := t.TempDir()
	src := writeTestWAV(t, tmp, 2.5)

	client := &fakeClient{fn: func(int, string) ([]types.Segment, error) {
		return []types.Segment{{Start: 0.1, End: 0.9, Text: " hola "}}, nil
	}}
	pool := twoKeyPool(lockSet{})
	updater := newFakeUpdater()
	pipe, agentUsage, keyUsage, history := testPipeline(t, tmp, client, pool, updater)

	scope := keypool.Scope{AgentID: "1001"}
	key, _ := pool.SelectNext(scope)
	run := Run{
		Job: types.Job{
			ID:         "j1",
			FileName:   "llamada.wav",
			SourcePath: src,
			Model:      "whisper-large-v3",
			Agent:      "Agente 1",
			AgentID:    "1001",
		},
		Scope:      scope,
		Key:        key,
		Checkpoint: func(context.Context) error { return nil },
	}

	if err := pipe.Execute(context.Background(), run); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if client.calls != 3 {
		t.Fatalf("chunks transcribed = %d, want 3", client.calls)
	}

	// The speaker-labeling stage re-publishes 85 after the last chunk, which
	// the change-only recorder collapses.
	want := []int{5, 15, 45, 65, 85, 90, 100}
	if len(updater.progress) != len(want) {
		t.Fatalf("progress = %v, want %v", updater.progress, want)
	}
	for i, p := range want {
		if updater.progress[i] != p {
			t.Fatalf("progress = %v, want %v", updater.progress, want)
		}
	}

	job := updater.jobs["j1"]
	if job.StatusText != "Finalizado" || job.ProgressStep != "complete" {
		t.Fatalf("final state = %q/%q", job.ProgressStep, job.StatusText)
	}
	if math.Abs(job.Duration-2.5) > 0.001 {
		t.Fatalf("duration = %v, want 2.5", job.Duration)
	}
	if job.SourcePath != "" {
		t.Fatal("source path not cleared")
	}

	payload, err := os.ReadFile(job.DocPath)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	text := string(payload)
	if !strings.HasPrefix(text, "\uFEFF") {
		t.Fatal("document missing BOM")
	}
	// Mono audio labels everything as advisor, so the three chunk segments
	// merge into one block.
	if !strings.Contains(text, "hola hola hola") {
		t.Fatal("merged dialogue block missing from document")
	}
	if !strings.Contains(text, "llamada.wav") {
		t.Fatal("filename missing from document")
	}

	today := store.Today()
	if got := agentUsage.Get(today, "Agente 1"); math.Abs(got-2.5) > 0.001 {
		t.Fatalf("agent usage = %v, want 2.5", got)
	}
	if got := keyUsage.Get(today, "key-one-aaa"); math.Abs(got-2.5) > 0.001 {
		t.Fatalf("key usage = %v, want 2.5", got)
	}

	recs, err := history.All()
	if err != nil || len(recs) != 1 {
		t.Fatalf("history = %v (%v), want one record", recs, err)
	}
	if recs[0].Agent != "Agente 1" || math.Abs(recs[0].Duration-2.5) > 0.001 {
		t.Fatalf("history record = %+v", recs[0])
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source audio not removed")
	}
}

// TestPipelineMissingSource fails fatally before touching the API.
func TestPipelineMissingSource(t *testing.T) {
	tmp := t.TempDir()
	client := &fakeClient{fn: func(int, string) ([]types.Segment, error) {
		t.Fatal("client should not be called")
		return nil, nil
	}}
	pool := twoKeyPool(lockSet{})
	pipe, _, _, _ := testPipeline(t, tmp, client, pool, newFakeUpdater())

	run := Run{
		Job:        types.Job{ID: "j1", FileName: "x.wav"},
		Scope:      keypool.Scope{AgentID: "1001"},
		Checkpoint: func(context.Context) error { return nil },
	}
	err := pipe.Execute(context.Background(), run)
	if err == nil || err.Error() != "source audio missing" {
		t.Fatalf("err = %v, want source audio missing", err)
	}
}

// TestPipelineCheckpointAborts verifies a checkpoint error unwinds before the
// first stage runs.
func TestPipelineCheckpointAborts(t *testing.T) {
	tmp := t.TempDir()
	client := &fakeClient{fn: func(int, string) ([]types.Segment, error) {
		t.Fatal("client should not be called")
		return nil, nil
	}}
	pool := twoKeyPool(lockSet{})
	updater := newFakeUpdater()
	pipe, _, _, _ := testPipeline(t, tmp, client, pool, updater)

	stop := errors.New("cancelled")
	run := Run{
		Job:        types.Job{ID: "j1", SourcePath: filepath.Join(tmp, "missing.wav")},
		Scope:      keypool.Scope{AgentID: "1001"},
		Checkpoint: func(context.Context) error { return stop },
	}
	if err := pipe.Execute(context.Background(), run); !errors.Is(err, stop) {
		t.Fatalf("err = %v, want checkpoint error", err)
	}
	if len(updater.progress) != 0 {
		t.Fatalf("progress updates = %v, want none", updater.progress)
	}
}
