package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"transcriptor-pro/internal/audio"
	"transcriptor-pro/internal/doc"
	"transcriptor-pro/internal/keypool"
	"transcriptor-pro/internal/store"
	"transcriptor-pro/internal/types"
)

// JobUpdater publishes job field changes back to the scheduler-owned record.
// Mutations run under the scheduler's lock and are persisted there.
type JobUpdater interface {
	UpdateJob(id string, mutate func(*types.Job))
}

// Run describes one dispatched job: a snapshot of the record, the caller's
// key scope, the credential assigned at dispatch, and the checkpoint hook
// that blocks on pause and reports cancellation.
type Run struct {
	Job        types.Job
	Scope      keypool.Scope
	Key        *types.KeyAssignment
	Checkpoint func(ctx context.Context) error
}

// Pipeline executes the fixed stage machine for one job per call. One
// instance is shared by all jobs; all per-job state lives in Run.
type Pipeline struct {
	Client       Client
	Pool         *keypool.Pool
	AgentUsage   store.UsageStore
	KeyUsage     store.UsageStore
	History      store.HistoryStore
	Jobs         JobUpdater
	DocDir       string
	ChunkSeconds int
	RetryFactor  int
	RetryBackoff time.Duration
	Log          *logrus.Entry
}

// Execute runs decode → mix → chunk/transcribe → label → render → finalize.
// Every stage boundary re-checks cancellation and pause through
// run.Checkpoint; a cancellation surfaces as the checkpoint's error and the
// caller unwinds silently. Any other error aborts the job fatally.
func (p *Pipeline) Execute(ctx context.Context, run Run) error {
	log := p.Log.WithField("job_id", run.Job.ID)

	// Stage 1: decode.
	if err := run.Checkpoint(ctx); err != nil {
		return err
	}
	if run.Job.SourcePath == "" {
		return errors.New("source audio missing")
	}
	p.update(run.Job.ID, 5, "decoding", "Decodificando...")

	decoded, err := audio.DecodeFile(run.Job.SourcePath)
	if err != nil {
		return err
	}
	rate := decoded.SampleRate

	// Stage 2: mix to mono.
	if err := run.Checkpoint(ctx); err != nil {
		return err
	}
	p.update(run.Job.ID, 15, "processing", "Unificando canales...")
	mixed := audio.MixMono(decoded.Left, decoded.Right)

	// Stage 3: chunk and transcribe.
	chunkSamples := p.ChunkSeconds * rate
	totalSamples := len(mixed)
	totalChunks := (totalSamples + chunkSamples - 1) / chunkSamples

	rt := &retrier{
		client: p.Client,
		pool:   p.Pool,
		scope:  run.Scope,
		factor: p.RetryFactor,
		wait:   backoff.NewConstantBackOff(p.RetryBackoff),
		log:    log,
		onReassign: func(k *types.KeyAssignment) {
			p.Jobs.UpdateJob(run.Job.ID, func(j *types.Job) { j.AssignedKey = k })
		},
	}

	key := run.Key
	var allSegments []types.Segment
	for i := 0; i < totalSamples; i += chunkSamples {
		if err := run.Checkpoint(ctx); err != nil {
			return err
		}

		chunkIndex := i/chunkSamples + 1
		pct := 25 + int(float64(chunkIndex)/float64(totalChunks)*60+0.5)
		p.update(run.Job.ID, pct, "processing",
			fmt.Sprintf("Transcribiendo parte %d/%d...", chunkIndex, totalChunks))

		end := i + chunkSamples
		if end > totalSamples {
			end = totalSamples
		}
		chunk := mixed[i:end]
		wav := audio.EncodePCM16(chunk, rate)
		duration := float64(len(chunk)) / float64(rate)

		segments, usedKey, err := rt.transcribe(ctx, key, run.Job.Model, wav)
		if err != nil {
			return err
		}
		key = usedKey

		offset := float64(i) / float64(rate)
		for _, s := range segments {
			allSegments = append(allSegments, types.Segment{
				Start: s.Start + offset,
				End:   s.End + offset,
				Text:  strings.TrimSpace(s.Text),
			})
		}

		date := store.Today()
		if err := p.AgentUsage.Add(date, run.Job.Agent, duration); err != nil {
			log.WithError(err).Warn("agent usage increment failed")
		}
		if err := p.KeyUsage.Add(date, key.Key, duration); err != nil {
			log.WithError(err).Warn("key usage increment failed")
		}
		log.WithFields(logrus.Fields{
			"chunk":    chunkIndex,
			"chunks":   totalChunks,
			"seconds":  duration,
			"segments": len(segments),
		}).Info("chunk transcribed")
	}

	// Stage 4: label speakers.
	if err := run.Checkpoint(ctx); err != nil {
		return err
	}
	p.update(run.Job.ID, 85, "processing", "Identificando hablantes...")
	labeled := AssignRoles(allSegments, decoded.Left, decoded.Right, rate)

	// Stage 5: merge and render.
	if err := run.Checkpoint(ctx); err != nil {
		return err
	}
	p.update(run.Job.ID, 90, "processing", "Generando DOC...")
	blocks := MergeBlocks(labeled)
	payload := doc.Render(blocks, run.Job.FileName)

	if err := os.MkdirAll(p.DocDir, 0o755); err != nil {
		return err
	}
	docPath := filepath.Join(p.DocDir, run.Job.ID+".doc")
	if err := os.WriteFile(docPath, payload, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}

	// Stage 6: finalize.
	if err := run.Checkpoint(ctx); err != nil {
		return err
	}
	total := float64(totalSamples) / float64(rate)
	if err := p.History.Append(types.HistoryRecord{
		Agent:     run.Job.Agent,
		Filename:  run.Job.FileName,
		Duration:  total,
		Timestamp: time.Now(),
	}); err != nil {
		log.WithError(err).Warn("history append failed")
	}

	// Release the source audio: the uploaded file is no longer needed.
	if err := os.Remove(run.Job.SourcePath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("source cleanup failed")
	}

	p.Jobs.UpdateJob(run.Job.ID, func(j *types.Job) {
		j.Progress = 100
		j.ProgressStep = "complete"
		j.StatusText = "Finalizado"
		j.DocPath = docPath
		j.Duration = total
		j.SourcePath = ""
	})
	log.WithField("duration_s", total).Info("job finished")
	return nil
}

func (p *Pipeline) update(id string, progress int, step, text string) {
	p.Jobs.UpdateJob(id, func(j *types.Job) {
		j.Progress = progress
		j.ProgressStep = step
		j.StatusText = text
	})
}
