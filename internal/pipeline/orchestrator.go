// Package pipeline fans the tasks of one script out onto a bounded worker
// pool and reassembles their results in script order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

// ErrEmptyScript is returned when a script has no sentences.
var ErrEmptyScript = errors.New("script has no story sentences")

var errNoArtifact = errors.New("task produced no artifact")

// SegmentSynthesizer renders one sentence into a video segment.
type SegmentSynthesizer interface {
	Synthesize(ctx context.Context, in model.SegmentInput) (string, error)
}

// PosterGenerator renders the story poster.
type PosterGenerator interface {
	GeneratePoster(ctx context.Context, script *model.Script, outputDir string) (string, error)
}

// MusicProvider resolves the background score and closing credits.
type MusicProvider interface {
	BackgroundMusic(ctx context.Context, script *model.Script, outputDir string) (string, error)
	ClosingCredits(ctx context.Context, script *model.Script, outputDir string) (path, lyrics string, err error)
}

// Observer is told about every finished task. Calls are serialized.
type Observer func(model.TaskEvent)

// Orchestrator runs every task of a script concurrently. Posters and music
// are optional collaborators; a nil one skips its task.
type Orchestrator struct {
	segments SegmentSynthesizer
	posters  PosterGenerator
	music    MusicProvider
}

func NewOrchestrator(segments SegmentSynthesizer, posters PosterGenerator, music MusicProvider) *Orchestrator {
	return &Orchestrator{segments: segments, posters: posters, music: music}
}

type taskOutput struct {
	path   string
	lyrics string
}

type submitted struct {
	kind        model.TaskKind
	criticality model.Criticality
	index       int
	task        pond.Result[taskOutput]
}

// Run produces every artifact of script under outputDir. Failed segments
// are dropped and the rest returned in script order. When no segment
// survives the result is empty; that is the only failure a caller needs to
// check. Auxiliary failures only leave their field empty. Tasks outlive a
// cancelled ctx and finish on their own retry budgets.
func (o *Orchestrator) Run(ctx context.Context, script *model.Script, outputDir string, observe Observer) (*model.PipelineResult, error) {
	if script == nil || len(script.Story) == 0 {
		return nil, ErrEmptyScript
	}
	total := len(script.Story)
	log := logger.L().With(zap.String("component", "pipeline"), zap.Int("segments", total))
	ctx = context.WithoutCancel(ctx)

	// One worker per task: every task blocks in its own poll loop, so no
	// task may wait for a worker held by another.
	pool := pond.NewResultPool[taskOutput](total + 2)
	defer pool.StopAndWait()

	var (
		tasks    []submitted
		notifyMu sync.Mutex
		finished int
	)
	taskCount := o.countTasks(script)
	submit := func(kind model.TaskKind, index int, fn func() (taskOutput, error)) {
		t := pool.SubmitErr(func() (out taskOutput, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s task panicked: %v", kind, r)
				}
				if err == nil && out.path == "" {
					err = errNoArtifact
				}
				if observe != nil {
					notifyMu.Lock()
					finished++
					observe(model.TaskEvent{Kind: kind, Index: index, Success: err == nil, Finished: finished, Total: taskCount})
					notifyMu.Unlock()
				}
			}()
			return fn()
		})
		tasks = append(tasks, submitted{kind: kind, criticality: model.CriticalityOf(kind), index: index, task: t})
	}

	if o.posters != nil && strings.TrimSpace(script.Title) != "" {
		submit(model.TaskPoster, -1, func() (taskOutput, error) {
			path, err := o.posters.GeneratePoster(ctx, script, outputDir)
			return taskOutput{path: path}, err
		})
	}
	if o.music != nil && script.BackgroundMusic != nil {
		submit(model.TaskBackgroundMusic, -1, func() (taskOutput, error) {
			path, err := o.music.BackgroundMusic(ctx, script, outputDir)
			return taskOutput{path: path}, err
		})
	}
	if o.music != nil && script.ClosingCredits != nil {
		submit(model.TaskClosingCredits, -1, func() (taskOutput, error) {
			path, lyrics, err := o.music.ClosingCredits(ctx, script, outputDir)
			return taskOutput{path: path, lyrics: lyrics}, err
		})
	}
	for i, sentence := range script.Story {
		in := model.SegmentInput{
			Index:              i,
			Total:              total,
			Sentence:           sentence,
			Style:              script.Style,
			CaptionStyle:       script.CaptionStyle,
			PreloadedImagesDir: script.PreloadedImagesDir,
			OutputDir:          outputDir,
		}
		submit(model.TaskSegment, i, func() (taskOutput, error) {
			path, err := o.segments.Synthesize(ctx, in)
			return taskOutput{path: path}, err
		})
	}

	type indexed struct {
		index int
		path  string
	}
	var (
		res      = &model.PipelineResult{}
		segments []indexed
	)
	// Collect in submission order; a failure only affects its own task.
	for _, t := range tasks {
		out, err := t.task.Wait()
		if err != nil {
			fields := []zap.Field{zap.String("kind", string(t.kind)), zap.Error(err)}
			if t.criticality == model.Required {
				log.Error("pipeline.segment_failed", append(fields, zap.Int("index", t.index))...)
			} else {
				log.Warn("pipeline.optional_task_failed", fields...)
			}
			continue
		}

		switch t.kind {
		case model.TaskPoster:
			res.Poster = out.path
		case model.TaskBackgroundMusic:
			res.BackgroundMusic = out.path
		case model.TaskClosingCredits:
			res.ClosingCredits = out.path
			res.ClosingLyrics = out.lyrics
		case model.TaskSegment:
			segments = append(segments, indexed{index: t.index, path: out.path})
		}
	}

	if len(segments) == 0 {
		log.Error("pipeline.all_segments_failed")
		return &model.PipelineResult{}, nil
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].index < segments[j].index })
	res.Segments = make([]string, len(segments))
	for i, s := range segments {
		res.Segments[i] = s.path
	}

	log.Info("pipeline.completed",
		zap.Int("succeeded", len(res.Segments)),
		zap.Bool("poster", res.Poster != ""),
		zap.Bool("background_music", res.BackgroundMusic != ""),
		zap.Bool("closing_credits", res.ClosingCredits != ""),
	)
	return res, nil
}

func (o *Orchestrator) countTasks(script *model.Script) int {
	n := len(script.Story)
	if o.posters != nil && strings.TrimSpace(script.Title) != "" {
		n++
	}
	if o.music != nil && script.BackgroundMusic != nil {
		n++
	}
	if o.music != nil && script.ClosingCredits != nil {
		n++
	}
	return n
}
