package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
)

type stubLLM struct {
	configured bool
	responses  []string
	err        error

	mu    sync.Mutex
	users []string
}

func (s *stubLLM) IsConfigured() bool { return s.configured }

func (s *stubLLM) ChatCompletion(_ context.Context, _, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, user)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return r, nil
}

func TestLyricsService_WriteLyrics(t *testing.T) {
	llm := &stubLLM{configured: true, responses: []string{
		"Sure! {\"style\": \"folk ballad\", \"lyrics\": \"A fox ran through the snow\\nAnd never looked back\"}",
	}}
	s := NewLyricsService(llm)

	style, lyrics, err := s.WriteLyrics(context.Background(), "A fox ran.\nThe end.")
	require.NoError(t, err)
	assert.Equal(t, "folk ballad", style)
	assert.Equal(t, "A fox ran through the snow\nAnd never looked back", lyrics)
	require.Len(t, llm.users, 1)
	assert.Contains(t, llm.users[0], "A fox ran.\nThe end.")
}

func TestLyricsService_Fallbacks(t *testing.T) {
	style, lyrics, err := NewLyricsService(&stubLLM{}).WriteLyrics(context.Background(), "story text")
	require.NoError(t, err)
	assert.Equal(t, "pop", style)
	assert.Equal(t, "story text", lyrics)

	_, _, err = NewLyricsService(nil).WriteLyrics(context.Background(), "  ")
	assert.Error(t, err)

	_, _, err = NewLyricsService(&stubLLM{configured: true, responses: []string{`{"style":"pop"}`}}).
		WriteLyrics(context.Background(), "story")
	assert.Error(t, err)
}

type stubGenerator struct {
	result *model.GenerationResult

	mu       sync.Mutex
	requests []*model.GenerationRequest
	outputs  []string
}

func (g *stubGenerator) Generate(_ context.Context, req *model.GenerationRequest, out string) *model.GenerationResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	g.outputs = append(g.outputs, out)
	if g.result == nil {
		return model.FailedResult()
	}
	return g.result
}

func TestValidateSource(t *testing.T) {
	assert.ErrorIs(t, ValidateSource(nil), ErrMusicSourceMissing)
	assert.ErrorIs(t, ValidateSource(&model.MusicSource{}), ErrMusicSourceMissing)
	assert.ErrorIs(t, ValidateSource(&model.MusicSource{File: "a.mp3", Prompt: "p"}), ErrMusicSourceAmbiguous)
	assert.NoError(t, ValidateSource(&model.MusicSource{File: "a.mp3"}))
	assert.NoError(t, ValidateSource(&model.MusicSource{Prompt: "p"}))
}

func TestEstimateBackgroundDuration(t *testing.T) {
	assert.Equal(t, 30, EstimateBackgroundDuration(nil))
	assert.Equal(t, 30, EstimateBackgroundDuration([]string{"short one"}))
	assert.Equal(t, 40, EstimateBackgroundDuration([]string{strings.Repeat("word ", 100)}))
	assert.Equal(t, 240, EstimateBackgroundDuration([]string{strings.Repeat("word ", 1000)}))
}

func TestMusicService_BackgroundFromPrompt(t *testing.T) {
	gen := &stubGenerator{result: &model.GenerationResult{AudioPath: "/out/background_music.mp3", Success: true}}
	s := NewMusicService(gen)

	path, err := s.BackgroundMusic(context.Background(), &model.Script{
		Story:           []string{strings.Repeat("word ", 200)},
		BackgroundMusic: &model.MusicSource{Prompt: "ambient pads"},
	}, "/out")
	require.NoError(t, err)
	assert.Equal(t, "/out/background_music.mp3", path)

	require.Len(t, gen.requests, 1)
	assert.Equal(t, model.ModeInstrumental, gen.requests[0].Mode)
	assert.Equal(t, 80, gen.requests[0].Duration)
	assert.Equal(t, filepath.Join("/out", "background_music.mp3"), gen.outputs[0])
}

func TestMusicService_BackgroundFromFile(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "score.mp3")
	require.NoError(t, os.WriteFile(audio, append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...), 0o644))
	text := filepath.Join(dir, "notes.mp3")
	require.NoError(t, os.WriteFile(text, []byte("just some plain text"), 0o644))

	gen := &stubGenerator{}
	s := NewMusicService(gen)

	path, err := s.BackgroundMusic(context.Background(), &model.Script{BackgroundMusic: &model.MusicSource{File: audio}}, dir)
	require.NoError(t, err)
	assert.Equal(t, audio, path)

	_, err = s.BackgroundMusic(context.Background(), &model.Script{BackgroundMusic: &model.MusicSource{File: text}}, dir)
	assert.ErrorIs(t, err, ErrNotAudio)

	_, err = s.BackgroundMusic(context.Background(), &model.Script{BackgroundMusic: &model.MusicSource{File: filepath.Join(dir, "missing.mp3")}}, dir)
	assert.Error(t, err)
	assert.Empty(t, gen.requests)
}

func TestMusicService_ClosingCredits(t *testing.T) {
	gen := &stubGenerator{result: &model.GenerationResult{AudioPath: "/out/closing_credits.mp3", Lyrics: "la la", Success: true}}
	s := NewMusicService(gen)

	path, lyrics, err := s.ClosingCredits(context.Background(), &model.Script{
		Title:          "The Fox",
		Story:          []string{"A fox ran.", "The end."},
		ClosingCredits: &model.MusicSource{Prompt: "upbeat folk"},
	}, "/out")
	require.NoError(t, err)
	assert.Equal(t, "/out/closing_credits.mp3", path)
	assert.Equal(t, "la la", lyrics)

	req := gen.requests[0]
	assert.Equal(t, model.ModeLyrical, req.Mode)
	assert.Equal(t, "A fox ran.\nThe end.", req.Lyrics)
	assert.Equal(t, 60, req.Duration)
	assert.Equal(t, "The Fox", req.Title)
}

func TestMusicService_GenerationFailure(t *testing.T) {
	s := NewMusicService(&stubGenerator{})
	_, _, err := s.ClosingCredits(context.Background(), &model.Script{
		ClosingCredits: &model.MusicSource{Prompt: "p"},
	}, "/out")
	assert.ErrorIs(t, err, ErrMusicNotGenerated)

	_, _, err = s.ClosingCredits(context.Background(), &model.Script{
		ClosingCredits: &model.MusicSource{Prompt: "p", File: "f.mp3"},
	}, "/out")
	assert.ErrorIs(t, err, ErrMusicSourceAmbiguous)
}

type stubMedia struct {
	posterErrs []error

	mu      sync.Mutex
	prompts []string
}

func (m *stubMedia) RenderSegment(_ context.Context, req *client.SegmentRenderRequest) (*client.SegmentRenderResponse, error) {
	if strings.Contains(req.Sentence, "fail") {
		return nil, errors.New("render failed")
	}
	return &client.SegmentRenderResponse{Index: req.Index, OutputPath: filepath.Join(req.OutputDir, "segment.mp4")}, nil
}

func (m *stubMedia) RenderPoster(_ context.Context, req *client.PosterRenderRequest) (*client.PosterRenderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, req.Prompt)
	if len(m.posterErrs) > 0 {
		err := m.posterErrs[0]
		m.posterErrs = m.posterErrs[1:]
		return nil, err
	}
	return &client.PosterRenderResponse{OutputPath: req.OutputPath}, nil
}

func (m *stubMedia) HealthCheck(context.Context) error { return nil }

func TestPosterService_RendersFilteredPrompt(t *testing.T) {
	llm := &stubLLM{configured: true, responses: []string{`{"style":"noir","title":"The Fox","story":"a fox in the snow"}`}}
	media := &stubMedia{}
	s := NewPosterService(llm, media)

	path, err := s.GeneratePoster(context.Background(), &model.Script{
		Title: "The Fox", Style: "noir", Story: []string{"A fox ran."},
	}, "/out")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "movie_poster.png"), path)
	require.Len(t, media.prompts, 1)
	assert.Equal(t, "Create a movie poster for the story titled 'The Fox' with the style of noir and context: a fox in the snow.", media.prompts[0])
}

func TestPosterService_SafetyRejectionRefilters(t *testing.T) {
	llm := &stubLLM{configured: true, responses: []string{
		`{"story":"a grim fox"}`,
		`{"story":"a friendly fox"}`,
	}}
	media := &stubMedia{posterErrs: []error{client.ErrSafetyRejected}}
	s := NewPosterService(llm, media)

	_, err := s.GeneratePoster(context.Background(), &model.Script{Title: "T", Style: "s", Story: []string{"x"}}, "/out")
	require.NoError(t, err)
	require.Len(t, media.prompts, 2)
	assert.Contains(t, media.prompts[1], "a friendly fox")
}

func TestPosterService_GivesUpAfterSafetyRetries(t *testing.T) {
	llm := &stubLLM{configured: true, responses: []string{`{"story":"still grim"}`}}
	media := &stubMedia{posterErrs: []error{client.ErrSafetyRejected, client.ErrSafetyRejected, client.ErrSafetyRejected}}
	s := NewPosterService(llm, media)

	_, err := s.GeneratePoster(context.Background(), &model.Script{Title: "T", Style: "s", Story: []string{"x"}}, "/out")
	assert.ErrorIs(t, err, client.ErrSafetyRejected)
	assert.Len(t, media.prompts, posterSafetyRetries)

	_, err = s.GeneratePoster(context.Background(), &model.Script{Style: "s", Story: []string{"x"}}, "/out")
	assert.ErrorIs(t, err, ErrPosterNoTitle)
}

func TestSegmentService_Synthesize(t *testing.T) {
	s := NewSegmentService(&stubMedia{})
	path, err := s.Synthesize(context.Background(), model.SegmentInput{Index: 1, Sentence: "ok", OutputDir: "/out"})
	require.NoError(t, err)
	assert.Equal(t, "/out/segment.mp4", path)

	_, err = s.Synthesize(context.Background(), model.SegmentInput{Index: 2, Sentence: "fail"})
	assert.ErrorContains(t, err, "segment 2")
}

type memStorage struct {
	failOn  string
	objects map[string][]byte
	deleted []string
}

func (m *memStorage) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	if key == m.failOn {
		return "", errors.New("upload failed")
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return "", err
	}
	m.objects[key] = buf.Bytes()
	return "https://cdn.example.com/" + key, nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	delete(m.objects, key)
	return nil
}

func writeArtifacts(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(paths[i], []byte(n), 0o644))
	}
	return paths
}

func TestPublisher_LocalPaths(t *testing.T) {
	p := NewPublisher(nil)
	res, err := p.Publish(context.Background(), "job-1", 3, &model.PipelineResult{
		Segments: []string{"/out/a.mp4", "/out/b.mp4"},
		Poster:   "/out/movie_poster.png",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/a.mp4", "/out/b.mp4"}, res.Segments)
	assert.Equal(t, 3, res.SegmentsTotal)
	assert.Equal(t, "/out/movie_poster.png", res.Poster)
	assert.Empty(t, res.BackgroundMusic)
}

func TestPublisher_UploadsArtifacts(t *testing.T) {
	paths := writeArtifacts(t, "segment_0.mp4", "segment_1.mp4", "background_music.mp3")
	store := &memStorage{objects: map[string][]byte{}}
	p := NewPublisher(store)

	res, err := p.Publish(context.Background(), "job-1", 2, &model.PipelineResult{
		Segments:        paths[:2],
		BackgroundMusic: paths[2],
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://cdn.example.com/stories/job-1/segment_0.mp4",
		"https://cdn.example.com/stories/job-1/segment_1.mp4",
	}, res.Segments)
	assert.Equal(t, "https://cdn.example.com/stories/job-1/background_music.mp3", res.BackgroundMusic)
	assert.Empty(t, res.Poster)
	assert.Len(t, store.objects, 3)
}

func TestPublisher_RollsBackOnFailure(t *testing.T) {
	paths := writeArtifacts(t, "segment_0.mp4", "segment_1.mp4")
	store := &memStorage{objects: map[string][]byte{}, failOn: "stories/job-1/segment_1.mp4"}
	p := NewPublisher(store)

	_, err := p.Publish(context.Background(), "job-1", 2, &model.PipelineResult{Segments: paths})
	require.Error(t, err)
	assert.Equal(t, []string{"stories/job-1/segment_0.mp4"}, store.deleted)
	assert.Empty(t, store.objects)
}
