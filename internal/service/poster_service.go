package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

const (
	posterFile          = "movie_poster.png"
	posterSize          = "1024x1024"
	posterSafetyRetries = 3
)

var ErrPosterNoTitle = errors.New("poster needs a story title")

// PosterService writes an image prompt for the story poster and has the
// media sidecar render it.
type PosterService struct {
	llm   client.TextCompleter
	media client.MediaRenderer
}

func NewPosterService(llm client.TextCompleter, media client.MediaRenderer) *PosterService {
	return &PosterService{llm: llm, media: media}
}

// GeneratePoster renders the poster for script into outputDir. When the
// image model rejects the prompt, the story context is filtered again and
// the render retried a bounded number of times.
func (s *PosterService) GeneratePoster(ctx context.Context, script *model.Script, outputDir string) (string, error) {
	if strings.TrimSpace(script.Title) == "" {
		return "", ErrPosterNoTitle
	}
	log := logger.L().With(zap.String("component", "service.poster"), zap.String("title", script.Title))

	storyContext, err := s.filterStory(ctx, script)
	if err != nil {
		return "", fmt.Errorf("filter story: %w", err)
	}

	out := filepath.Join(outputDir, posterFile)
	for attempt := 1; attempt <= posterSafetyRetries; attempt++ {
		res, err := s.media.RenderPoster(ctx, &client.PosterRenderRequest{
			Prompt:     buildPosterPrompt(script.Title, script.Style, storyContext),
			OutputPath: out,
			Size:       posterSize,
		})
		if err == nil {
			if res.OutputPath != "" {
				out = res.OutputPath
			}
			log.Info("poster.rendered", zap.String("path", out))
			return out, nil
		}
		if !errors.Is(err, client.ErrSafetyRejected) {
			return "", fmt.Errorf("render poster: %w", err)
		}

		log.Warn("poster.safety_rejected", zap.Int("attempt", attempt), zap.Int("max_attempts", posterSafetyRetries))
		storyContext, err = s.softenContext(ctx, storyContext)
		if err != nil {
			return "", fmt.Errorf("filter rejected context: %w", err)
		}
	}
	return "", fmt.Errorf("render poster: %w after %d filtering attempts", client.ErrSafetyRejected, posterSafetyRetries)
}

type filteredStory struct {
	Style string `json:"style"`
	Title string `json:"title"`
	Story string `json:"story"`
}

// filterStory condenses the story into image-safe poster context.
func (s *PosterService) filterStory(ctx context.Context, script *model.Script) (string, error) {
	story := strings.Join(script.Story, " ")
	if s.llm == nil || !s.llm.IsConfigured() {
		return story, nil
	}

	input, err := json.Marshal(filteredStory{Style: script.Style, Title: script.Title, Story: story})
	if err != nil {
		return "", err
	}
	response, err := s.llm.ChatCompletion(ctx, posterSystemPrompt, fmt.Sprintf(`Rewrite this story as a short visual description for a movie poster.
Remove anything violent, explicit or otherwise unsuitable for an image generator, keeping the setting and characters.

%s

Output as JSON: {"style": "style here", "title": "title here", "story": "filtered story here"}`, input))
	if err != nil {
		return "", err
	}
	return parseFilteredStory(response)
}

func (s *PosterService) softenContext(ctx context.Context, storyContext string) (string, error) {
	if s.llm == nil || !s.llm.IsConfigured() {
		return "", errors.New("no LLM configured to filter content")
	}
	response, err := s.llm.ChatCompletion(ctx, posterSystemPrompt, fmt.Sprintf(`An image generator rejected a prompt built from this description.
Rewrite it so it is safe for any audience while keeping the scene recognizable.

%s

Output as JSON: {"story": "rewritten description here"}`, storyContext))
	if err != nil {
		return "", err
	}
	return parseFilteredStory(response)
}

const posterSystemPrompt = `You prepare story text for image generation models.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`

func parseFilteredStory(response string) (string, error) {
	var fs filteredStory
	if err := json.Unmarshal([]byte(extractJSON(response)), &fs); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}
	fs.Story = strings.TrimSpace(fs.Story)
	if fs.Story == "" {
		return "", errors.New("no story in response")
	}
	return fs.Story, nil
}

func buildPosterPrompt(title, style, storyContext string) string {
	return fmt.Sprintf("Create a movie poster for the story titled '%s' with the style of %s and context: %s.", title, style, storyContext)
}
