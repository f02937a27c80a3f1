package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

// LyricsService writes closing-credits lyrics from story text using Groq.
// It satisfies backend.LyricWriter.
type LyricsService struct {
	llm client.TextCompleter
}

// NewLyricsService creates a new lyrics service with a chat completion client
func NewLyricsService(llm client.TextCompleter) *LyricsService {
	return &LyricsService{llm: llm}
}

type songLyrics struct {
	Style  string `json:"style"`
	Lyrics string `json:"lyrics"`
}

// WriteLyrics returns a music style and song lyrics retelling story.
func (s *LyricsService) WriteLyrics(ctx context.Context, story string) (string, string, error) {
	story = strings.TrimSpace(story)
	if story == "" {
		return "", "", fmt.Errorf("story text is empty")
	}

	// Use mock response if client is not configured
	if s.llm == nil || !s.llm.IsConfigured() {
		logger.LegacyPrintf("service.lyrics", "[Lyrics] LLM not configured, using story text as lyrics")
		return "pop", story, nil
	}

	response, err := s.llm.ChatCompletion(ctx, lyricsSystemPrompt, buildLyricsPrompt(story))
	if err != nil {
		return "", "", fmt.Errorf("AI lyrics generation failed: %w", err)
	}

	song, err := parseLyricsResponse(response)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse AI response: %w", err)
	}
	return song.Style, song.Lyrics, nil
}

const lyricsSystemPrompt = `You are a professional songwriter.
Your task is to turn a short story into song lyrics that retell it, suitable for closing credits.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`

func buildLyricsPrompt(story string) string {
	return fmt.Sprintf(`Write song lyrics that tell the following story.
Keep them under 3000 characters, with verses and a chorus separated by blank lines.
Also pick a short music style (genre and mood, under 200 characters) that fits the story.

Story:
%s

Output as JSON: {"style": "style here", "lyrics": "lyrics here"}`, story)
}

func parseLyricsResponse(response string) (*songLyrics, error) {
	response = extractJSON(response)

	var song songLyrics
	if err := json.Unmarshal([]byte(response), &song); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	song.Lyrics = strings.TrimSpace(song.Lyrics)
	if song.Lyrics == "" {
		return nil, fmt.Errorf("no lyrics in response")
	}
	if song.Style == "" {
		song.Style = "pop"
	}
	return &song, nil
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}
