package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

const (
	wordsPerSecond         = 2.5
	minBackgroundDuration  = 30
	maxBackgroundDuration  = 240
	closingCreditsDuration = 60

	backgroundMusicFile = "background_music.mp3"
	closingCreditsFile  = "closing_credits.mp3"
)

var (
	ErrMusicSourceMissing   = errors.New("music source needs a file or a prompt")
	ErrMusicSourceAmbiguous = errors.New("music source cannot have both a file and a prompt")
	ErrNotAudio             = errors.New("file is not a valid audio file")
	ErrMusicNotGenerated    = errors.New("music generation failed")
)

// Generator produces one audio artifact. MusicGenerator implements it.
type Generator interface {
	Generate(ctx context.Context, req *model.GenerationRequest, outputPath string) *model.GenerationResult
}

// MusicService resolves the background score and closing credits of a
// script, either from a provided file or by generation.
type MusicService struct {
	generator Generator
}

func NewMusicService(generator Generator) *MusicService {
	return &MusicService{generator: generator}
}

// ValidateSource checks that exactly one of file and prompt is set.
func ValidateSource(src *model.MusicSource) error {
	if src == nil || (src.File == "" && src.Prompt == "") {
		return ErrMusicSourceMissing
	}
	if src.File != "" && src.Prompt != "" {
		return ErrMusicSourceAmbiguous
	}
	return nil
}

// BackgroundMusic returns the path of the background score for script.
func (s *MusicService) BackgroundMusic(ctx context.Context, script *model.Script, outputDir string) (string, error) {
	src := script.BackgroundMusic
	if err := ValidateSource(src); err != nil {
		return "", fmt.Errorf("background music: %w", err)
	}
	if src.File != "" {
		if err := validateAudioFile(src.File); err != nil {
			return "", fmt.Errorf("background music: %w", err)
		}
		return src.File, nil
	}

	duration := EstimateBackgroundDuration(script.Story)
	logger.L().Info("music.background_requested",
		zap.String("prompt", src.Prompt),
		zap.Int("duration", duration),
	)
	res := s.generator.Generate(ctx, &model.GenerationRequest{
		Prompt:   src.Prompt,
		Duration: duration,
		Mode:     model.ModeInstrumental,
	}, filepath.Join(outputDir, backgroundMusicFile))
	if !res.Success {
		return "", fmt.Errorf("background music: %w", ErrMusicNotGenerated)
	}
	return res.AudioPath, nil
}

// ClosingCredits returns the closing credits track and, when it was
// generated, the lyrics sung in it.
func (s *MusicService) ClosingCredits(ctx context.Context, script *model.Script, outputDir string) (string, string, error) {
	src := script.ClosingCredits
	if err := ValidateSource(src); err != nil {
		return "", "", fmt.Errorf("closing credits: %w", err)
	}
	if src.File != "" {
		if err := validateAudioFile(src.File); err != nil {
			return "", "", fmt.Errorf("closing credits: %w", err)
		}
		return src.File, "", nil
	}

	res := s.generator.Generate(ctx, &model.GenerationRequest{
		Prompt:   src.Prompt,
		Title:    script.Title,
		Duration: closingCreditsDuration,
		Lyrics:   strings.Join(script.Story, "\n"),
		Mode:     model.ModeLyrical,
	}, filepath.Join(outputDir, closingCreditsFile))
	if !res.Success {
		return "", "", fmt.Errorf("closing credits: %w", ErrMusicNotGenerated)
	}
	return res.AudioPath, res.Lyrics, nil
}

// EstimateBackgroundDuration sizes the score to the narration length.
func EstimateBackgroundDuration(story []string) int {
	words := 0
	for _, sentence := range story {
		words += len(strings.Fields(sentence))
	}
	if words == 0 {
		return minBackgroundDuration
	}
	seconds := int(float64(words) / wordsPerSecond)
	if seconds < minBackgroundDuration {
		return minBackgroundDuration
	}
	if seconds > maxBackgroundDuration {
		return maxBackgroundDuration
	}
	return seconds
}

func validateAudioFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file not found at %s: %w", path, err)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect %s: %w", path, err)
	}
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (%s)", ErrNotAudio, path, mt.String())
}
