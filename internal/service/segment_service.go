package service

import (
	"context"
	"fmt"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
)

// SegmentService turns one story sentence into a narrated video segment
// through the media sidecar.
type SegmentService struct {
	media client.MediaRenderer
}

func NewSegmentService(media client.MediaRenderer) *SegmentService {
	return &SegmentService{media: media}
}

// Synthesize renders in and returns the segment path.
func (s *SegmentService) Synthesize(ctx context.Context, in model.SegmentInput) (string, error) {
	res, err := s.media.RenderSegment(ctx, &client.SegmentRenderRequest{
		Index:              in.Index,
		Total:              in.Total,
		Sentence:           in.Sentence,
		Style:              in.Style,
		Context:            in.Context,
		CaptionStyle:       in.CaptionStyle,
		PreloadedImagesDir: in.PreloadedImagesDir,
		OutputDir:          in.OutputDir,
	})
	if err != nil {
		return "", fmt.Errorf("segment %d: %w", in.Index, err)
	}
	return res.OutputPath, nil
}
