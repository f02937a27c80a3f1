package model

// CaptionStyle controls how the media service burns captions into a segment.
type CaptionStyle string

const (
	CaptionStatic  CaptionStyle = "static"
	CaptionDynamic CaptionStyle = "dynamic"
)

// MusicSource describes where a music track comes from: an existing file or
// a generation prompt. Exactly one must be set.
type MusicSource struct {
	File   string `json:"file,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// Script is a narrative to turn into media. Each sentence becomes one segment.
type Script struct {
	Title              string       `json:"title" validate:"max=200"`
	Style              string       `json:"style" validate:"required,max=500"`
	Story              []string     `json:"story" validate:"required,min=1,max=200,dive,required,max=2000"`
	CaptionStyle       CaptionStyle `json:"captionStyle,omitempty" validate:"omitempty,oneof=static dynamic"`
	BackgroundMusic    *MusicSource `json:"backgroundMusic,omitempty"`
	ClosingCredits     *MusicSource `json:"closingCredits,omitempty"`
	PreloadedImagesDir string       `json:"preloadedImagesDir,omitempty"`
}

// SegmentInput is the unit of work handed to the segment synthesizer.
type SegmentInput struct {
	Index              int
	Total              int
	Sentence           string
	Style              string
	Context            string
	CaptionStyle       CaptionStyle
	PreloadedImagesDir string
	OutputDir          string
}

// TaskKind names one kind of pipeline task.
type TaskKind string

const (
	TaskPoster          TaskKind = "poster"
	TaskBackgroundMusic TaskKind = "background_music"
	TaskClosingCredits  TaskKind = "closing_credits"
	TaskSegment         TaskKind = "segment"
)

// Criticality decides whether a task failure can fail the pipeline.
type Criticality string

const (
	Required Criticality = "required"
	Optional Criticality = "optional"
)

// CriticalityOf returns the fixed criticality of a task kind. Segments are
// required in aggregate; a single failed segment is still tolerated.
func CriticalityOf(kind TaskKind) Criticality {
	if kind == TaskSegment {
		return Required
	}
	return Optional
}

// PipelineResult is the best-effort output of one pipeline run. Empty
// strings stand for artifacts that could not be produced. An empty Segments
// slice means the run failed as a whole.
type PipelineResult struct {
	Segments        []string `json:"segments"`
	BackgroundMusic string   `json:"backgroundMusic,omitempty"`
	ClosingCredits  string   `json:"closingCredits,omitempty"`
	Poster          string   `json:"poster,omitempty"`
	ClosingLyrics   string   `json:"closingLyrics,omitempty"`
}

// Failed reports whether no segment survived.
func (r *PipelineResult) Failed() bool {
	return r == nil || len(r.Segments) == 0
}

// TaskEvent is emitted once per finished pipeline task.
type TaskEvent struct {
	Kind     TaskKind
	Index    int // segment index, -1 for auxiliary tasks
	Success  bool
	Finished int
	Total    int
}
