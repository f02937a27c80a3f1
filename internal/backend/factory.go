package backend

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

// Kind selects the backend set built at startup.
type Kind int

const (
	// KindSuno uses the hosted Suno API with FoxAI as fallback.
	KindSuno Kind = iota
	// KindMeta uses the local MusicGen sidecar without fallback.
	KindMeta
	// KindFoxAI uses FoxAI alone.
	KindFoxAI
)

func (k Kind) String() string {
	switch k {
	case KindSuno:
		return "suno"
	case KindMeta:
		return "meta"
	case KindFoxAI:
		return "foxai"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a configured backend name. An empty name means suno.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "suno":
		return KindSuno, nil
	case "meta", "musicgen":
		return KindMeta, nil
	case "foxai":
		return KindFoxAI, nil
	}
	return 0, fmt.Errorf("unknown music backend %q", s)
}

// Set is a primary backend and an optional fallback.
type Set struct {
	Primary  Backend
	Fallback Backend
}

// Deps are the collaborators shared by backend adapters.
type Deps struct {
	StartTimes StartTimes
	Lyrics     LyricWriter
	Transport  TransportConfig
}

// NewSet builds the backends for kind.
func NewSet(kind Kind, cfg *config.Config, deps Deps) (*Set, error) {
	if deps.StartTimes == nil {
		deps.StartTimes = NewMemoryStartTimes(cfg.Music.StartTimeExpiry)
	}

	var set *Set
	switch kind {
	case KindSuno:
		set = &Set{Primary: NewSunoAPI(cfg.Suno, deps.Transport, deps.StartTimes)}
		if cfg.FoxAI.APIKey != "" {
			set.Fallback = NewFoxAI(cfg.FoxAI, deps.Transport, deps.StartTimes, deps.Lyrics)
		} else {
			logger.L().Warn("backend.fallback_disabled", zap.String("reason", "foxai api key is not set"))
		}
	case KindMeta:
		set = &Set{Primary: NewMusicGen(cfg.MusicGen, deps.Transport)}
	case KindFoxAI:
		set = &Set{Primary: NewFoxAI(cfg.FoxAI, deps.Transport, deps.StartTimes, deps.Lyrics)}
	default:
		return nil, fmt.Errorf("unsupported music backend %v", kind)
	}

	fallback := ""
	if set.Fallback != nil {
		fallback = set.Fallback.Name()
	}
	logger.L().Info("backend.initialized",
		zap.String("kind", kind.String()),
		zap.String("primary", set.Primary.Name()),
		zap.String("fallback", fallback),
	)
	return set, nil
}
