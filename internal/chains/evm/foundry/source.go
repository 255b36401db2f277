package foundry

import (
	"context"
	"log/slog"
	"sync"
)

// Source is a flattened contract source with the settings it was built with.
type Source struct {
	Code     string
	Metadata Metadata
}

// Sources flattens sources and reads artifacts for a project, caching the
// flattened text per source file so a run flattens each file once.
type Sources struct {
	project   *Project
	flattener *Flattener
	logger    *slog.Logger

	mu        sync.Mutex
	flattened map[string]string
}

// NewSources creates a source provider for project.
func NewSources(project *Project, flattener *Flattener, logger *slog.Logger) *Sources {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sources{
		project:   project,
		flattener: flattener,
		logger:    logger,
		flattened: make(map[string]string),
	}
}

// Source returns the flattened source of sourcePath together with the
// compiler metadata of contract.
func (s *Sources) Source(ctx context.Context, sourcePath, contract string) (Source, error) {
	code, err := s.flatten(ctx, sourcePath)
	if err != nil {
		return Source{}, err
	}

	artifact, err := ReadArtifact(s.project.ArtifactPath(sourcePath, contract))
	if err != nil {
		return Source{}, err
	}
	meta, err := artifact.ContractMetadata(sourcePath)
	if err != nil {
		return Source{}, err
	}

	return Source{Code: code, Metadata: meta}, nil
}

func (s *Sources) flatten(ctx context.Context, sourcePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.flattened[sourcePath]; ok {
		return code, nil
	}

	s.logger.Info("flattening source", "source", sourcePath)
	code, err := s.flattener.Flatten(ctx, sourcePath)
	if err != nil {
		return "", err
	}
	s.flattened[sourcePath] = code
	return code, nil
}
