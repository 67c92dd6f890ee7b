package agentregistry

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stoneforge-ai/stoneforge/internal/domain"
)

// ManifestEntry is one agent definition in an on-disk registration manifest.
type ManifestEntry struct {
	Name     string          `yaml:"name"`
	Role     string          `yaml:"role"`
	Mode     string          `yaml:"mode,omitempty"`     // worker only
	Focus    string          `yaml:"focus,omitempty"`    // steward only
	Triggers []ManifestEntryTrigger `yaml:"triggers,omitempty"`
}

// ManifestEntryTrigger is one trigger in a manifest steward entry.
type ManifestEntryTrigger struct {
	Type      string `yaml:"type"`
	Schedule  string `yaml:"schedule,omitempty"`
	Event     string `yaml:"event,omitempty"`
	Condition string `yaml:"condition,omitempty"`
}

type manifestFile struct {
	Agents []ManifestEntry `yaml:"agents"`
}

// LoadFromFile reads a YAML manifest of agent definitions and registers each
// idempotently. Per-entry failures are logged and skipped rather than
// aborting the whole batch; the error count is returned for the caller to
// surface.
func (r *Registry) LoadFromFile(ctx context.Context, path string) (registered int, failed int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read manifest: %w", err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return 0, 0, fmt.Errorf("parse manifest: %w", err)
	}

	for _, entry := range mf.Agents {
		if _, regErr := r.registerFromManifest(ctx, entry); regErr != nil {
			r.logger.Warn("skipping invalid agent manifest entry",
				zap.String("name", entry.Name), zap.Error(regErr))
			failed++
			continue
		}
		registered++
	}
	return registered, failed, nil
}

func (r *Registry) registerFromManifest(ctx context.Context, entry ManifestEntry) (interface{}, error) {
	switch entry.Role {
	case "director":
		return r.RegisterDirector(ctx, entry.Name)
	case "worker":
		return r.RegisterWorker(ctx, entry.Name, workerModeOf(entry.Mode))
	case "steward":
		return r.RegisterSteward(ctx, entry.Name, stewardFocusOf(entry.Focus), triggersOf(entry.Triggers))
	default:
		return nil, fmt.Errorf("unknown role %q", entry.Role)
	}
}

func workerModeOf(mode string) domain.WorkerMode {
	if mode == string(domain.WorkerPersistent) {
		return domain.WorkerPersistent
	}
	return domain.WorkerEphemeral
}

func stewardFocusOf(focus string) domain.StewardFocus {
	switch domain.StewardFocus(focus) {
	case domain.StewardMerge, domain.StewardDocs:
		return domain.StewardFocus(focus)
	default:
		return domain.StewardCustom
	}
}

func triggersOf(entries []ManifestEntryTrigger) []domain.Trigger {
	triggers := make([]domain.Trigger, 0, len(entries))
	for _, e := range entries {
		triggers = append(triggers, domain.Trigger{
			Type:      domain.TriggerType(e.Type),
			Schedule:  e.Schedule,
			Event:     e.Event,
			Condition: e.Condition,
		})
	}
	return triggers
}
