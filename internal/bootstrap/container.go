package bootstrap

import (
	"time"

	"collab-notes-core/internal/config"
	"collab-notes-core/internal/entity"
	"collab-notes-core/internal/pkg/logger"
	"collab-notes-core/internal/repository/contract"
	"collab-notes-core/internal/repository/implementation"
	"collab-notes-core/internal/service"
	"collab-notes-core/internal/store"
	"collab-notes-core/pkg/events"
	pktNats "collab-notes-core/pkg/nats"
)

// Container wires the core components over one remote store.
type Container struct {
	Logger   logger.ILogger
	Identity service.IIdentityService
	Notes    contract.NoteRepository
	Gate     service.IAccessGate

	// Per-open-note components are built on demand.
	remote    store.RemoteStore
	debounce  time.Duration
	publisher events.Publisher
}

func NewContainer(remote store.RemoteStore, cfg *config.Config) *Container {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	var publisher events.Publisher
	if cfg.App.NatsURL != "" {
		if p, err := pktNats.NewPublisher(cfg.App.NatsURL); err != nil {
			sysLogger.Warn("Bootstrap", "NATS unavailable, lifecycle events disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			publisher = p
		}
	}

	identity := service.NewIdentityService(12 * time.Hour)
	notes := implementation.NewNoteRepository(remote, sysLogger, publisher, cfg.Notes.RetentionWindow)
	gate := service.NewAccessGate(notes, service.NewVerifierFromConfig(cfg.Notes), sysLogger)

	return &Container{
		Logger:    sysLogger,
		Identity:  identity,
		Notes:     notes,
		Gate:      gate,
		remote:    remote,
		debounce:  cfg.Notes.DebounceInterval,
		publisher: publisher,
	}
}

// NewDocumentSync builds a sync engine for one editor surface.
func (c *Container) NewDocumentSync(editor service.EditorSurface, onSaveFailed func(error)) service.IDocumentSync {
	return service.NewDocumentSync(c.remote, c.Logger, c.debounce, editor, onSaveFailed)
}

// NewPresenceTracker builds a tracker bound to the session identity.
func (c *Container) NewPresenceTracker(onRoster func([]entity.Presence)) service.IPresenceTracker {
	return service.NewPresenceTracker(c.remote, c.Identity, c.Logger, onRoster)
}
