package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"collab-notes-core/internal/apperror"
	"collab-notes-core/internal/constant"
	"collab-notes-core/internal/pkg/logger"
	"collab-notes-core/internal/store"
)

// EditorSurface is the text-editing widget boundary. The engine forces full
// content replaces into it; the widget reports local edits back through
// OnLocalEdit.
type EditorSurface interface {
	Replace(content string)
}

// EditorStats are the on-demand content counters surfaced next to the
// editor.
type EditorStats struct {
	Characters int `json:"characters"`
	Lines      int `json:"lines"`
}

// IDocumentSync keeps the editable buffer of exactly one open note
// consistent with its remote copy: remote snapshots are applied without
// echoing back as local edits, local edits are debounced into one outbound
// write, and edits on a locked note are kept on screen but never persisted.
type IDocumentSync interface {
	Open(ctx context.Context, noteId string) error
	OnLocalEdit(content string)
	Close()

	// SetWritable marks the note writable for this client after the
	// access gate granted read-write despite the lock flag.
	SetWritable(granted bool)

	Buffer() string
	Locked() bool
	Stats() EditorStats
}

type documentSync struct {
	remote       store.RemoteStore
	logger       logger.ILogger
	debounce     time.Duration
	editor       EditorSurface
	onSaveFailed func(error)
	now          func() int64

	mu           sync.Mutex
	writeCtx     context.Context
	noteId       string
	localBuffer  string
	suppressEcho bool
	locked       bool
	granted      bool
	pending      *time.Timer
	cancel       context.CancelFunc
	opened       bool
}

// NewDocumentSync builds a sync engine for one editor surface. editor and
// onSaveFailed are optional; a nil editor means the caller polls Buffer.
func NewDocumentSync(
	remote store.RemoteStore,
	log logger.ILogger,
	debounce time.Duration,
	editor EditorSurface,
	onSaveFailed func(error),
) IDocumentSync {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &documentSync{
		remote:       remote,
		logger:       log,
		debounce:     debounce,
		editor:       editor,
		onSaveFailed: onSaveFailed,
		now:          func() int64 { return time.Now().UnixMilli() },
	}
}

func (d *documentSync) Open(ctx context.Context, noteId string) error {
	d.Close()

	path := store.JoinPath(constant.NotesPath, noteId)
	sub, err := d.remote.Subscribe(ctx, path)
	if err != nil {
		return &apperror.RemoteSubscribeError{Path: path, Err: err}
	}

	openCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.noteId = noteId
	d.localBuffer = ""
	d.locked = false
	d.granted = false
	d.writeCtx = openCtx
	d.cancel = cancel
	d.opened = true
	d.mu.Unlock()

	go func() {
		defer sub.Cancel()
		for {
			select {
			case <-openCtx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				d.applyRemote(ev.Value)
			}
		}
	}()
	return nil
}

// applyRemote folds one remote snapshot in. A differing content replaces the
// local buffer as a full-content replace under echo suppression, so the
// widget's change callback is never mistaken for a local edit and re-sent.
func (d *documentSync) applyRemote(val store.Value) {
	content := ""
	locked := false
	if val != nil {
		if s, ok := val["content"].(string); ok {
			content = s
		}
		if b, ok := val["locked"].(bool); ok {
			locked = b
		}
	}

	d.mu.Lock()
	d.locked = locked
	if content == d.localBuffer {
		d.mu.Unlock()
		return
	}
	d.localBuffer = content
	d.suppressEcho = true
	editor := d.editor
	d.mu.Unlock()

	// The widget may call OnLocalEdit synchronously from Replace; the
	// suppress flag swallows that echo.
	if editor != nil {
		editor.Replace(content)
	}

	d.mu.Lock()
	d.suppressEcho = false
	d.mu.Unlock()
}

func (d *documentSync) OnLocalEdit(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened || d.suppressEcho {
		return
	}

	// The on-screen buffer always follows the user's typing; whether it
	// gets persisted is decided below.
	d.localBuffer = content

	if d.locked && !d.granted {
		return
	}

	if d.pending != nil {
		d.pending.Stop()
	}
	d.pending = time.AfterFunc(d.debounce, d.flush)
}

// flush sends the debounced write. Failure is non-fatal; further edits are
// the implicit retry path.
func (d *documentSync) flush() {
	d.mu.Lock()
	if !d.opened {
		d.mu.Unlock()
		return
	}
	ctx := d.writeCtx
	noteId := d.noteId
	path := store.JoinPath(constant.NotesPath, noteId)
	content := d.localBuffer
	d.pending = nil
	d.mu.Unlock()

	err := d.remote.Write(ctx, path, store.Value{
		"content":      content,
		"lastModified": d.now(),
	})
	if err != nil {
		werr := &apperror.RemoteWriteError{Path: path, Err: err}
		d.logger.Warn("DocumentSync", "Save failed", map[string]interface{}{
			"note_id": noteId,
			"error":   err.Error(),
		})
		if d.onSaveFailed != nil {
			d.onSaveFailed(werr)
		}
	}
}

// Close cancels the feed and any pending write. An edit made inside the
// last debounce window is dropped rather than flushed.
func (d *documentSync) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return
	}
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.opened = false
}

func (d *documentSync) SetWritable(granted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.granted = granted
}

func (d *documentSync) Buffer() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localBuffer
}

func (d *documentSync) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

func (d *documentSync) Stats() EditorStats {
	d.mu.Lock()
	buf := d.localBuffer
	d.mu.Unlock()

	stats := EditorStats{Characters: len([]rune(buf))}
	if buf != "" {
		stats.Lines = strings.Count(buf, "\n") + 1
	}
	return stats
}
