package skills

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads skills when markdown files in the watched directories
// change and hands the new set to a callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dirs     []string
	onReload func(*Set)
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	mu       sync.Mutex
}

// NewWatcher watches every existing directory in dirs. Directories are
// created when missing so a user can drop files in later.
func NewWatcher(dirs []string, onReload func(*Set)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("cannot create skills directory")
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}

	log.Debug().Strs("dirs", dirs).Msg("skills watcher initialized")

	return &Watcher{
		watcher:  w,
		dirs:     dirs,
		onReload: onReload,
		debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("skills watcher error")
		}
	}
}

func (w *Watcher) reload() {
	set, errs := Load(w.dirs)
	for _, err := range errs {
		log.Warn().Err(err).Msg("skill not loaded")
	}
	log.Info().Int("skills", set.Len()).Msg("skills reloaded")
	if w.onReload != nil {
		w.onReload(set)
	}
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
