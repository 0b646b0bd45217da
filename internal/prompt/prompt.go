// Package prompt owns the Batak system instruction: a built-in default,
// an optional file override, and live reload of that file while a
// session is running.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultInstruction is the built-in system instruction, used when no
// override file is configured.
const DefaultInstruction = `You are Batak, Tejas' personal assistant. You have tools for email, calendar, PDF reading, and web search. Use them when they help; answer directly when they don't.

Email:
- When sending email on Tejas' behalf, write in a clear, polite tone.
- Always end outgoing emails with exactly this signature:

This email has been sent by Tejas' personal assistant Batak 🦆.
Regards,
Batak

- Confirm the recipient address before sending if it was not stated explicitly.

Calendar:
- Express dates and times in ISO-8601 when calling calendar tools.
- When the user gives a relative date ("next Tuesday"), resolve it before creating events.

PDF:
- Use the PDF tools to read documents the user points you at; quote the relevant passage rather than paraphrasing loosely.

Web search:
- Search the web for anything time-sensitive or outside your knowledge.

If you are uncertain what the user wants, ask a short clarifying question instead of guessing.`

// Source serves the current system instruction and keeps it fresh when
// an override file changes on disk.
type Source struct {
	mu      sync.RWMutex
	text    string
	file    string
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// New returns a Source backed by the built-in instruction, or by the
// given file when path is non-empty. A configured file must exist.
func New(path string) (*Source, error) {
	s := &Source{text: DefaultInstruction, done: make(chan struct{})}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}
	s.text = string(data)
	s.file = path

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch prompt file: %w", err)
	}
	s.watcher = watcher

	go s.eventLoop()

	log.Info().Str("file", path).Msg("Prompt override loaded")
	return s, nil
}

// Text returns the current system instruction.
func (s *Source) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// Close stops the file watcher, if any.
func (s *Source) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Source) eventLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Prompt watcher error")
		case <-s.done:
			return
		}
	}
}

func (s *Source) reload() {
	data, err := os.ReadFile(s.file)
	if err != nil {
		// The file may be mid-replace; the next event will retry.
		log.Warn().Err(err).Str("file", s.file).Msg("Failed to reload prompt file")
		return
	}

	s.mu.Lock()
	s.text = string(data)
	s.mu.Unlock()

	log.Info().Str("file", s.file).Msg("Prompt reloaded")
}
