// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultNoResultsMessage is served when retrieval finds nothing and no
// message file is configured.
const DefaultNoResultsMessage = "I could not find anything relevant to your " +
	"question in the knowledge base."

// FallbackMessage serves the empty-bundle response text, hot-reloading it
// from a file when one is configured.
//
// # Thread Safety
//
// Get may be called concurrently with reloads; the text is guarded by a
// read-write mutex.
type FallbackMessage struct {
	mu      sync.RWMutex
	text    string
	path    string
	watcher *fsnotify.Watcher
}

// NewFallbackMessage loads the message from path and starts watching it for
// changes. An empty path yields the built-in default with no watcher.
func NewFallbackMessage(path string) (*FallbackMessage, error) {
	f := &FallbackMessage{
		text: DefaultNoResultsMessage,
		path: path,
	}
	if path == "" {
		return f, nil
	}

	if err := f.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback message watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch fallback message file: %w", err)
	}
	f.watcher = watcher

	go f.watchLoop()
	slog.Info("Watching no-results message file", "path", path)
	return f, nil
}

// Get returns the current message text.
func (f *FallbackMessage) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.text
}

// Close stops the file watcher. Safe to call when no watcher exists.
func (f *FallbackMessage) Close() error {
	if f.watcher == nil {
		return nil
	}
	return f.watcher.Close()
}

func (f *FallbackMessage) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read fallback message file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("fallback message file %s is empty", f.path)
	}

	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
	return nil
}

func (f *FallbackMessage) watchLoop() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := f.reload(); err != nil {
					slog.Warn("Failed to reload no-results message, keeping previous",
						"path", f.path, "error", err)
					continue
				}
				slog.Info("Reloaded no-results message", "path", f.path)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Fallback message watcher error", "error", err)
		}
	}
}
