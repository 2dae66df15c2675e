package reload

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/store"
)

// FileSource reads configuration from a local file and watches it with
// fsnotify.
type FileSource struct {
	Path string
}

func (f FileSource) Read(_ context.Context) (string, error) {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (f FileSource) Watch() (<-chan struct{}, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("reload: create file watcher: %w", err)
	}
	if err := watcher.Add(f.Path); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("reload: watch %s: %w", f.Path, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return ch, func() { watcher.Close() }, nil
}

// KVSource reads configuration from an external KV collaborator's key,
// used for poll-only reload (no file-change watch).
type KVSource struct {
	KV  store.KVStore
	Key string
}

func (k KVSource) Read(ctx context.Context) (string, error) {
	raw, ok, err := k.KV.GetValue(ctx, k.Key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("reload: key %q not found", k.Key)
	}
	return raw, nil
}

func (k KVSource) Watch() (<-chan struct{}, func(), error) {
	return nil, nil, nil
}
