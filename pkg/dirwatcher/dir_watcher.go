// Package dirwatcher notifies on changes to the upstream config
// directory. It is observability-only: UpstreamRegistry's own file reads
// and writes remain the source of truth, but an operator editing files
// by hand (outside an invoke) should be visible in the logs.
//
// Adapted from the teacher's fsnotify-based credential watcher,
// generalized from a single "..data" symlink-swap check (the kubelet
// secret-volume update pattern) to a plain any-event watch over an
// arbitrary directory.
package dirwatcher

import (
	"context"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DirWatcher watches watchPath for filesystem events and reports them on
// EventChan.
type DirWatcher struct {
	watchPath string
	EventChan chan<- fsnotify.Event
	ErrorChan chan<- error
}

// New constructs a DirWatcher instance.
func New(watchPath string, eventCh chan<- fsnotify.Event, errCh chan<- error) *DirWatcher {
	return &DirWatcher{watchPath, eventCh, errCh}
}

// StartWatching blocks, forwarding filesystem events until ctx is
// canceled or the watcher errors out.
func (dw *DirWatcher) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dw.watchPath); err != nil {
		return err
	}

	for {
		select {
		case event := <-watcher.Events:
			log.Debugf("upstream config dir event: %v", event)
			dw.EventChan <- event
		case err := <-watcher.Errors:
			dw.ErrorChan <- err
			log.Warnf("error watching %s: %s", dw.watchPath, err)
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Watch starts a DirWatcher in the background and invokes onChange for
// every observed event. Watcher errors are logged, never propagated:
// losing the filesystem watch should not take the broker down, since
// UpstreamRegistry's own reload path does not depend on it.
func Watch(ctx context.Context, path string, onChange func(fsnotify.Event)) {
	eventCh := make(chan fsnotify.Event)
	errorCh := make(chan error)

	dw := New(path, eventCh, errorCh)
	go func() {
		if err := dw.StartWatching(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("upstream config watcher stopped: %s", err)
		}
	}()

	go func() {
		for {
			select {
			case event := <-eventCh:
				onChange(event)
			case err := <-errorCh:
				log.Warnf("upstream config watcher error: %s", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}
