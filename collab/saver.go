package collab

import (
	"context"
	"time"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

const saveTimeout = 10 * time.Second

// saver debounces persistence of room content. It holds at most one pending
// timer: every content change replaces the previous one rather than stacking.
// All fields are confined to the room loop; only the timer callback runs
// outside it, and that callback does nothing but wake the loop.
type saver struct {
	store core.DocumentStore
	log   *logrus.Entry
	delay time.Duration

	// wake re-enters the room loop with a save tick.
	wake func()

	timer *time.Timer
	dirty bool
}

func newSaver(store core.DocumentStore, delay time.Duration, wake func(), log *logrus.Entry) *saver {
	return &saver{
		store: store,
		log:   log,
		delay: delay,
		wake:  wake,
	}
}

// contentChanged marks the room dirty and (re)starts the debounce window.
func (s *saver) contentChanged() {
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.wake)
}

// markDirty re-flags unsaved content after a failed write so the next
// debounce cycle or flush retries it.
func (s *saver) markDirty() {
	s.dirty = true
}

// saveAsync persists the given snapshot off the room loop so live edits are
// never blocked by the store. onFail is invoked (off-loop) when the write
// fails, letting the room re-mark itself dirty.
func (s *saver) saveAsync(documentID, content string, modified time.Time, onFail func()) {
	if !s.dirty {
		return
	}
	s.dirty = false

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := s.store.Save(ctx, documentID, content, modified); err != nil {
			s.log.WithError(err).Warn("debounced save failed, will retry")
			onFail()
			return
		}
		s.log.WithField("content_length", len(content)).Debug("document saved")
	}()
}

// flush writes the snapshot immediately, bypassing the debounce. Used on
// room teardown so edits inside an open debounce window are never lost.
func (s *saver) flush(documentID, content string, modified time.Time) error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.store.Save(ctx, documentID, content, modified); err != nil {
		s.log.WithError(err).Error("final flush failed")
		return err
	}
	s.dirty = false
	s.log.Info("document flushed")
	return nil
}
