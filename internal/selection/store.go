// Package selection holds the image the user is currently working with.
package selection

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimishamba325/Coral-reef/internal/logging"
)

// PreviewPath is the URL prefix display handles are served under.
const PreviewPath = "/preview/"

var ErrEmptyFile = errors.New("selected file is empty")

// File is what the upload collaborator hands in. It must already be
// verified as an image.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Image is the current selection. Data is shared with the store and must be
// treated as read-only.
type Image struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
	Handle      string
	SelectedAt  time.Time
}

// DisplayURI is where a front end can load the image from.
func (i Image) DisplayURI() string {
	return PreviewPath + i.Handle
}

// Store owns at most one selected image and its display handle. Only the
// store issues or releases handles.
type Store struct {
	registry Registry
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	current   *Image
	listeners []func(*Image)
	seq       uint64

	notifyMu     sync.Mutex
	lastNotified uint64
}

func NewStore(registry Registry, logger *zap.Logger) *Store {
	return &Store{
		registry: registry,
		logger:   logger.Named("image_selection"),
		now:      time.Now,
	}
}

// SelectImage replaces the current selection with file, or clears it when
// file is nil. The previous handle is released before the new one is
// issued. A failed release of the previous handle is logged but does not
// fail the selection; Redis handles then expire with the preview TTL.
func (s *Store) SelectImage(ctx context.Context, file *File) (*Image, error) {
	if file == nil {
		return nil, s.ClearImage(ctx)
	}
	if len(file.Data) == 0 {
		return nil, ErrEmptyFile
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(file.Data)
	}

	s.mu.Lock()
	hadImage := s.current != nil
	_ = s.releaseLocked(ctx)

	handle, err := s.registry.Issue(ctx, file.Data)
	if err != nil {
		s.seq++
		seq, listeners := s.seq, s.listenersLocked()
		s.mu.Unlock()
		opErr := &logging.OperationError{Operation: "selection.issue_handle", Err: err}
		s.logger.Error("failed to issue display handle", append(opErr.Fields(), zap.String("filename", file.Name))...)
		if hadImage {
			s.notify(seq, listeners, nil)
		}
		return nil, opErr
	}

	img := &Image{
		ID:          uuid.NewString(),
		Filename:    file.Name,
		ContentType: contentType,
		Data:        file.Data,
		Handle:      handle,
		SelectedAt:  s.now().UTC(),
	}
	s.current = img
	s.seq++
	seq, listeners := s.seq, s.listenersLocked()
	selected := *img
	s.mu.Unlock()

	s.logger.Info("image selected",
		zap.String("image_id", selected.ID),
		zap.String("filename", selected.Filename),
		zap.Int("bytes", len(selected.Data)),
	)
	s.notify(seq, listeners, &selected)
	return &selected, nil
}

// ClearImage drops the selection and releases its handle. It is a no-op
// when nothing is selected.
func (s *Store) ClearImage(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil
	}
	err := s.releaseLocked(ctx)
	s.seq++
	seq, listeners := s.seq, s.listenersLocked()
	s.mu.Unlock()

	s.notify(seq, listeners, nil)
	return err
}

// Current returns a copy of the selection.
func (s *Store) Current() (Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Image{}, false
	}
	return *s.current, true
}

// Subscribe registers fn to run after every replacement or clear. fn gets
// nil when the selection was cleared. It runs outside the store lock, one
// delivery at a time, and must not change the selection itself.
func (s *Store) Subscribe(fn func(*Image)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// releaseLocked forgets the current image before releasing its handle, so a
// failed release is never retried against the same handle.
func (s *Store) releaseLocked(ctx context.Context) error {
	if s.current == nil {
		return nil
	}
	previous := s.current
	s.current = nil

	if err := s.registry.Release(ctx, previous.Handle); err != nil {
		opErr := &logging.OperationError{Operation: "selection.release_handle", Err: err}
		s.logger.Warn("failed to release display handle", append(opErr.Fields(), zap.String("image_id", previous.ID))...)
		return opErr
	}
	return nil
}

func (s *Store) listenersLocked() []func(*Image) {
	return slices.Clone(s.listeners)
}

// notify delivers img unless a newer change was already delivered, so
// listeners never observe an older selection after a newer one.
func (s *Store) notify(seq uint64, listeners []func(*Image), img *Image) {
	if len(listeners) == 0 {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if seq <= s.lastNotified {
		return
	}
	s.lastNotified = seq
	for _, fn := range listeners {
		fn(img)
	}
}
