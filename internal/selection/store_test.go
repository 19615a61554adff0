package selection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nimishamba325/Coral-reef/internal/logging"
)

type countingRegistry struct {
	*MemoryRegistry
	issued   []string
	released map[string]int
	issueErr   error
	releaseErr error
}

func newCountingRegistry() *countingRegistry {
	return &countingRegistry{MemoryRegistry: NewMemoryRegistry(), released: make(map[string]int)}
}

func (r *countingRegistry) Issue(ctx context.Context, data []byte) (string, error) {
	if r.issueErr != nil {
		return "", r.issueErr
	}
	handle, err := r.MemoryRegistry.Issue(ctx, data)
	r.issued = append(r.issued, handle)
	return handle, err
}

func (r *countingRegistry) Release(ctx context.Context, handle string) error {
	r.released[handle]++
	if r.releaseErr != nil {
		return r.releaseErr
	}
	return r.MemoryRegistry.Release(ctx, handle)
}

func jpeg(name string) *File {
	return &File{Name: name, Data: []byte("\xff\xd8\xff\xe0" + name)}
}

func TestReplacingImageReleasesPreviousHandleOnce(t *testing.T) {
	registry := newCountingRegistry()
	store := NewStore(registry, zap.NewNop())
	ctx := context.Background()

	first, err := store.SelectImage(ctx, jpeg("reef-1.jpg"))
	if err != nil {
		t.Fatalf("first select failed: %v", err)
	}
	second, err := store.SelectImage(ctx, jpeg("reef-2.jpg"))
	if err != nil {
		t.Fatalf("second select failed: %v", err)
	}
	if _, err := store.SelectImage(ctx, jpeg("reef-3.jpg")); err != nil {
		t.Fatalf("third select failed: %v", err)
	}

	if registry.released[first.Handle] != 1 {
		t.Fatalf("expected first handle released once, got %d", registry.released[first.Handle])
	}
	if registry.released[second.Handle] != 1 {
		t.Fatalf("expected second handle released once, got %d", registry.released[second.Handle])
	}
	if registry.Len() != 1 {
		t.Fatalf("expected exactly one live handle, got %d", registry.Len())
	}
	if first.ID == second.ID {
		t.Fatal("each selection must get its own id")
	}

	current, ok := store.Current()
	if !ok || current.Filename != "reef-3.jpg" {
		t.Fatalf("unexpected current selection: %+v", current)
	}
	if current.ContentType != "image/jpeg" {
		t.Fatalf("expected sniffed content type, got %s", current.ContentType)
	}
	if current.DisplayURI() != PreviewPath+current.Handle {
		t.Fatalf("unexpected display uri: %s", current.DisplayURI())
	}
}

func TestClearImageIsIdempotent(t *testing.T) {
	registry := newCountingRegistry()
	store := NewStore(registry, zap.NewNop())
	ctx := context.Background()

	if err := store.ClearImage(ctx); err != nil {
		t.Fatalf("clearing an empty store failed: %v", err)
	}

	img, err := store.SelectImage(ctx, jpeg("reef.jpg"))
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.ClearImage(ctx); err != nil {
			t.Fatalf("clear %d failed: %v", i, err)
		}
	}

	if registry.released[img.Handle] != 1 {
		t.Fatalf("expected handle released once, got %d", registry.released[img.Handle])
	}
	if _, ok := store.Current(); ok {
		t.Fatal("expected no selection after clear")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected no live handles, got %d", registry.Len())
	}
}

func TestSelectNilClears(t *testing.T) {
	registry := newCountingRegistry()
	store := NewStore(registry, zap.NewNop())
	ctx := context.Background()

	img, _ := store.SelectImage(ctx, jpeg("reef.jpg"))
	got, err := store.SelectImage(ctx, nil)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
	if registry.released[img.Handle] != 1 {
		t.Fatalf("expected handle released once, got %d", registry.released[img.Handle])
	}
}

func TestSelectRejectsEmptyFile(t *testing.T) {
	store := NewStore(newCountingRegistry(), zap.NewNop())
	if _, err := store.SelectImage(context.Background(), &File{Name: "empty.jpg"}); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestIssueFailureLeavesNoSelection(t *testing.T) {
	registry := newCountingRegistry()
	store := NewStore(registry, zap.NewNop())
	ctx := context.Background()

	first, _ := store.SelectImage(ctx, jpeg("reef-1.jpg"))
	registry.issueErr = errors.New("registry unavailable")

	_, err := store.SelectImage(ctx, jpeg("reef-2.jpg"))
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "selection.issue_handle" {
		t.Fatalf("expected issue_handle OperationError, got %v", err)
	}
	if registry.released[first.Handle] != 1 {
		t.Fatalf("expected previous handle released once, got %d", registry.released[first.Handle])
	}
	if _, ok := store.Current(); ok {
		t.Fatal("expected no selection after failed issue")
	}

	if err := store.ClearImage(ctx); err != nil {
		t.Fatalf("clear after failure: %v", err)
	}
	if registry.released[first.Handle] != 1 {
		t.Fatalf("handle released again: %d", registry.released[first.Handle])
	}
}

func TestSubscribersSeeEveryChange(t *testing.T) {
	store := NewStore(NewMemoryRegistry(), zap.NewNop())
	ctx := context.Background()

	var seen []string
	store.Subscribe(func(img *Image) {
		if img == nil {
			seen = append(seen, "<cleared>")
			return
		}
		if _, ok := store.Current(); !ok {
			t.Error("store lock must be released before listeners run")
		}
		seen = append(seen, img.Filename)
	})

	store.SelectImage(ctx, jpeg("a.jpg"))
	store.SelectImage(ctx, jpeg("b.jpg"))
	store.ClearImage(ctx)
	store.ClearImage(ctx)

	want := []string{"a.jpg", "b.jpg", "<cleared>"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestCurrentReturnsCopy(t *testing.T) {
	store := NewStore(NewMemoryRegistry(), zap.NewNop())
	store.SelectImage(context.Background(), jpeg("reef.jpg"))

	img, _ := store.Current()
	img.Handle = "tampered"

	again, _ := store.Current()
	if again.Handle == "tampered" {
		t.Fatal("callers must not be able to change the stored handle")
	}
}

func TestListenersSeeSelectionsInOrder(t *testing.T) {
	store := NewStore(NewMemoryRegistry(), zap.NewNop())
	ctx := context.Background()

	firstDelivered := make(chan struct{})
	releaseFirst := make(chan struct{})
	var (
		mu       sync.Mutex
		observed []string
	)
	store.Subscribe(func(img *Image) {
		mu.Lock()
		observed = append(observed, img.Filename)
		n := len(observed)
		mu.Unlock()
		if n == 1 {
			close(firstDelivered)
			<-releaseFirst
		}
	})

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if _, err := store.SelectImage(ctx, jpeg("a.jpg")); err != nil {
			t.Errorf("select a.jpg: %v", err)
		}
	}()
	<-firstDelivered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		if _, err := store.SelectImage(ctx, jpeg("b.jpg")); err != nil {
			t.Errorf("select b.jpg: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if current, ok := store.Current(); ok && current.Filename == "b.jpg" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second selection never became current")
		}
		time.Sleep(time.Millisecond)
	}
	close(releaseFirst)
	<-firstDone
	<-secondDone

	mu.Lock()
	defer mu.Unlock()
	if len(observed) == 0 || observed[len(observed)-1] != "b.jpg" {
		t.Fatalf("last notification must match the current selection, observed %v", observed)
	}
	if len(observed) != 2 || observed[0] != "a.jpg" {
		t.Fatalf("expected [a.jpg b.jpg], observed %v", observed)
	}
}

func TestReplaceSucceedsWhenPreviousReleaseFails(t *testing.T) {
	registry := newCountingRegistry()
	store := NewStore(registry, zap.NewNop())
	ctx := context.Background()

	first, err := store.SelectImage(ctx, jpeg("reef-1.jpg"))
	if err != nil {
		t.Fatalf("first select failed: %v", err)
	}
	registry.releaseErr = errors.New("redis down")

	second, err := store.SelectImage(ctx, jpeg("reef-2.jpg"))
	if err != nil {
		t.Fatalf("replacement must not fail on a release error: %v", err)
	}
	if registry.released[first.Handle] != 1 {
		t.Fatalf("expected one release attempt for the old handle, got %d", registry.released[first.Handle])
	}
	current, ok := store.Current()
	if !ok || current.ID != second.ID {
		t.Fatalf("expected the new image to be current, got %+v", current)
	}

	registry.releaseErr = nil
	if err := store.ClearImage(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if registry.released[first.Handle] != 1 {
		t.Fatal("a handle whose release failed must not be released again")
	}
}

func TestIssueFailureLogsOperationFields(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	registry := newCountingRegistry()
	registry.issueErr = errors.New("registry unavailable")
	store := NewStore(registry, zap.New(core))

	if _, err := store.SelectImage(context.Background(), jpeg("reef.jpg")); err == nil {
		t.Fatal("expected issue failure")
	}

	entries := logs.FilterField(zap.String("operation", "selection.issue_handle")).All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry tagged with the operation, got %d", len(entries))
	}
	if _, ok := entries[0].ContextMap()["filename"]; !ok {
		t.Fatalf("expected filename field, got %v", entries[0].ContextMap())
	}
}
