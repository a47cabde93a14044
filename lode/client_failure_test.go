package lode

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/taskmanager/types"
)

// FailingStore is a lode.Store that returns configurable errors.
type FailingStore struct {
	PutErr    error
	GetErr    error
	ExistsErr error
	ListErr   error
	DeleteErr error

	// Track calls for verification
	PutCalls int
	PutPaths []string
}

func (s *FailingStore) Put(_ context.Context, path string, _ io.Reader) error {
	s.PutCalls++
	s.PutPaths = append(s.PutPaths, path)
	return s.PutErr
}

func (s *FailingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, s.GetErr
}

func (s *FailingStore) Exists(_ context.Context, _ string) (bool, error) {
	return false, s.ExistsErr
}

func (s *FailingStore) List(_ context.Context, _ string) ([]string, error) {
	return nil, s.ListErr
}

func (s *FailingStore) Delete(_ context.Context, _ string) error {
	return s.DeleteErr
}

func (s *FailingStore) ReadRange(_ context.Context, _ string, _, _ int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *FailingStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*FailingStore)(nil)

func TestLodeJournal_WriteFailureClassified(t *testing.T) {
	tests := []struct {
		name     string
		putErr   error
		wantKind error
	}{
		{"permission denied", errors.New("open /journal: permission denied"), ErrPermissionDenied},
		{"disk full", errors.New("write /journal: no space left on device"), ErrDiskFull},
		{"s3 throttled", errors.New("SlowDown: please reduce request rate"), ErrThrottled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &FailingStore{PutErr: tt.putErr}
			j, err := NewLodeJournalWithFactory(Config{}, sharedFactory(store))
			if err != nil {
				t.Fatalf("NewLodeJournalWithFactory: %v", err)
			}
			meta := &types.RunMeta{BatchRunID: "br-1", Batch: "nightly", Attempt: 1}
			err = j.BeginBatchRun(t.Context(), meta, t0)
			if err == nil {
				t.Fatal("expected write error")
			}
			if !errors.Is(err, tt.wantKind) {
				t.Errorf("error %v does not match %v", err, tt.wantKind)
			}
			var se *StorageError
			if !errors.As(err, &se) || se.Op != "write" {
				t.Errorf("error %v is not a write StorageError", err)
			}
		})
	}
}

// A failed append does not advance the replay guard, so the same revision
// can be retried.
func TestLodeJournal_FailedAppendRetryable(t *testing.T) {
	store := &FailingStore{PutErr: errors.New("connection refused")}
	j, err := NewLodeJournalWithFactory(Config{}, sharedFactory(store))
	if err != nil {
		t.Fatalf("NewLodeJournalWithFactory: %v", err)
	}
	br := types.NewBatchRun("br-1", "nightly")
	el := types.BatchElement{Task: types.TaskRef{Configuration: "c", Task: "a"}}
	r := br.Record(types.NewRun("r-a", br.ID, el, t0))

	if err := j.AppendRun(t.Context(), br.Meta(), r); !errors.Is(err, ErrNetwork) {
		t.Fatalf("AppendRun error = %v, want ErrNetwork", err)
	}
	calls := store.PutCalls
	_ = j.AppendRun(t.Context(), br.Meta(), r)
	if store.PutCalls == calls {
		t.Error("retry after failure should attempt the write again")
	}
}

func TestLodeJournal_FactoryFailure(t *testing.T) {
	factory := func() (lode.Store, error) { return nil, errors.New("open /journal: permission denied") }

	// Failure can occur at construction OR at write time.
	j, err := NewLodeJournalWithFactory(Config{}, factory)
	op := "init"
	if err == nil {
		op = "write"
		err = j.BeginBatchRun(t.Context(), &types.RunMeta{BatchRunID: "br-1", Batch: "b", Attempt: 1}, t0)
		if err == nil {
			t.Fatal("expected error from failing store factory")
		}
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %T: %v", err, err)
	}
	if se.Op != op {
		t.Errorf("Op = %s, want %s", se.Op, op)
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got kind: %v", se.Kind)
	}
}
