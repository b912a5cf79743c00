package confirm

import (
	"context"
	"errors"
	"testing"

	"github.com/coursedrop/coursedrop/internal/model"
	"github.com/coursedrop/coursedrop/internal/repository"
)

type stubStore struct {
	head     []byte
	headErr  error
	body     []byte
	bodyErr  error
	getCalls int
}

func (s *stubStore) GetHead(ctx context.Context, objectKey string, n int64) ([]byte, error) {
	if s.headErr != nil {
		return nil, s.headErr
	}
	if int64(len(s.head)) > n {
		return s.head[:n], nil
	}
	return s.head, nil
}

func (s *stubStore) Get(ctx context.Context, objectKey string) ([]byte, error) {
	s.getCalls++
	return s.body, s.bodyErr
}

type stubCatalog struct {
	err      error
	inserted []*repository.CourseFile
}

func (c *stubCatalog) Insert(ctx context.Context, f *repository.CourseFile) error {
	if c.err != nil {
		return c.err
	}
	c.inserted = append(c.inserted, f)
	return nil
}

func testItem() model.UploadItem {
	return model.UploadItem{
		ID:        "item-1",
		CourseID:  "course-1",
		ObjectKey: "course-1/item-1.pdf",
		File:      model.FileRef{Name: "notes.pdf", Size: 1024},
	}
}

func failureKind(t *testing.T, err error) model.FailureKind {
	t.Helper()
	var ue *model.UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *model.UploadError, got %v", err)
	}
	return ue.Kind
}

func TestConfirmRefusesNonPDFWithoutFullDownload(t *testing.T) {
	store := &stubStore{head: []byte("PK\x03\x04 zip")}
	svc := New(&stubCatalog{}, store)

	err := svc.Confirm(context.Background(), testItem())
	if kind := failureKind(t, err); kind != model.FailureValidation {
		t.Fatalf("expected validation failure, got %s", kind)
	}
	if store.getCalls != 0 {
		t.Fatalf("expected no full download for a non-PDF, got %d", store.getCalls)
	}
}

func TestConfirmStorageTroubleIsServerFailure(t *testing.T) {
	store := &stubStore{headErr: errors.New("connection refused")}
	svc := New(&stubCatalog{}, store)

	err := svc.Confirm(context.Background(), testItem())
	if kind := failureKind(t, err); kind != model.FailureServer {
		t.Fatalf("expected server failure, got %s", kind)
	}
}

func TestConfirmRejectsUnparseablePDF(t *testing.T) {
	store := &stubStore{
		head: []byte("%PDF-1.7"),
		body: []byte("%PDF-1.7 but not really a pdf"),
	}
	catalog := &stubCatalog{}
	svc := New(catalog, store)

	err := svc.Confirm(context.Background(), testItem())
	if kind := failureKind(t, err); kind != model.FailureValidation {
		t.Fatalf("expected validation failure, got %s", kind)
	}
	if store.getCalls != 1 {
		t.Fatalf("expected one full download after the head check, got %d", store.getCalls)
	}
	if len(catalog.inserted) != 0 {
		t.Fatalf("expected no catalog row for an unparseable PDF")
	}
}
