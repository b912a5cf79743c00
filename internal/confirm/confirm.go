// Package confirm implements the server-side confirmation applied to every
// upload after byte transfer completes: content validation plus duplicate-name
// detection against the course_files table.
package confirm

import (
	"context"
	"errors"
	"log"

	"github.com/coursedrop/coursedrop/internal/model"
	pdfutil "github.com/coursedrop/coursedrop/internal/pdf"
	"github.com/coursedrop/coursedrop/internal/repository"
	"github.com/coursedrop/coursedrop/internal/uploadqueue"
)

// headBytes is enough of an object to sniff the PDF magic bytes.
const headBytes = 8

// ObjectStore is the slice of storage the confirmation needs: a cheap peek at
// an object's leading bytes and the full contents for parsing.
type ObjectStore interface {
	GetHead(ctx context.Context, objectKey string, n int64) ([]byte, error)
	Get(ctx context.Context, objectKey string) ([]byte, error)
}

// Catalog records confirmed files against their course.
type Catalog interface {
	Insert(ctx context.Context, f *repository.CourseFile) error
}

// Service checks an uploaded object and records it as a course file.
type Service struct {
	catalog Catalog
	store   ObjectStore
}

var _ uploadqueue.Confirmer = (*Service)(nil)

// New constructs a confirmation service.
func New(catalog Catalog, store ObjectStore) *Service {
	return &Service{catalog: catalog, store: store}
}

// Confirm verifies the uploaded object is a well-formed PDF and inserts the
// course file row. The magic bytes are sniffed from the object's head first,
// so an obvious non-PDF is refused without downloading the whole object.
// Validation failures (bad content, duplicate name) are terminal for the
// item; storage and database trouble is reported as a server failure so the
// queue may retry.
func (s *Service) Confirm(ctx context.Context, item model.UploadItem) error {
	head, err := s.store.GetHead(ctx, item.ObjectKey, headBytes)
	if err != nil {
		return &model.UploadError{Kind: model.FailureServer, Message: err.Error()}
	}
	if !pdfutil.IsPDF(head) {
		return &model.UploadError{Kind: model.FailureValidation, Message: item.File.Name + " is not a valid PDF"}
	}
	data, err := s.store.Get(ctx, item.ObjectKey)
	if err != nil {
		return &model.UploadError{Kind: model.FailureServer, Message: err.Error()}
	}
	pages, err := pdfutil.PageCount(data)
	if err != nil {
		return &model.UploadError{Kind: model.FailureValidation, Message: "unreadable PDF: " + err.Error()}
	}
	err = s.catalog.Insert(ctx, &repository.CourseFile{
		ID:        item.ID,
		CourseID:  item.CourseID,
		FileName:  item.File.Name,
		ObjectKey: item.ObjectKey,
		SizeBytes: item.File.Size,
		PageCount: pages,
	})
	if errors.Is(err, repository.ErrDuplicateName) {
		return &model.UploadError{Kind: model.FailureValidation, Message: item.File.Name + " already exists in this course"}
	}
	if err != nil {
		return &model.UploadError{Kind: model.FailureServer, Message: err.Error()}
	}
	log.Printf("confirmed %s (%d pages) for course %s", item.File.Name, pages, item.CourseID)
	return nil
}
