package uploadqueue

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/coursedrop/coursedrop/internal/model"
)

const pdfContentType = "application/pdf"

// Limits bounds what a course may accept.
type Limits struct {
	MaxFileSize       int64
	MaxFilesPerCourse int
}

// ValidationContext is the queue/course state a candidate is judged against.
type ValidationContext struct {
	QueuedForCourse     int
	ExistingCourseFiles int
	Limits              Limits
}

// Validate checks one candidate file against the acceptance rules, first
// failure wins. A nil result means the candidate is accepted. Pure: no I/O,
// safe to call repeatedly.
func Validate(file model.FileRef, vc ValidationContext) *model.Rejection {
	if !hasPDFExtension(file.Name) && !strings.EqualFold(file.ContentType, pdfContentType) {
		return &model.Rejection{
			Reason:  model.RejectInvalidType,
			Message: fmt.Sprintf("%s is not a PDF", file.Name),
		}
	}
	if file.Size > vc.Limits.MaxFileSize {
		return &model.Rejection{
			Reason:  model.RejectTooLarge,
			Message: fmt.Sprintf("%s is %d bytes, limit is %d", file.Name, file.Size, vc.Limits.MaxFileSize),
		}
	}
	if vc.ExistingCourseFiles+vc.QueuedForCourse+1 > vc.Limits.MaxFilesPerCourse {
		return &model.Rejection{
			Reason:  model.RejectLimitExceeded,
			Message: fmt.Sprintf("course already holds %d of %d files", vc.ExistingCourseFiles+vc.QueuedForCourse, vc.Limits.MaxFilesPerCourse),
		}
	}
	return nil
}

func hasPDFExtension(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
