package uploadqueue

import (
	"testing"

	"github.com/coursedrop/coursedrop/internal/model"
)

func testContext() ValidationContext {
	return ValidationContext{
		Limits: Limits{
			MaxFileSize:       200 << 20,
			MaxFilesPerCourse: 30,
		},
	}
}

func TestValidateAcceptsPDF(t *testing.T) {
	cases := []model.FileRef{
		{Name: "lecture.pdf", Size: 1024, ContentType: "application/pdf"},
		{Name: "LECTURE.PDF", Size: 1024, ContentType: ""},
		{Name: "no-extension", Size: 1024, ContentType: "application/pdf"},
		{Name: "weird.bin", Size: 1024, ContentType: "Application/PDF"},
	}
	for _, file := range cases {
		if rej := Validate(file, testContext()); rej != nil {
			t.Errorf("%s: expected accept, got %s", file.Name, rej.Reason)
		}
	}
}

func TestValidateRejectsNonPDF(t *testing.T) {
	file := model.FileRef{Name: "syllabus.docx", Size: 1024, ContentType: "application/msword"}
	rej := Validate(file, testContext())
	if rej == nil || rej.Reason != model.RejectInvalidType {
		t.Fatalf("expected invalid_type, got %+v", rej)
	}
}

func TestValidateSizeBoundary(t *testing.T) {
	vc := testContext()

	atLimit := model.FileRef{Name: "big.pdf", Size: vc.Limits.MaxFileSize, ContentType: "application/pdf"}
	if rej := Validate(atLimit, vc); rej != nil {
		t.Fatalf("size exactly at limit must be accepted, got %s", rej.Reason)
	}

	overLimit := model.FileRef{Name: "bigger.pdf", Size: vc.Limits.MaxFileSize + 1, ContentType: "application/pdf"}
	rej := Validate(overLimit, vc)
	if rej == nil || rej.Reason != model.RejectTooLarge {
		t.Fatalf("expected too_large one byte over the limit, got %+v", rej)
	}
}

func TestValidateCourseLimit(t *testing.T) {
	vc := testContext()
	vc.ExistingCourseFiles = 25
	vc.QueuedForCourse = 4

	// 25 + 4 + 1 = 30, exactly at the limit.
	if rej := Validate(model.FileRef{Name: "a.pdf", Size: 1}, vc); rej != nil {
		t.Fatalf("expected accept at the limit, got %s", rej.Reason)
	}

	vc.QueuedForCourse = 5
	rej := Validate(model.FileRef{Name: "b.pdf", Size: 1}, vc)
	if rej == nil || rej.Reason != model.RejectLimitExceeded {
		t.Fatalf("expected limit_exceeded, got %+v", rej)
	}
}

func TestValidateFirstFailureWins(t *testing.T) {
	vc := testContext()
	vc.ExistingCourseFiles = 30

	// Both invalid type and over quota: the type rule is checked first.
	file := model.FileRef{Name: "notes.txt", Size: 1, ContentType: "text/plain"}
	rej := Validate(file, vc)
	if rej == nil || rej.Reason != model.RejectInvalidType {
		t.Fatalf("expected invalid_type to win, got %+v", rej)
	}
}
