package pdfutil

import "testing"

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.7\n...")) {
		t.Fatalf("expected PDF header to be recognized")
	}
	if IsPDF([]byte("PK\x03\x04 zip bytes")) {
		t.Fatalf("expected non-PDF bytes to be rejected")
	}
	if IsPDF(nil) {
		t.Fatalf("expected empty input to be rejected")
	}
}

func TestPageCountRejectsGarbage(t *testing.T) {
	if _, err := PageCount([]byte("%PDF-1.7 but not really a pdf")); err == nil {
		t.Fatalf("expected parse error for malformed PDF")
	}
}
