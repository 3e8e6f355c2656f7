package statistics

import (
	"strings"
	"sync"
	"testing"
)

func TestCountersConcurrent(t *testing.T) {
	s := NewStatistics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementFilesFound()
			s.IncrementFilesProcessed()
			s.RecordCompressed(1000, 250)
			s.IncrementFileType("PNG")
		}()
	}
	wg.Wait()
	s.Finalize()

	snap := s.Snapshot()
	if snap.FilesFound != 50 || snap.FilesProcessed != 50 || snap.FilesCompressed != 50 {
		t.Errorf("Unexpected counters: %+v", snap)
	}
	if snap.BytesIn != 50000 || snap.BytesOut != 12500 {
		t.Errorf("Unexpected byte counters: %+v", snap)
	}
	if snap.SavedPercent != 75 {
		t.Errorf("Expected 75%% saved, got %.2f", snap.SavedPercent)
	}
	if snap.FileTypes["PNG"] != 50 {
		t.Errorf("Expected 50 PNG files, got %d", snap.FileTypes["PNG"])
	}
}

func TestSavedPercentEmpty(t *testing.T) {
	if p := NewStatistics().SavedPercent(); p != 0 {
		t.Errorf("Expected 0, got %f", p)
	}
}

func TestErrors(t *testing.T) {
	s := NewStatistics()
	if !strings.Contains(s.GetErrorSummary(), "No errors") {
		t.Errorf("Unexpected summary: %s", s.GetErrorSummary())
	}

	for i := 0; i < 12; i++ {
		s.AddError("/a.png", "compress", "exit status 1\nError! Cannot open")
	}
	if s.Snapshot().FilesWithErrors != 12 {
		t.Errorf("Expected 12 errors, got %d", s.Snapshot().FilesWithErrors)
	}

	summary := s.GetErrorSummary()
	if !strings.Contains(summary, "Errors (12 total)") || !strings.Contains(summary, "and 2 more errors") {
		t.Errorf("Unexpected error summary: %s", summary)
	}
	if strings.Contains(summary, "Cannot open") {
		t.Errorf("Expected only first line of each error: %s", summary)
	}
}

func TestSummaryAndBreakdown(t *testing.T) {
	s := NewStatistics()
	s.IncrementFileType("PNG")
	s.IncrementFileType("JPG")
	s.RecordCompressed(2048, 1024)
	s.Finalize()

	summary := s.GetSummary()
	if !strings.Contains(summary, "Input: 2.0 KB") || !strings.Contains(summary, "Saved: 50.0%") {
		t.Errorf("Unexpected summary: %s", summary)
	}

	breakdown := s.GetFileTypeBreakdown()
	if strings.Index(breakdown, "JPG") > strings.Index(breakdown, "PNG") {
		t.Errorf("Expected sorted breakdown: %s", breakdown)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KB",
		1536:    "1.5 KB",
		1048576: "1.0 MB",
	}
	for in, expected := range tests {
		if got := formatBytes(in); got != expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", in, got, expected)
		}
	}
}
