package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains counters for a compression run.
type Statistics struct {
	FilesFound      int64
	FilesProcessed  int64
	FilesCompressed int64
	FilesSkipped    int64
	FilesWithErrors int64

	BytesIn  int64
	BytesOut int64

	DirectoriesScanned int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	mutex sync.RWMutex

	FileTypeStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of Statistics suitable for JSON.
type Snapshot struct {
	FilesFound      int64            `json:"files_found"`
	FilesProcessed  int64            `json:"files_processed"`
	FilesCompressed int64            `json:"files_compressed"`
	FilesSkipped    int64            `json:"files_skipped"`
	FilesWithErrors int64            `json:"files_with_errors"`
	BytesIn         int64            `json:"bytes_in"`
	BytesOut        int64            `json:"bytes_out"`
	SavedPercent    float64          `json:"saved_percent"`
	Duration        string           `json:"duration"`
	FilesPerSecond  float64          `json:"files_per_second"`
	FileTypes       map[string]int64 `json:"file_types"`
	Errors          []StatError      `json:"errors"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		FileTypeStats: make(map[string]int64),
		Errors:        make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.FilesFound, 1)
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.FilesProcessed, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementDirectoriesScanned increases the count of scanned directories by 1.
func (s *Statistics) IncrementDirectoriesScanned() {
	atomic.AddInt64(&s.DirectoriesScanned, 1)
}

// RecordCompressed counts a successful compression of in bytes into out bytes.
func (s *Statistics) RecordCompressed(in, out int64) {
	atomic.AddInt64(&s.FilesCompressed, 1)
	atomic.AddInt64(&s.BytesIn, in)
	atomic.AddInt64(&s.BytesOut, out)
}

// IncrementFileType increases the count for a specific file type by 1.
func (s *Statistics) IncrementFileType(fileType string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FileTypeStats[fileType]++
}

// AddError records a failed file.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	atomic.AddInt64(&s.FilesWithErrors, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize records the end time and derived rates.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(atomic.LoadInt64(&s.FilesProcessed)) / s.Duration.Seconds()
	}
}

// SavedPercent returns how much smaller the outputs are than their inputs.
func (s *Statistics) SavedPercent() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	if in == 0 {
		return 0
	}
	return float64(in-atomic.LoadInt64(&s.BytesOut)) * 100 / float64(in)
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	types := make(map[string]int64, len(s.FileTypeStats))
	for k, v := range s.FileTypeStats {
		types[k] = v
	}
	errs := make([]StatError, len(s.Errors))
	copy(errs, s.Errors)

	return Snapshot{
		FilesFound:      atomic.LoadInt64(&s.FilesFound),
		FilesProcessed:  atomic.LoadInt64(&s.FilesProcessed),
		FilesCompressed: atomic.LoadInt64(&s.FilesCompressed),
		FilesSkipped:    atomic.LoadInt64(&s.FilesSkipped),
		FilesWithErrors: atomic.LoadInt64(&s.FilesWithErrors),
		BytesIn:         atomic.LoadInt64(&s.BytesIn),
		BytesOut:        atomic.LoadInt64(&s.BytesOut),
		SavedPercent:    s.SavedPercent(),
		Duration:        s.Duration.String(),
		FilesPerSecond:  s.FilesPerSecond,
		FileTypes:       types,
		Errors:          errs,
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	rate := s.FilesPerSecond
	s.mutex.RUnlock()

	return fmt.Sprintf(`Compression Summary:

Files:
		Found: %d
		Processed: %d
		Compressed: %d
		Skipped: %d
		Errors: %d

Size:
		Input: %s
		Output: %s
		Saved: %.1f%%

Performance:
		Duration: %v
		Files/Second: %.2f
		Directories Scanned: %d`,
		atomic.LoadInt64(&s.FilesFound),
		atomic.LoadInt64(&s.FilesProcessed),
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesWithErrors),
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)),
		s.SavedPercent(),
		duration,
		rate,
		atomic.LoadInt64(&s.DirectoriesScanned))
}

// GetFileTypeBreakdown returns a formatted breakdown of file types processed.
func (s *Statistics) GetFileTypeBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FileTypeStats) == 0 {
		return "No file type statistics available"
	}

	types := make([]string, 0, len(s.FileTypeStats))
	for fileType := range s.FileTypeStats {
		types = append(types, fileType)
	}
	sort.Strings(types)

	var b strings.Builder
	b.WriteString("File Type Breakdown:\n")
	for _, fileType := range types {
		fmt.Fprintf(&b, "  %s: %d\n", fileType, s.FileTypeStats[fileType])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			firstLine(err.Error))
	}
	return b.String()
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
