package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestFileCopyStatus tests the file copy status constants
func TestFileCopyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status FileCopyStatus
	}{
		{"success status", FileCopySuccess},
		{"skipped status", FileCopySkipped},
		{"failed status", FileCopyFailed},
		{"duplicate status", FileCopyDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, string(tt.status))
		})
	}
}

func TestNoopCollector_SyncStarted(t *testing.T) {
	metrics := NewNoopCollector()

	metrics.SyncStarted("leaf", "pull")

	noop, ok := metrics.(*NoopCollector)
	assert.True(t, ok)
	assert.NotNil(t, noop)
}

func TestNoopCollector_SyncCompleted(t *testing.T) {
	metrics := NewNoopCollector()

	duration := 5 * time.Second
	fileCount := 10
	byteCount := int64(1024 * 1024)

	metrics.SyncCompleted(duration, fileCount, byteCount)
}

func TestNoopCollector_SyncFailed(t *testing.T) {
	metrics := NewNoopCollector()

	metrics.SyncFailed()
}

func TestNoopCollector_FileCopyStarted(t *testing.T) {
	metrics := NewNoopCollector()

	metrics.FileCopyStarted("leaf", "directory", "path/to/file")
}

func TestNoopCollector_FileCopyCompleted(t *testing.T) {
	metrics := NewNoopCollector()

	byteCount := int64(2048)

	metrics.FileCopyCompleted("leaf", "directory", "path/to/file", byteCount)
}

func TestNoopCollector_FileCopyFailed(t *testing.T) {
	metrics := NewNoopCollector()

	metrics.FileCopyFailed("leaf", "directory", "path/to/file")
}

func TestNoopCollector_DirectoryCopyCompleted(t *testing.T) {
	metrics := NewNoopCollector()

	metrics.DirectoryCopyCompleted("leaf", "directory", 100, 95, 3, 2)
}

func TestNoopCollector_AllMethods(t *testing.T) {
	metrics := NewNoopCollector()

	metrics.SyncStarted("leaf", "pull")

	metrics.FileCopyStarted("leaf", "directory", "a.txt")
	metrics.FileCopyCompleted("leaf", "directory", "a.txt", 1024)

	metrics.FileCopyStarted("leaf", "directory", "b.txt")
	metrics.FileCopyFailed("leaf", "directory", "b.txt")

	metrics.DirectoryCopyCompleted("leaf", "directory", 10, 8, 1, 1)

	metrics.SyncCompleted(10*time.Second, 10, 10240)

	assert.NotNil(t, metrics)
}

func TestNoopCollector_Interface(t *testing.T) {
	var metrics Collector = NewNoopCollector()
	assert.NotNil(t, metrics)

	metrics.SyncStarted("leaf", "pull")
	metrics.SyncCompleted(time.Second, 1, 100)
	metrics.SyncFailed()
	metrics.FileCopyStarted("leaf", "dir", "a")
	metrics.FileCopyCompleted("leaf", "dir", "a", 100)
	metrics.FileCopyFailed("leaf", "dir", "a")
	metrics.DirectoryCopyCompleted("leaf", "dir", 10, 8, 1, 1)
}

func TestNewNoopCollector(t *testing.T) {
	metrics := NewNoopCollector()
	assert.NotNil(t, metrics)

	_, ok := metrics.(*NoopCollector)
	assert.True(t, ok)
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	metrics := NewNoopCollector()

	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func(id int) {
			metrics.SyncStarted("leaf", "pull")
			metrics.FileCopyStarted("leaf", "dir", "file")
			metrics.FileCopyCompleted("leaf", "dir", "file", 1024)
			metrics.SyncCompleted(time.Second, 1, 1024)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	assert.NotNil(t, metrics)
}

// MockCollector is a mock implementation for testing call sites that depend
// on Collector.
type MockCollector struct {
	SyncStartedCalls             int
	SyncCompletedCalls           int
	SyncFailedCalls              int
	FileCopyStartedCalls         int
	FileCopyCompletedCalls       int
	FileCopyFailedCalls          int
	DirectoryCopyCompletedCalls  int

	LastLeaf          string
	LastDirectory     string
	LastPath          string
	LastDuration      time.Duration
	LastFileCount     int
	LastByteCount     int64
	LastTotalFiles    int
	LastCopiedFiles   int
	LastSkippedFiles  int
	LastFailedFiles   int
}

func (m *MockCollector) SyncStarted(leaf, mode string) {
	m.SyncStartedCalls++
	m.LastLeaf = leaf
}

func (m *MockCollector) SyncCompleted(duration time.Duration, fileCount int, byteCount int64) {
	m.SyncCompletedCalls++
	m.LastDuration = duration
	m.LastFileCount = fileCount
	m.LastByteCount = byteCount
}

func (m *MockCollector) SyncFailed() {
	m.SyncFailedCalls++
}

func (m *MockCollector) FileCopyStarted(leaf, directory, path string) {
	m.FileCopyStartedCalls++
	m.LastLeaf = leaf
	m.LastDirectory = directory
	m.LastPath = path
}

func (m *MockCollector) FileCopyCompleted(leaf, directory, path string, byteCount int64) {
	m.FileCopyCompletedCalls++
	m.LastLeaf = leaf
	m.LastDirectory = directory
	m.LastPath = path
	m.LastByteCount = byteCount
}

func (m *MockCollector) FileCopyFailed(leaf, directory, path string) {
	m.FileCopyFailedCalls++
	m.LastLeaf = leaf
	m.LastDirectory = directory
	m.LastPath = path
}

func (m *MockCollector) DirectoryCopyCompleted(leaf, directory string, totalFiles, copiedFiles, skippedFiles, failedFiles int) {
	m.DirectoryCopyCompletedCalls++
	m.LastLeaf = leaf
	m.LastDirectory = directory
	m.LastTotalFiles = totalFiles
	m.LastCopiedFiles = copiedFiles
	m.LastSkippedFiles = skippedFiles
	m.LastFailedFiles = failedFiles
}

func TestMockCollector(t *testing.T) {
	mock := &MockCollector{}

	mock.SyncStarted("leaf-a", "pull")
	assert.Equal(t, 1, mock.SyncStartedCalls)
	assert.Equal(t, "leaf-a", mock.LastLeaf)

	mock.FileCopyStarted("leaf-a", "dir1", "v1.0")
	assert.Equal(t, 1, mock.FileCopyStartedCalls)
	assert.Equal(t, "dir1", mock.LastDirectory)
	assert.Equal(t, "v1.0", mock.LastPath)

	mock.FileCopyCompleted("leaf-a", "dir1", "v1.0", 2048)
	assert.Equal(t, 1, mock.FileCopyCompletedCalls)
	assert.Equal(t, int64(2048), mock.LastByteCount)

	mock.FileCopyFailed("leaf-a", "dir1", "v1.1")
	assert.Equal(t, 1, mock.FileCopyFailedCalls)
	assert.Equal(t, "v1.1", mock.LastPath)

	mock.DirectoryCopyCompleted("leaf-a", "dir1", 100, 95, 3, 2)
	assert.Equal(t, 1, mock.DirectoryCopyCompletedCalls)
	assert.Equal(t, 100, mock.LastTotalFiles)
	assert.Equal(t, 95, mock.LastCopiedFiles)
	assert.Equal(t, 3, mock.LastSkippedFiles)
	assert.Equal(t, 2, mock.LastFailedFiles)

	mock.SyncCompleted(5*time.Second, 10, 10240)
	assert.Equal(t, 1, mock.SyncCompletedCalls)
	assert.Equal(t, 5*time.Second, mock.LastDuration)
	assert.Equal(t, 10, mock.LastFileCount)
	assert.Equal(t, int64(10240), mock.LastByteCount)

	mock.SyncFailed()
	assert.Equal(t, 1, mock.SyncFailedCalls)
}

// TestCollector_WorkflowSimulation tests a complete sync-run workflow.
func TestCollector_WorkflowSimulation(t *testing.T) {
	mock := &MockCollector{}

	mock.SyncStarted("leaf-a", "pull")

	files := []string{"a.txt", "b.txt", "c.txt", "d.txt"}
	for _, f := range files {
		mock.FileCopyStarted("leaf-a", "dir1", f)
		if f == "b.txt" {
			mock.FileCopyFailed("leaf-a", "dir1", f)
		} else {
			mock.FileCopyCompleted("leaf-a", "dir1", f, 1024)
		}
	}

	mock.DirectoryCopyCompleted("leaf-a", "dir1", 4, 3, 0, 1)

	mock.SyncCompleted(30*time.Second, 3, 3072)

	assert.Equal(t, 1, mock.SyncStartedCalls)
	assert.Equal(t, 4, mock.FileCopyStartedCalls)
	assert.Equal(t, 3, mock.FileCopyCompletedCalls)
	assert.Equal(t, 1, mock.FileCopyFailedCalls)
	assert.Equal(t, 1, mock.DirectoryCopyCompletedCalls)
	assert.Equal(t, 1, mock.SyncCompletedCalls)

	assert.Equal(t, 30*time.Second, mock.LastDuration)
	assert.Equal(t, 3, mock.LastCopiedFiles)
	assert.Equal(t, 1, mock.LastFailedFiles)
}

// TestCollector_MultipleDirectories tests metrics for multiple directories.
func TestCollector_MultipleDirectories(t *testing.T) {
	mock := &MockCollector{}

	directories := []struct {
		leaf  string
		dir   string
		files int
	}{
		{"leaf-1", "dir1", 10},
		{"leaf-2", "dir2", 15},
		{"leaf-3", "dir3", 20},
	}

	for _, d := range directories {
		mock.DirectoryCopyCompleted(d.leaf, d.dir, d.files, d.files, 0, 0)
	}

	assert.Equal(t, 3, mock.DirectoryCopyCompletedCalls)
	assert.Equal(t, 20, mock.LastTotalFiles)
}

func TestFileCopyStatus_StringValues(t *testing.T) {
	tests := []struct {
		status   FileCopyStatus
		expected string
	}{
		{FileCopySuccess, "success"},
		{FileCopySkipped, "skipped"},
		{FileCopyFailed, "failed"},
		{FileCopyDuplicate, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
		})
	}
}

// TestCollector_LargeValues tests handling of large metric values.
func TestCollector_LargeValues(t *testing.T) {
	mock := &MockCollector{}

	largeByteCount := int64(10 * 1024 * 1024 * 1024)
	mock.FileCopyCompleted("leaf", "dir", "big.bin", largeByteCount)
	assert.Equal(t, largeByteCount, mock.LastByteCount)

	largeFiles := 1000
	mock.SyncCompleted(time.Hour, largeFiles, largeByteCount)
	assert.Equal(t, largeFiles, mock.LastFileCount)

	manyFiles := 10000
	mock.DirectoryCopyCompleted("leaf", "dir", manyFiles, manyFiles-10, 5, 5)
	assert.Equal(t, manyFiles, mock.LastTotalFiles)
}
