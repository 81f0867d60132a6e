package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNewFileLogger(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("creates new file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "new.log")
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("log file was not created")
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "existing.log")
		if err := os.WriteFile(path, []byte("previous session\n"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log("appliance connected")
		logger.Close()

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		if !strings.Contains(string(content), "previous session") {
			t.Error("existing content was overwritten")
		}
		if !strings.Contains(string(content), "appliance connected") {
			t.Error("new content was not appended")
		}
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		if _, err := NewFileLogger("/nonexistent/directory/file.log"); err == nil {
			t.Error("expected error for invalid path")
		}
	})
}

func TestFileLogger_Log(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("writes formatted message with timestamp", func(t *testing.T) {
		path := filepath.Join(tmpDir, "fmt.log")
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		defer logger.Close()

		logger.Log("tank %s at %d%%", "EP_1", 42)

		content, _ := os.ReadFile(path)
		str := string(content)
		if !strings.Contains(str, "tank EP_1 at 42%") {
			t.Errorf("expected message in output, got: %s", str)
		}
		// YYYY-MM-DD HH:MM:SS.mmm
		if len(str) < 23 {
			t.Error("output too short to contain timestamp")
		}
	})

	t.Run("does not write after close", func(t *testing.T) {
		path := filepath.Join(tmpDir, "closed.log")
		logger, _ := NewFileLogger(path)
		logger.Close()

		logger.Log("should not appear")

		content, _ := os.ReadFile(path)
		if strings.Contains(string(content), "should not appear") {
			t.Error("logged after close")
		}
	})

	t.Run("nil logger is a no-op", func(t *testing.T) {
		var logger *FileLogger
		logger.Log("nothing")
		if err := logger.Close(); err != nil {
			t.Errorf("Close on nil logger: %v", err)
		}
	})
}

func TestFileLogger_Close(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "close.log"))
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestFileLogger_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.log")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Log("message from goroutine %d", n)
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 100 {
		t.Errorf("expected 100 lines, got %d", len(lines))
	}
}

func TestConsoleSink(t *testing.T) {
	var stderr bytes.Buffer
	SetOutput(log.New(&stderr, "", 0))
	defer SetOutput(log.New(os.Stderr, "", log.LstdFlags))

	path := filepath.Join(t.TempDir(), "app.log")
	file, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	SetFileLogger(file)
	defer func() {
		SetFileLogger(nil)
		file.Close()
	}()

	debug, errorf := ConsoleSink("appliance")
	debug("frame %d", 1)
	errorf("dropping frame: %s", "bad json")

	if got := stderr.String(); got != "[appliance] dropping frame: bad json\n" {
		t.Errorf("stderr = %q", got)
	}
	if strings.Contains(stderr.String(), "frame 1") {
		t.Error("debug line leaked to stderr")
	}

	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "[appliance] dropping frame: bad json") {
		t.Errorf("file log missing error line: %s", content)
	}
}
