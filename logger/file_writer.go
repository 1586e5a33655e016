package logger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const dateLayout = "2006-01-02"

var errWriterClosed = errors.New("writer is closed")

// DailyFileWriter is an io.Writer appending to {service}_{date}.log in a
// directory and switching files when the date changes. A background
// goroutine re-checks the date every hour. Safe for concurrent use.
type DailyFileWriter struct {
	service string
	dir     string

	mu       sync.Mutex
	file     *os.File
	currDate string

	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDailyFileWriter opens today's log file in logDir, which must already
// exist.
//
// Parameters:
//   - service: Service name used in file names
//   - logDir: Directory for log files
//
// Returns:
//   - The writer, or an error if the first file cannot be opened
func NewDailyFileWriter(service string, logDir string) (*DailyFileWriter, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &DailyFileWriter{
		service: service,
		dir:     logDir,
		cancel:  cancel,
	}

	w.mu.Lock()
	err := w.rotateLocked(time.Now())
	w.mu.Unlock()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("initial rotation failed: %w", err)
	}

	w.wg.Add(1)
	go w.rotateHourly(ctx)
	return w, nil
}

// Write implements io.Writer.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, errWriterClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if w.file == nil || now.Format(dateLayout) != w.currDate {
		if err := w.rotateLocked(now); err != nil {
			return 0, fmt.Errorf("rotation failed: %w", err)
		}
	}

	return w.file.Write(p)
}

// Close stops the rotation goroutine and closes the current file. Later
// writes fail. Safe to call more than once.
func (w *DailyFileWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyFileWriter) rotateHourly(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.mu.Lock()
			if now.Format(dateLayout) != w.currDate {
				_ = w.rotateLocked(now)
			}
			w.mu.Unlock()
		}
	}
}

// rotateLocked opens the file for now's date; caller must hold w.mu.
func (w *DailyFileWriter) rotateLocked(now time.Time) error {
	if w.closed.Load() {
		return errWriterClosed
	}

	date := now.Format(dateLayout)
	file, err := os.OpenFile(w.path(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", w.path(date), err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}

	w.file = file
	w.currDate = date
	return nil
}

func (w *DailyFileWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
}
