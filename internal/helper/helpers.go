package helper

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type HelperRepository struct {
	baseUrl string
	WG      *sync.WaitGroup
	logger  *slog.Logger
}

func New(baseUrl string, logger *slog.Logger) *HelperRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &HelperRepository{
		baseUrl: baseUrl,
		WG:      &sync.WaitGroup{},
		logger:  logger,
	}
}

func (h *HelperRepository) NewEmailData() map[string]any {
	data := map[string]any{
		"BaseURL": h.baseUrl,
	}

	return data
}

// BackgroundTask runs fn on its own goroutine. Errors and panics are logged, never propagated.
func (h *HelperRepository) BackgroundTask(name string, fn func() error) {
	h.WG.Add(1)

	go func() {
		defer h.WG.Done()

		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("background task panicked", "task", name, "error", fmt.Sprintf("%v", err))
			}
		}()

		if err := fn(); err != nil {
			h.logger.Error("background task failed", "task", name, "error", err.Error())
		}
	}()
}

// Wait blocks until every background task started so far has returned.
func (h *HelperRepository) Wait() {
	h.WG.Wait()
}

// Retry calls fn up to attempts times, sleeping delay between tries, and returns the last error.
func Retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if i != attempts {
			time.Sleep(delay)
		}
	}

	return err
}
