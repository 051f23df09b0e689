// Package commands contains CLI command implementations for the application.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"

	"github.com/allisson/phivault/internal/app"
)

// IOTuple holds reader and writer for commands, allowing for testing.
type IOTuple struct {
	Reader io.Reader
	Writer io.Writer
}

// DefaultIO returns an IOTuple with os.Stdin and os.Stdout.
func DefaultIO() IOTuple {
	return IOTuple{
		Reader: os.Stdin,
		Writer: os.Stdout,
	}
}

// closeContainer closes all resources in the container and logs any errors.
func closeContainer(container *app.Container, logger *slog.Logger) {
	if err := container.Shutdown(context.Background()); err != nil {
		logger.Error("failed to shutdown container", slog.Any("error", err))
	}
}

// closeMigrate closes the migration instance and logs any errors.
func closeMigrate(migrate *migrate.Migrate, logger *slog.Logger) {
	sourceError, databaseError := migrate.Close()
	if sourceError != nil || databaseError != nil {
		logger.Error(
			"failed to close the migrate",
			slog.Any("source_error", sourceError),
			slog.Any("database_error", databaseError),
		)
	}
}

// parseTimeRange parses from/to date strings. An empty from defaults to
// 24 hours before to; an empty to defaults to now.
func parseTimeRange(fromStr, toStr string) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	if toStr != "" {
		parsed, err := parseDate(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
		}
		to = parsed
	}

	from := to.Add(-24 * time.Hour)
	if fromStr != "" {
		parsed, err := parseDate(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
		}
		from = parsed
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date must not be before start date")
	}

	return from, to, nil
}

// parseDate parses a date string in format "YYYY-MM-DD" or "YYYY-MM-DD HH:MM:SS".
func parseDate(dateStr string) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04:05", dateStr)
	if err == nil {
		return t, nil
	}

	t, err = time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf(
			"invalid date format (expected YYYY-MM-DD or YYYY-MM-DD HH:MM:SS): %s",
			dateStr,
		)
	}

	return t, nil
}
