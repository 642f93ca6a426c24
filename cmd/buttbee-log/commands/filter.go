package commands

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/buttbee/buttbee-go/pkg/log"
)

// FilterOptions holds the textual filter flags shared by view and filter.
type FilterOptions struct {
	ConnID      string
	DeviceIndex *uint32
	TimeStart   string
	TimeEnd     string
	Layer       string
	Direction   string
	Category    string
	Message     string
}

var (
	layers = map[string]log.Layer{
		"transport": log.LayerTransport,
		"wire":      log.LayerWire,
		"client":    log.LayerClient,
	}
	directions = map[string]log.Direction{
		"in":  log.DirectionIn,
		"out": log.DirectionOut,
	}
	categories = map[string]log.Category{
		"message": log.CategoryMessage,
		"control": log.CategoryControl,
		"state":   log.CategoryState,
		"error":   log.CategoryError,
	}
)

// lookup resolves a case-insensitive flag value against table. An empty
// value yields nil.
func lookup[T any](flag, value string, table map[string]T) (*T, error) {
	if value == "" {
		return nil, nil
	}
	v, ok := table[strings.ToLower(value)]
	if !ok {
		names := make([]string, 0, len(table))
		for name := range table {
			names = append(names, name)
		}
		slices.Sort(names)
		return nil, fmt.Errorf("invalid %s: %s (must be one of %s)", flag, value, strings.Join(names, ", "))
	}
	return &v, nil
}

func parseTime(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", flag, err)
	}
	return &t, nil
}

// BuildFilter parses opts into a log.Filter.
func BuildFilter(opts FilterOptions) (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		DeviceIndex:  opts.DeviceIndex,
		MessageName:  opts.Message,
	}

	var err error
	if filter.TimeStart, err = parseTime("time-start", opts.TimeStart); err != nil {
		return log.Filter{}, err
	}
	if filter.TimeEnd, err = parseTime("time-end", opts.TimeEnd); err != nil {
		return log.Filter{}, err
	}
	if filter.Layer, err = lookup("layer", opts.Layer, layers); err != nil {
		return log.Filter{}, err
	}
	if filter.Direction, err = lookup("direction", opts.Direction, directions); err != nil {
		return log.Filter{}, err
	}
	if filter.Category, err = lookup("category", opts.Category, categories); err != nil {
		return log.Filter{}, err
	}
	if filter.TimeStart != nil && filter.TimeEnd != nil && !filter.TimeEnd.After(*filter.TimeStart) {
		return log.Filter{}, fmt.Errorf("time-end %s is not after time-start %s", opts.TimeEnd, opts.TimeStart)
	}
	return filter, nil
}

// RunFilter copies the events of path matching opts to output and returns
// how many were written.
func RunFilter(path, output string, opts FilterOptions) (int, error) {
	filter, err := BuildFilter(opts)
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}
	if err := logger.Close(); err != nil {
		return count, fmt.Errorf("failed to write output file: %w", err)
	}
	return count, nil
}
