package rules

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"

	"crashproc/internal/models"
)

const (
	// MemoryReportDump is the dump name of the gzipped memory report.
	MemoryReportDump = "memory_report"
	// JSONDumpName is the dump name of the stackwalker output.
	JSONDumpName = "json_dump"

	// DefaultMemoryReportMaxBytes bounds the uncompressed memory report.
	DefaultMemoryReportMaxBytes = 20 * 1024 * 1024
	// DefaultJSONDumpMaxBytes bounds the uncompressed stackwalker output.
	DefaultJSONDumpMaxBytes = 50 * 1024 * 1024

	// overflowCountFactor bounds how far past the limit an oversized dump
	// is decompressed to measure it.
	overflowCountFactor = 100
)

var (
	// ErrGzip wraps failures to open or decompress a dump.
	ErrGzip = errors.New("error in gzip")
	// ErrJSON wraps failures to decode a dump.
	ErrJSON = errors.New("error in json")
	// ErrTooLarge is returned when a dump expands past its limit.
	ErrTooLarge = errors.New("uncompressed dump too large")

	// errSizeLowerBound marks an ErrTooLarge whose size was not counted
	// to the end.
	errSizeLowerBound = errors.New("size is a lower bound")
)

var gzipMagic = []byte{0x1f, 0x8b}

// readDump reads a dump, decompressing it when gzipped is true (or when
// detect is set and the gzip magic is present), and refuses anything
// larger than maxBytes once decompressed. For an oversized dump the returned
// size is the uncompressed length, counted up to overflowCountFactor times
// maxBytes.
func readDump(dumps models.RawDumps, name string, maxBytes int64, gzipped, detect bool) ([]byte, int64, error) {
	f, err := dumps.Open(name)
	if err != nil {
		return nil, 0, fmt.Errorf("%w for %s: %w", ErrGzip, name, err)
	}
	defer f.Close()

	var r io.Reader = f
	if detect {
		br := bufio.NewReader(f)
		if magic, err := br.Peek(len(gzipMagic)); err == nil && bytes.Equal(magic, gzipMagic) {
			gzipped = true
		}

		r = br
	}

	if gzipped {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w for %s: %w", ErrGzip, name, err)
		}
		defer gz.Close()

		r = gz
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, 0, fmt.Errorf("%w for %s: %w", ErrGzip, name, err)
	}

	size := int64(len(data))
	if size > maxBytes {
		countLimit := int64(math.MaxInt64)
		if maxBytes < math.MaxInt64/overflowCountFactor {
			countLimit = maxBytes * overflowCountFactor
		}

		rest, _ := io.Copy(io.Discard, io.LimitReader(r, countLimit-size+1))
		if total := size + rest; total <= countLimit {
			return nil, total, fmt.Errorf("%w: %d (max: %d)", ErrTooLarge, total, maxBytes)
		}

		return nil, countLimit, fmt.Errorf("%w: %w: at least %d (max: %d)", ErrTooLarge, errSizeLowerBound, countLimit, maxBytes)
	}

	return data, size, nil
}

// OutOfMemoryBinaryRule decodes the gzipped memory report attached to out
// of memory crashes.
type OutOfMemoryBinaryRule struct {
	// MaxSizeUncompressed bounds the decoded report. Zero means the default.
	MaxSizeUncompressed int64
}

// Name implements Rule.
func (r *OutOfMemoryBinaryRule) Name() string { return "OutOfMemoryBinaryRule" }

// Predicate implements Rule.
func (r *OutOfMemoryBinaryRule) Predicate(_ models.RawCrash, dumps models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	return models.HasDump(dumps, MemoryReportDump)
}

// Action implements Rule.
func (r *OutOfMemoryBinaryRule) Action(_ context.Context, _ models.RawCrash, dumps models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) error {
	maxBytes := r.MaxSizeUncompressed
	if maxBytes <= 0 {
		maxBytes = DefaultMemoryReportMaxBytes
	}

	report, err := r.extract(dumps, maxBytes)
	if err != nil {
		meta.AddNote(err.Error())
		processed["memory_report_error"] = err.Error()

		return nil
	}

	processed["memory_report"] = report

	return nil
}

func (r *OutOfMemoryBinaryRule) extract(dumps models.RawDumps, maxBytes int64) (any, error) {
	data, size, err := readDump(dumps, MemoryReportDump, maxBytes, true, false)
	if errors.Is(err, errSizeLowerBound) {
		return nil, fmt.Errorf("Uncompressed memory info too large at least %d (max: %d)", size, maxBytes)
	}

	if errors.Is(err, ErrTooLarge) {
		return nil, fmt.Errorf("Uncompressed memory info too large %d (max: %d)", size, maxBytes)
	}

	if err != nil {
		return nil, err
	}

	var report any
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrJSON, MemoryReportDump, err)
	}

	return report, nil
}

// JSONDumpRule loads the stackwalker output dump into json_dump.
type JSONDumpRule struct {
	// MaxSizeUncompressed bounds the decoded dump. Zero means the default.
	MaxSizeUncompressed int64
}

// Name implements Rule.
func (r *JSONDumpRule) Name() string { return "JSONDumpRule" }

// Predicate implements Rule.
func (r *JSONDumpRule) Predicate(_ models.RawCrash, dumps models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	return models.HasDump(dumps, JSONDumpName)
}

// Action implements Rule.
func (r *JSONDumpRule) Action(_ context.Context, _ models.RawCrash, dumps models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) error {
	maxBytes := r.MaxSizeUncompressed
	if maxBytes <= 0 {
		maxBytes = DefaultJSONDumpMaxBytes
	}

	data, _, err := readDump(dumps, JSONDumpName, maxBytes, false, true)
	if err == nil {
		var doc map[string]any
		if err = json.Unmarshal(data, &doc); err == nil {
			processed["json_dump"] = doc
			return nil
		}

		err = fmt.Errorf("%w for %s: %w", ErrJSON, JSONDumpName, err)
	}

	meta.AddNote(err.Error())
	processed["json_dump_error"] = err.Error()

	return nil
}
