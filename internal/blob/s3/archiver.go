package s3blob

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// RawEventPrefix is the key prefix under which raw mirrors are archived.
const RawEventPrefix = "archive/raw_events/"

const jsonlContentType = "application/x-ndjson"

// multipartWriter is implemented by Writer for objects above minPartSize.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// RawEventArchiver implements domain.Archiver. Each run exports every raw
// event older than the cutoff, one JSONL object per mirror and calendar
// month of block time. Records are not removed from the primary store, so a
// later run rewrites a month file with a superset of its previous content.
type RawEventArchiver struct {
	writer domain.BlobWriter
	events domain.RawEventStore
	logger *slog.Logger
}

// NewArchiver creates a RawEventArchiver.
func NewArchiver(writer domain.BlobWriter, events domain.RawEventStore, logger *slog.Logger) *RawEventArchiver {
	return &RawEventArchiver{writer: writer, events: events, logger: logger}
}

// ArchiveRawEvents uploads the raw events older than before and returns
// how many were written.
func (a *RawEventArchiver) ArchiveRawEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive raw events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	groups := make(map[string][]domain.RawEvent)
	for _, ev := range events {
		path := ArchivePath(ev)
		groups[path] = append(groups[path], ev)
	}
	paths := make([]string, 0, len(groups))
	for path := range groups {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	var count int64
	for _, path := range paths {
		buf, err := marshalJSONL(groups[path])
		if err != nil {
			return count, fmt.Errorf("s3blob: archive %s marshal: %w", path, err)
		}
		if err := a.put(ctx, path, buf); err != nil {
			return count, fmt.Errorf("s3blob: archive %s upload: %w", path, err)
		}
		count += int64(len(groups[path]))
		a.logger.Debug("raw events archived", slog.String("path", path), slog.Int("count", len(groups[path])))
	}
	return count, nil
}

func (a *RawEventArchiver) put(ctx context.Context, path string, buf []byte) error {
	if mw, ok := a.writer.(multipartWriter); ok && int64(len(buf)) > minPartSize {
		return mw.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

// ArchivePath builds the object key for ev, partitioned by mirror and the
// UTC month of its block time:
//
//	archive/raw_events/PredictionMarket_MarketCreated/2025-01.jsonl
func ArchivePath(ev domain.RawEvent) string {
	month := time.Unix(ev.Meta.BlockTimestamp, 0).UTC().Format("2006-01")
	return fmt.Sprintf("%s%s/%s.jsonl", RawEventPrefix, ev.Name, month)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// LoadRawEvents reads every archive object under prefix and returns the
// events in chain order. Blank lines are ignored.
func LoadRawEvents(ctx context.Context, reader domain.BlobReader, prefix string) ([]domain.RawEvent, error) {
	infos, err := reader.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var events []domain.RawEvent
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, ".jsonl") {
			continue
		}
		batch, err := readObject(ctx, reader, info.Path)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}

	slices.SortFunc(events, func(a, b domain.RawEvent) int {
		if c := cmp.Compare(a.Meta.BlockNumber, b.Meta.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.Meta.LogIndex, b.Meta.LogIndex)
	})
	return events, nil
}

func readObject(ctx context.Context, reader domain.BlobReader, path string) ([]domain.RawEvent, error) {
	body, err := reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []domain.RawEvent
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev domain.RawEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("s3blob: %s line %d: %w", path, line, err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return out, nil
}

var _ domain.Archiver = (*RawEventArchiver)(nil)
