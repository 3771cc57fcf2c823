// Package archive exports the mission audit log to object storage as JSONL.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/kalambet/missiond/internal/events"
	"github.com/kalambet/missiond/internal/storage"
)

// CursorName is the cursor holding the last exported mission log seq.
const CursorName = "archive.mission_logs"

const defaultBatch = 500

// Destination stores one exported object.
type Destination interface {
	Write(ctx context.Context, key string, data []byte) error
}

// Store is the audit log and cursor storage the exporter reads and advances.
type Store interface {
	MissionLogsAfter(ctx context.Context, afterSeq int64, limit int) ([]storage.MissionLog, error)
	GetCursor(ctx context.Context, name string) (string, error)
	SetCursor(ctx context.Context, name, value string) error
}

// Result describes one export run.
type Result struct {
	Records int
	Key     string
	LastSeq int64
}

// Exporter writes mission logs created since the previous export.
type Exporter struct {
	store  Store
	dest   Destination
	prefix string
	batch  int
	now    func() time.Time
	logger *slog.Logger
}

func NewExporter(store Store, dest Destination, prefix string) *Exporter {
	return &Exporter{
		store:  store,
		dest:   dest,
		prefix: prefix,
		batch:  defaultBatch,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Export uploads every record after the cursor as one object, then advances
// the cursor. Nothing is written when there are no new records. A failed
// upload leaves the cursor in place, so the next run retries the same range.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	after, err := e.cursor(ctx)
	if err != nil {
		return Result{}, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	res := Result{LastSeq: after}
	for {
		logs, err := e.store.MissionLogsAfter(ctx, res.LastSeq, e.batch)
		if err != nil {
			return Result{}, fmt.Errorf("reading mission logs after %d: %w", res.LastSeq, err)
		}
		for _, l := range logs {
			if err := enc.Encode(events.NewMissionRecord(l)); err != nil {
				return Result{}, fmt.Errorf("encoding mission log %s: %w", l.ID, err)
			}
			res.LastSeq = l.Seq
			res.Records++
		}
		if len(logs) < e.batch {
			break
		}
	}
	if res.Records == 0 {
		return res, nil
	}

	res.Key = path.Join(e.prefix, "missions-"+e.now().UTC().Format("20060102T150405Z")+".jsonl")
	if err := e.dest.Write(ctx, res.Key, buf.Bytes()); err != nil {
		return Result{}, err
	}
	if err := e.store.SetCursor(ctx, CursorName, strconv.FormatInt(res.LastSeq, 10)); err != nil {
		return Result{}, fmt.Errorf("advancing archive cursor: %w", err)
	}
	e.logger.Info("mission logs archived", "key", res.Key, "records", res.Records, "last_seq", res.LastSeq)
	return res, nil
}

func (e *Exporter) cursor(ctx context.Context) (int64, error) {
	v, err := e.store.GetCursor(ctx, CursorName)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading archive cursor: %w", err)
	}
	seq, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing archive cursor %q: %w", v, err)
	}
	return seq, nil
}
