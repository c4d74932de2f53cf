package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcflog"
)

// inboxPoint is one line of a batch ingestion file: a point plus an
// optional explicit sequence number. A zero Seq means "assign the next
// one from the shared counter", which is the common case.
type inboxPoint struct {
	Point []float64 `json:"point"`
	Seq   uint64    `json:"seq,omitempty"`
}

// watchInbox polls dir for newly written/created files via fsnotify,
// parses each as newline-delimited JSON inboxPoint records, and feeds
// every point through ingest. This is the batch/offline path
// SPEC_FULL.md section 6 describes: "a point-dropping integration
// pattern, not a queue — simple and observable". A line that fails to
// parse is logged and skipped, and the rest of the file is still
// ingested; no ingested point is rolled back.
func watchInbox(ctx context.Context, dir string, seqCounter *uint64, ingest func(point []float64, seq uint64) error, logger rcflog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()

		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				ingestFile(event.Name, seqCounter, ingest, logger)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				logger.Warn("rcf-ingest: inbox watch error on %s: %v", dir, err)
			}
		}
	}()

	return nil
}

func ingestFile(path string, seqCounter *uint64, ingest func(point []float64, seq uint64) error, logger rcflog.Logger) {
	file, err := os.Open(path)
	if err != nil {
		logger.Warn("rcf-ingest: inbox open %s failed: %v", path, err)

		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var p inboxPoint
		if err := json.Unmarshal(line, &p); err != nil {
			logger.Warn("rcf-ingest: inbox %s: malformed line: %v", filepath.Base(path), err)

			continue
		}

		seq := p.Seq
		if seq == 0 {
			seq = atomic.AddUint64(seqCounter, 1)
		}

		if err := ingest(p.Point, seq); err != nil {
			logger.Warn("rcf-ingest: inbox %s: ingest failed at seq %d: %v", filepath.Base(path), seq, err)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("rcf-ingest: inbox %s: scan failed: %v", filepath.Base(path), err)
	}
}
