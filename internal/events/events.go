// Package events drains the ring buffer the in-kernel program emits fixed
// 64-byte Event records into, and tallies them for the Stats Exporter.
//
// The read loop itself follows the reference ring-buffer exporter's shape
// directly: open a pinned ring buffer map, wrap it in a ringbuf.Reader, and
// decode each record with binary.Read at native endianness.
package events

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/sirupsen/logrus"

	"github.com/tesselslate/scxhetero/internal/errs"
	"github.com/tesselslate/scxhetero/internal/model"
)

// MapName is the pinned name of the event ring buffer.
const MapName = "events"

// Consumer owns the ring buffer reader and the running event tallies.
type Consumer struct {
	log      logrus.FieldLogger
	rd       *ringbuf.Reader
	counters model.EventCounters
	onEvent  func(model.Event)
}

// Open opens the pinned ring buffer map under pinDir. A missing ring
// buffer is a fatal, kernel-feature-missing condition: there is no way to
// observe in-kernel activity at all without it.
func Open(pinDir string, log logrus.FieldLogger, onEvent func(model.Event)) (*Consumer, error) {
	m, err := ebpf.LoadPinnedMap(filepath.Join(pinDir, MapName), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ClassKernelFeatureMissing,
			fmt.Errorf("load pinned ring buffer %s: %w: %w", MapName, err, errs.ErrKernelFeatureMissing))
	}
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, errs.Wrap(errs.ClassKernelFeatureMissing, fmt.Errorf("new ringbuf reader: %w", err))
	}
	return &Consumer{log: log.WithField("component", "events"), rd: rd, onEvent: onEvent}, nil
}

// Close stops the reader, unblocking any in-flight Run.
func (c *Consumer) Close() error {
	return c.rd.Close()
}

// Run reads records until ctx is canceled or Close is called, dispatching
// each decoded Event to onEvent and tallying it in Counters. A single
// malformed record is logged at debug and skipped rather than treated as
// fatal, matching the transient-I/O error class: ring buffer corruption
// from an in-kernel program bug shouldn't take down the control plane.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = c.rd.Close()
	}()

	for {
		record, err := c.rd.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			c.log.WithError(err).Debug("ring buffer read failed, continuing")
			continue
		}
		if record.LostSamples > 0 {
			c.counters.AddDropped(record.LostSamples)
			c.log.WithField("count", record.LostSamples).Debug("ring buffer samples dropped")
		}
		var ev model.Event
		if err := binary.Read(bytes.NewReader(record.RawSample), binary.NativeEndian, &ev); err != nil {
			c.log.WithError(err).Debug("malformed event record, skipping")
			continue
		}
		c.counters.Add(ev.Kind)
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}

// Snapshot returns a copy of the running tallies. It is safe to call from
// another goroutine while Run is recording, since EventCounters updates and
// reads each count atomically.
func (c *Consumer) Snapshot() model.EventCountersSnapshot {
	return c.counters.Snapshot()
}
