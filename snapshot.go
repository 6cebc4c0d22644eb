package mudis

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kiebor81/mudis/shard"
)

// snapshotVersion is bumped whenever the container layout changes in a
// way that is not backward compatible. Mismatched versions on load are
// logged and skipped, per §9's Open Question resolution (no crash).
const snapshotVersion = 1

// snapshotRecord is one warm-boot record (§4.10, §6): the decoded
// logical value plus its remaining TTL in whole seconds, or nil for an
// entry that never expires.
type snapshotRecord struct {
	Key       string `json:"key"`
	Value     any    `json:"value"`
	ExpiresIn *int64 `json:"expires_in"`
}

// snapshotContainer is the on-disk format: a version/serializer header
// plus the record sequence, so a load against a differently-configured
// cache can be refused cleanly instead of silently misinterpreting
// payloads encoded by a different codec.
type snapshotContainer struct {
	Version    int              `json:"version"`
	Serializer string           `json:"serializer"`
	Records    []snapshotRecord `json:"records"`
}

// SaveSnapshot walks every shard under its own mutex, collects unexpired
// entries as decoded (key, value, remaining_ttl) records, and writes the
// container atomically: to "path.tmp.<pid>" then renamed over path
// (§4.10). I/O and encode failures are logged, never returned as a
// process-crashing error from callers that treat persistence as
// best-effort (Close still propagates the error to its own caller).
func (c *Cache) SaveSnapshot() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.saveSnapshot()
}

// saveSnapshot is SaveSnapshot's implementation without the closed check,
// so Close can take its own final snapshot after already marking the
// cache closed.
func (c *Cache) saveSnapshot() error {
	c.cfgMu.RLock()
	path := c.cfg.PersistencePath
	format := c.cfg.PersistenceFormat
	safeWrite := c.cfg.PersistenceSafeWrite
	serializerName := string(c.cfg.Serializer)
	c.cfgMu.RUnlock()

	now := c.now()
	var records []snapshotRecord

	for _, s := range c.snapshotShards() {
		s.ForEachLive(now, func(key string, e shard.Entry) {
			val, err := c.decodeValue(e.Payload, e.Compressed)
			if err != nil {
				c.logger.Warn("mudis: snapshot skip, decode failed", zap.String("key", key), zap.Error(err))
				return
			}
			rec := snapshotRecord{Key: key, Value: val}
			if e.ExpiresAt != 0 {
				remaining := (e.ExpiresAt - now) / int64(time.Second)
				if remaining < 0 {
					remaining = 0
				}
				rec.ExpiresIn = &remaining
			}
			records = append(records, rec)
		})
	}

	container := snapshotContainer{Version: snapshotVersion, Serializer: serializerName, Records: records}

	var data []byte
	var err error
	switch format {
	case PersistenceBinary:
		var buf bytes.Buffer
		err = gob.NewEncoder(&buf).Encode(container)
		data = buf.Bytes()
	default:
		data, err = json.Marshal(container)
	}
	if err != nil {
		c.logger.Error("mudis: snapshot encode failed", zap.Error(err))
		return fmt.Errorf("mudis: snapshot encode: %w", err)
	}

	if !safeWrite {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			c.logger.Error("mudis: snapshot write failed", zap.Error(err))
			return err
		}
		return nil
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Error("mudis: snapshot write failed", zap.Error(err))
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		c.logger.Error("mudis: snapshot rename failed", zap.Error(err))
		return err
	}
	return nil
}

// LoadSnapshot restores records from PersistencePath via Write, so every
// current limit, compression setting, and TTL rule applies exactly as it
// would to a live write. A missing file is a no-op, not an error. A
// serializer mismatch between the snapshot header and the live config is
// logged and the whole load is skipped rather than partially applied.
func (c *Cache) LoadSnapshot() error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.cfgMu.RLock()
	path := c.cfg.PersistencePath
	format := c.cfg.PersistenceFormat
	serializerName := string(c.cfg.Serializer)
	c.cfgMu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		c.logger.Warn("mudis: snapshot read failed", zap.Error(err))
		return err
	}

	var container snapshotContainer
	switch format {
	case PersistenceBinary:
		err = gob.NewDecoder(bytes.NewReader(data)).Decode(&container)
	default:
		err = json.Unmarshal(data, &container)
	}
	if err != nil {
		c.logger.Warn("mudis: snapshot parse failed", zap.Error(err))
		return err
	}

	if container.Version != snapshotVersion {
		c.logger.Warn("mudis: snapshot version mismatch, skipping load",
			zap.Int("snapshot_version", container.Version))
		return nil
	}
	if container.Serializer != serializerName {
		c.logger.Warn("mudis: snapshot serializer does not match configured codec, skipping load",
			zap.String("snapshot_serializer", container.Serializer), zap.String("configured_serializer", serializerName))
		return ErrCodecMismatch
	}

	ctx := context.Background()
	for _, rec := range container.Records {
		opts := []Option{}
		if rec.ExpiresIn != nil {
			opts = append(opts, WithTTL(time.Duration(*rec.ExpiresIn)*time.Second))
		}
		if err := c.Write(ctx, rec.Key, rec.Value, opts...); err != nil {
			c.logger.Warn("mudis: snapshot record restore failed", zap.String("key", rec.Key), zap.Error(err))
		}
	}
	return nil
}

// installExitHook installs a one-shot SIGINT/SIGTERM handler that saves a
// final snapshot before re-raising the signal against the default
// handler, the explicit-shutdown-method equivalent of an at-exit hook
// (§9: "the at-exit persistence hook becomes an explicit shutdown method
// plus an optional auto-install").
func installExitHook(c *Cache) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		if err := c.SaveSnapshot(); err != nil {
			c.logger.Error("mudis: at-exit snapshot save failed", zap.Error(err))
		}
		signal.Stop(sigCh)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(sig)
		}
	}()
}
