// Package reclaim enforces a disk-space budget on the replay folder by
// deleting the oldest canonical replays once free space falls below a
// configured ratio, subject to a minimum retention floor.
package reclaim

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"replaykeeper/internal/logging"
	"replaykeeper/internal/replay"
)

// Config holds the reclaimer's budget parameters. Immutable once
// constructed.
type Config struct {
	ReplayFolder            string
	MinFreeSpaceRatio       float64 // in (0, 1)
	MinReplayRetentionBytes int64
	MinExpectedDiskBytes    int64
	Interval                time.Duration
}

// Reclaimer runs one disk-budget-enforcement pass at a time.
type Reclaimer struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a Reclaimer for cfg.
func New(cfg Config, logger *slog.Logger) *Reclaimer {
	return &Reclaimer{
		cfg:    cfg,
		logger: logging.Default(logger).With("component", "reclaim"),
	}
}

type diskUsage struct {
	total uint64
	free  uint64
}

// statDisk reads total/free bytes for the filesystem hosting dir.
func statDisk(dir string) (diskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return diskUsage{}, fmt.Errorf("reclaim: statfs %q: %w", dir, err)
	}
	blockSize := uint64(stat.Bsize)
	return diskUsage{
		total: stat.Blocks * blockSize,
		free:  stat.Bavail * blockSize,
	}, nil
}

// validUsage applies the sanity checks a hostile or broken filesystem
// driver might otherwise violate (spec.md's reclaim step 1).
func (r *Reclaimer) validUsage(u diskUsage, minExpected int64) bool {
	if u.total == 0 {
		r.logger.Warn("disk usage reports total size of zero")
		return false
	}
	if u.free > u.total {
		r.logger.Warn("disk usage reports free space greater than total")
		return false
	}
	if minExpected > 0 && u.total < uint64(minExpected) {
		r.logger.Warn("disk total size below configured minimum", "total", u.total, "min_expected", minExpected)
		return false
	}
	return true
}

// shortfall computes how many bytes must be freed to reach
// MinFreeSpaceRatio, or 0 if already at or above target.
func (r *Reclaimer) shortfall(u diskUsage) int64 {
	currentRatio := float64(u.free) / float64(u.total)
	r.logger.Info("disk usage", "free_ratio", currentRatio, "free_bytes", u.free, "total_bytes", u.total)

	overusage := r.cfg.MinFreeSpaceRatio - currentRatio
	if overusage <= 0 {
		return 0
	}
	return int64(overusage * float64(u.total))
}

type candidate struct {
	path       string
	size       int64
	finishedAt time.Time
}

// RunOnce performs a single pass: check disk usage, compute the shortfall,
// and evict the oldest ".rep.zip" files until either the shortfall is met
// or the retention floor is reached. Errors are the caller's to log and
// swallow, matching the "log and continue" policy for a periodic loop.
func (r *Reclaimer) RunOnce() error {
	usage, err := statDisk(r.cfg.ReplayFolder)
	if err != nil {
		return err
	}
	return r.runWithUsage(usage)
}

// runWithUsage is RunOnce's logic taking the disk-usage reading as a
// parameter, so it can be exercised without depending on the real
// filesystem's free space.
func (r *Reclaimer) runWithUsage(usage diskUsage) error {
	if !r.validUsage(usage, r.cfg.MinExpectedDiskBytes) {
		r.logger.Warn("skipping reclaim pass: disk usage reading is not sane")
		return nil
	}

	need := r.shortfall(usage)
	if need <= 0 {
		r.logger.Info("disk usage within budget, skipping reclaim pass")
		return nil
	}

	candidates, totalBytes, err := r.listCandidates()
	if err != nil {
		return err
	}

	freed := int64(0)
	for _, c := range candidates {
		if totalBytes-freed-c.size < r.cfg.MinReplayRetentionBytes {
			r.logger.Info("removing this replay would breach minimum replay retention, stopping reclaim pass",
				"remaining_bytes", totalBytes-freed)
			return nil
		}

		if err := os.Remove(c.path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			r.logger.Warn("failed to remove replay during reclaim", "path", c.path, "error", err)
			continue
		}
		freed += c.size
		r.logger.Info("reclaimed replay", "path", c.path, "size_bytes", c.size)

		if freed >= need {
			return nil
		}
	}

	return nil
}

// listCandidates enumerates every ".rep.zip" in the replay folder, sorted
// oldest-first by finished_at (unparseable names sort last, i.e. "newest").
func (r *Reclaimer) listCandidates() ([]candidate, int64, error) {
	entries, err := os.ReadDir(r.cfg.ReplayFolder)
	if err != nil {
		return nil, 0, fmt.Errorf("reclaim: read replay folder: %w", err)
	}

	farFuture := time.Unix(1<<62, 0).UTC()

	var candidates []candidate
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".rep.zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(r.cfg.ReplayFolder, e.Name())
		finishedAt := replay.ParseFinishedAtWithFallback(e.Name(), farFuture)
		candidates = append(candidates, candidate{path: path, size: info.Size(), finishedAt: finishedAt})
		total += info.Size()
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].finishedAt.Before(candidates[j].finishedAt)
	})

	return candidates, total, nil
}
