// Package disk evaluates free-space thresholds for mount paths.
package disk

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// ErrUnreachable means the path could not be stat'ed at all.
var ErrUnreachable = errors.New("storage path unreachable")

// Level grades free space against the configured thresholds.
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
	LevelUnreachable
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "unreachable"
	}
}

// Usage is the evaluated state of one path.
type Usage struct {
	Path       string
	TotalBytes uint64
	FreeBytes  uint64
	Level      Level
	Err        error
}

// FreePercent is the share of the filesystem available to unprivileged users.
func (u Usage) FreePercent() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	return float64(u.FreeBytes) / float64(u.TotalBytes) * 100
}

// Describe renders a one-line human summary.
func (u Usage) Describe() string {
	if u.Level == LevelUnreachable {
		return fmt.Sprintf("%s is unreachable: %v", u.Path, u.Err)
	}
	return fmt.Sprintf("%s: %s free of %s (%.1f%%)",
		u.Path, humanize.IBytes(u.FreeBytes), humanize.IBytes(u.TotalBytes), u.FreePercent())
}

// StatFunc returns total and available bytes for path.
type StatFunc func(path string) (total, free uint64, err error)

// Statfs reads filesystem statistics with statfs(2).
func Statfs(path string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}

// Checker grades paths against percent-free thresholds.
type Checker struct {
	warnPercent     float64
	criticalPercent float64
	stat            StatFunc
}

// NewChecker builds a checker. A nil stat uses Statfs.
func NewChecker(warnPercent, criticalPercent float64, stat StatFunc) *Checker {
	if stat == nil {
		stat = Statfs
	}
	return &Checker{warnPercent: warnPercent, criticalPercent: criticalPercent, stat: stat}
}

// Check evaluates every path in order.
func (c *Checker) Check(paths []string) []Usage {
	out := make([]Usage, 0, len(paths))
	for _, p := range paths {
		out = append(out, c.checkOne(p))
	}
	return out
}

func (c *Checker) checkOne(path string) Usage {
	u := Usage{Path: path}
	total, free, err := c.stat(path)
	if err != nil {
		u.Level = LevelUnreachable
		u.Err = fmt.Errorf("%w: %s: %w", ErrUnreachable, path, err)
		return u
	}
	u.TotalBytes, u.FreeBytes = total, free
	if total == 0 {
		u.Level = LevelUnreachable
		u.Err = fmt.Errorf("%w: %s reports zero capacity", ErrUnreachable, path)
		return u
	}
	switch pct := u.FreePercent(); {
	case pct < c.criticalPercent:
		u.Level = LevelCritical
	case pct < c.warnPercent:
		u.Level = LevelWarning
	default:
		u.Level = LevelOK
	}
	return u
}
