package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// File name shape: cura-<run id>-d<day>.ckpt
const (
	filePrefix = "cura-"
	fileSuffix = ".ckpt"
)

// FileName returns the checkpoint file name for a run's day.
func FileName(runID string, day int) string {
	return fmt.Sprintf("%s%s-d%06d%s", filePrefix, runID, day, fileSuffix)
}

// Info holds metadata for retention decisions.
type Info struct {
	Path      string
	Size      int64
	CreatedAt time.Time
	RunID     string
	Day       int
}

// RetentionPolicy decides which checkpoints to keep.
type RetentionPolicy interface {
	Apply(checkpoints []Info) (keep []Info)
}

// CountPolicy keeps the N most recent checkpoints.
type CountPolicy struct {
	MaxCount int
}

// Apply keeps the first MaxCount checkpoints (assumed sorted newest-first).
func (p *CountPolicy) Apply(checkpoints []Info) []Info {
	if len(checkpoints) <= p.MaxCount {
		return checkpoints
	}
	return checkpoints[:p.MaxCount]
}

// AgePolicy keeps checkpoints newer than MaxAge.
type AgePolicy struct {
	MaxAge time.Duration
}

// Apply keeps checkpoints whose CreatedAt is within MaxAge of now.
func (p *AgePolicy) Apply(checkpoints []Info) []Info {
	cutoff := time.Now().Add(-p.MaxAge)
	var keep []Info
	for _, c := range checkpoints {
		if c.CreatedAt.After(cutoff) {
			keep = append(keep, c)
		}
	}
	return keep
}

// CompositePolicy keeps a checkpoint if any sub-policy wants it.
type CompositePolicy struct {
	Policies []RetentionPolicy
}

// Apply returns the union of checkpoints kept by any sub-policy.
func (p *CompositePolicy) Apply(checkpoints []Info) []Info {
	kept := make(map[string]bool)
	for _, policy := range p.Policies {
		for _, c := range policy.Apply(checkpoints) {
			kept[c.Path] = true
		}
	}

	var result []Info
	for _, c := range checkpoints {
		if kept[c.Path] {
			result = append(result, c)
		}
	}
	return result
}

// RunPolicy applies Policy to one run's checkpoints and keeps every other
// checkpoint in the directory.
type RunPolicy struct {
	RunID  string
	Policy RetentionPolicy
}

// Apply keeps all checkpoints whose RunID differs, plus whatever Policy keeps
// among the run's own, preserving the input order.
func (p *RunPolicy) Apply(checkpoints []Info) []Info {
	var own []Info
	for _, c := range checkpoints {
		if c.RunID == p.RunID {
			own = append(own, c)
		}
	}
	kept := make(map[string]bool, len(own))
	for _, c := range p.Policy.Apply(own) {
		kept[c.Path] = true
	}

	var result []Info
	for _, c := range checkpoints {
		if c.RunID != p.RunID || kept[c.Path] {
			result = append(result, c)
		}
	}
	return result
}

// List scans dir for checkpoint files and returns them newest-first.
// CreatedAt comes from the header, or the file's mtime if the header is
// unreadable.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}

		info := Info{
			Path:      filepath.Join(dir, name),
			Size:      fi.Size(),
			CreatedAt: fi.ModTime(),
		}
		if h, err := ReadHeader(info.Path); err == nil {
			info.CreatedAt = h.CreatedAt
			info.RunID = h.RunID
			info.Day = h.Day
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// ApplyRetention deletes checkpoints in dir not kept by the policy.
func ApplyRetention(dir string, policy RetentionPolicy) (deleted []string, err error) {
	checkpoints, err := List(dir)
	if err != nil {
		return nil, err
	}

	keepSet := make(map[string]bool)
	for _, c := range policy.Apply(checkpoints) {
		keepSet[c.Path] = true
	}

	for _, c := range checkpoints {
		if keepSet[c.Path] {
			continue
		}
		if err := os.Remove(c.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(c.Path), err)
		}
		deleted = append(deleted, c.Path)
	}
	return deleted, nil
}

// ParseDuration parses duration strings like "30d", "2w", "720h".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}
