package manager

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LogPaths lists the files the native scheduler appends task output to.
func (m *Manager) LogPaths(id string) []string {
	switch m.sched.Platform() {
	case "darwin":
		return []string{
			filepath.Join(m.opts.LogDir, id+".out.log"),
			filepath.Join(m.opts.LogDir, id+".err.log"),
		}
	default:
		return []string{filepath.Join(m.opts.LogDir, id+".log")}
	}
}

// TaskLog returns the last tail lines of each existing output file of a
// task, keyed by path. tail <= 0 returns whole files.
func (m *Manager) TaskLog(ctx context.Context, id string, tail int) (map[string]string, error) {
	if _, err := m.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, path := range m.LogPaths(id) {
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		data, err := readTailLines(f, tail)
		f.Close()
		if err != nil {
			return nil, err
		}
		out[path] = string(data)
	}
	return out, nil
}

func readTailLines(r io.Reader, tail int) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if tail <= 0 {
		return data, nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return []byte(strings.Join(lines, "\n") + "\n"), nil
}
