package repository

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	appErr "stressjudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

// MaxSnapshotFileBytes bounds the content kept per file.
const MaxSnapshotFileBytes = 1 << 20

// SnapshotFile is one source file captured with a run.
type SnapshotFile struct {
	Path      string    `json:"path"`
	Content   string    `json:"content,omitempty"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"modTime"`
	Truncated bool      `json:"truncated,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// FilesSnapshot is the decoded form of RunRecord.FilesSnapshot.
type FilesSnapshot struct {
	Files []SnapshotFile `json:"files"`
}

// EncodeFilesSnapshot reads paths and returns zstd-compressed JSON. Unreadable
// files are recorded with their error instead of failing the snapshot.
func EncodeFilesSnapshot(paths []string) ([]byte, error) {
	snap := FilesSnapshot{Files: make([]SnapshotFile, 0, len(paths))}
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		snap.Files = append(snap.Files, readSnapshotFile(path))
	}
	sort.Slice(snap.Files, func(i, j int) bool {
		return snap.Files[i].Path < snap.Files[j].Path
	})

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SnapshotFailed, "encode snapshot")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SnapshotFailed, "create zstd encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodeFilesSnapshot reverses EncodeFilesSnapshot. An empty blob yields an empty snapshot.
func DecodeFilesSnapshot(blob []byte) (FilesSnapshot, error) {
	if len(blob) == 0 {
		return FilesSnapshot{}, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return FilesSnapshot{}, appErr.Wrapf(err, appErr.SnapshotFailed, "create zstd decoder")
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return FilesSnapshot{}, appErr.Wrapf(err, appErr.SnapshotFailed, "decompress snapshot")
	}
	var snap FilesSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return FilesSnapshot{}, appErr.Wrapf(err, appErr.SnapshotFailed, "decode snapshot")
	}
	return snap, nil
}

func readSnapshotFile(path string) SnapshotFile {
	f := SnapshotFile{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		f.Error = err.Error()
		return f
	}
	f.Size = info.Size()
	f.ModTime = info.ModTime().UTC()
	if info.IsDir() {
		f.Error = "is a directory"
		return f
	}
	data, err := os.ReadFile(path)
	if err != nil {
		f.Error = err.Error()
		return f
	}
	if len(data) > MaxSnapshotFileBytes {
		data = data[:MaxSnapshotFileBytes]
		f.Truncated = true
	}
	f.Content = string(data)
	return f
}
