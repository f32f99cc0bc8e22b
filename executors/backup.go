package executors

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/quailyquaily/opsgate/gate"
)

// SnapshotState copies a local persisted-state artifact aside before a
// mutating command runs. The returned backup names the exact file a
// rollback command should restore.
func SnapshotState(path string) (*gate.Backup, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat state artifact: %w", err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("state artifact is a directory: %s", path)
	}

	ts := time.Now().UTC().Format("20060102T150405Z")
	backupPath := fmt.Sprintf("%s.%s.backup", path, ts)
	if err := copyFile(path, backupPath); err != nil {
		return nil, fmt.Errorf("snapshot state artifact: %w", err)
	}

	return &gate.Backup{
		ID:        "bak_" + ts,
		CreatedAt: time.Now().UTC(),
		Path:      backupPath,
		SizeBytes: st.Size(),
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if dir := filepath.Dir(dst); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
