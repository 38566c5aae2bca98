package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/dustin/go-humanize"
)

// MinFileDescriptors is the recommended descriptor limit. The server holds
// one descriptor per open SSE stream.
const MinFileDescriptors = 1024

// DiskSpaceProbe fails when the file system holding dir has less than
// minFree bytes available.
func DiskSpaceProbe(dir string, minFree uint64) Probe {
	return Probe{
		Name:     "disk_space",
		Required: true,
		Hint:     "Free some space or point DOCCHAT_DATA_DIR at a larger volume",
		Run: func(context.Context) (string, error) {
			var stat syscall.Statfs_t
			if err := syscall.Statfs(dir, &stat); err != nil {
				return "", fmt.Errorf("failed to check disk space: %w", err)
			}
			avail := stat.Bavail * uint64(stat.Bsize)
			msg := fmt.Sprintf("%s free (minimum %s)", humanize.IBytes(avail), humanize.IBytes(minFree))
			if avail < minFree {
				return "", errors.New(msg)
			}
			return msg, nil
		},
	}
}

// WritableProbe fails when a file cannot be created in dir.
func WritableProbe(dir string) Probe {
	return Probe{
		Name:     "write_permissions",
		Required: true,
		Run: func(context.Context) (string, error) {
			f, err := os.CreateTemp(dir, ".docchat-preflight-*")
			if err != nil {
				return "", fmt.Errorf("permission denied: %w", err)
			}
			_ = f.Close()
			_ = os.Remove(f.Name())
			return "OK", nil
		},
	}
}

// FileLimitProbe warns when the descriptor limit is below recommended.
func FileLimitProbe(recommended uint64) Probe {
	return Probe{
		Name: "file_descriptors",
		Hint: "Run 'ulimit -n 10240' to increase the limit",
		Run: func(context.Context) (string, error) {
			var rl syscall.Rlimit
			if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
				return "", fmt.Errorf("failed to check file descriptor limit: %w", err)
			}
			msg := fmt.Sprintf("%d (recommended: %d)", rl.Cur, recommended)
			if rl.Cur < recommended {
				return "", errors.New(msg)
			}
			return msg, nil
		},
	}
}
