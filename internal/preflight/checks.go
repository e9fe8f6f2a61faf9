package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"montage/internal/config"
)

// CheckDirectoryAccess verifies that the path exists, is a directory, and is
// readable, writable, and traversable by the current user.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Passed: false, Detail: "path is not configured"}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Passed: false, Detail: fmt.Sprintf("%s does not exist", path)}
		}
		return Result{Name: name, Passed: false, Detail: fmt.Sprintf("stat %s: %v", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Passed: false, Detail: fmt.Sprintf("%s is not a directory", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Passed: false, Detail: fmt.Sprintf("%s is not read/write accessible", path)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckBinary verifies that the named executable resolves on PATH or at its
// configured absolute location.
func CheckBinary(name, binary string) Result {
	if strings.TrimSpace(binary) == "" {
		return Result{Name: name, Passed: false, Detail: "binary is not configured"}
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return Result{Name: name, Passed: false, Detail: fmt.Sprintf("%s not found: %v", binary, err)}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

// CheckDiskSpace verifies that the filesystem holding path has at least
// minimum bytes available to unprivileged users.
func CheckDiskSpace(name, path string, minimum uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Passed: false, Detail: fmt.Sprintf("statfs %s: %v", path, err)}
	}
	available := stat.Bavail * uint64(stat.Bsize)
	detail := fmt.Sprintf("%.1f GiB available", float64(available)/(1<<30))
	if available < minimum {
		return Result{Name: name, Passed: false, Detail: detail + fmt.Sprintf(", need %.1f GiB", float64(minimum)/(1<<30))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckRemote verifies that the cloud task API endpoint is reachable with the
// configured credentials. Any response below 500 counts as reachable; the
// check establishes connectivity, not task semantics.
func CheckRemote(ctx context.Context, cfg config.Remote) Result {
	const name = "Remote API"

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL, nil)
	if err != nil {
		return Result{Name: name, Passed: false, Detail: fmt.Sprintf("invalid base URL %q: %v", cfg.BaseURL, err)}
	}
	req.Header.Set("X-Instance-ID", cfg.InstanceID)
	req.Header.Set("X-Api-Key", cfg.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Passed: false, Detail: fmt.Sprintf("unreachable: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Passed: false, Detail: fmt.Sprintf("endpoint returned %s", resp.Status)}
	}
	return Result{Name: name, Passed: true, Detail: cfg.BaseURL}
}
