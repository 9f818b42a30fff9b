package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sys/unix"

	"lipsync/internal/config"
	"lipsync/internal/deps"
	"lipsync/internal/facecache"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries and the ffmpeg encoders a
// run needs.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	statuses := deps.CheckBinaries(deps.PipelineRequirements(cfg.FFmpegBinary(), cfg.FFprobeBinary()))
	for _, s := range statuses {
		if s.Name == "FFmpeg" && s.Available {
			statuses = append(statuses, deps.CheckFFmpegEncoders(ctx, s.Command, deps.RequiredEncoders...))
			break
		}
	}
	return statuses
}

// CheckSidecar dials the detector/model server and closes the connection.
func CheckSidecar(ctx context.Context, url string) Result {
	const name = "Sidecar"

	url = strings.TrimSpace(url)
	if url == "" {
		return Result{Name: name, Detail: "missing url (set sidecar.url)"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(checkCtx, url, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", url, err)}
	}
	conn.Close(websocket.StatusNormalClosure, "preflight")
	return Result{Name: name, Passed: true, Detail: url + " (reachable)"}
}

// CheckFaceCache opens the detection cache and reports its size. A broken
// cache never blocks a run, so the result is optional.
func CheckFaceCache(ctx context.Context, path string) Result {
	const name = "Face cache"

	store, err := facecache.Open(path)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()
	stats, err := store.Stats(ctx)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Optional: true, Passed: true,
		Detail: fmt.Sprintf("%s (%d videos, %d frames)", path, stats.Entries, stats.Frames)}
}
