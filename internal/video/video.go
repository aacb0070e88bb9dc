// Package video opens input videos and streams their decoded frames as JPEG bytes.
package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/emoscan/internal/types"
	"github.com/andresmejia3/emoscan/internal/utils"
)

const megabyte = 1024 * 1024

// Extensions lists the container formats picked up from the input directory.
var Extensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// IsVideo reports whether name carries one of the recognised extensions.
func IsVideo(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Person derives the identity label of a video: its file name without extension.
func Person(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Video is an opened input video. Frames are read sequentially with Next.
type Video struct {
	Path   string
	Person string
	utils.VideoInfo

	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	out     io.ReadCloser
	scanner *bufio.Scanner
}

// Open probes the video and starts the FFmpeg decoder.
// Every failure is reported as a *types.VideoOpenError.
func Open(ctx context.Context, path string) (*Video, error) {
	fail := func(err error) (*Video, error) {
		return nil, &types.VideoOpenError{Path: path, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail(err)
	}
	if info.IsDir() {
		return fail(errors.New("path is a directory"))
	}

	meta, err := utils.ProbeVideo(ctx, path)
	if err != nil {
		return fail(err)
	}

	ffmpeg := utils.NewFFmpegCmd(ctx, path)
	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf

	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("create FFmpeg stdout pipe: %w", err))
	}
	if err := ffmpeg.Start(); err != nil {
		return fail(fmt.Errorf("start FFmpeg: %w", err))
	}

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	return &Video{
		Path:      path,
		Person:    Person(path),
		VideoInfo: meta,
		cmd:       ffmpeg,
		stderr:    &stderrBuf,
		out:       out,
		scanner:   scanner,
	}, nil
}

// Next returns the next decoded frame, or io.EOF once the stream is exhausted.
// The returned slice is owned by the caller.
func (v *Video) Next() ([]byte, error) {
	if v.scanner.Scan() {
		frame := make([]byte, len(v.scanner.Bytes()))
		copy(frame, v.scanner.Bytes())
		return frame, nil
	}
	if err := v.scanner.Err(); err != nil {
		return nil, fmt.Errorf("frame scanner failed: %w", err)
	}
	return nil, io.EOF
}

// Close stops the decoder and reports FFmpeg failures together with its logs.
func (v *Video) Close() error {
	v.out.Close() // Ensure pipe is closed to prevent leaks/zombies
	if err := v.cmd.Wait(); err != nil {
		if v.stderr.Len() > 0 {
			return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(v.stderr.String()))
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}
