// Package fetcher wraps the yt-dlp/ffmpeg subprocess boundary: listing a
// channel's videos and downloading+normalizing one video's audio. This is
// the external fetcher named as an out-of-scope black-box collaborator in
// spec.md §1, implemented here as the concrete subprocess pipeline the
// worker actually shells out to.
package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// Fetcher invokes yt-dlp and ffmpeg as subprocesses.
type Fetcher struct {
	ytDLPPath string
	ffmpegPath string
}

// New constructs a Fetcher. Empty paths fall back to "yt-dlp"/"ffmpeg" on
// $PATH.
func New(ytDLPPath, ffmpegPath string) *Fetcher {
	if ytDLPPath == "" {
		ytDLPPath = "yt-dlp"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Fetcher{ytDLPPath: ytDLPPath, ffmpegPath: ffmpegPath}
}

// ListChannel runs `yt-dlp --dump-json --flat-playlist` against channelURL
// and returns up to maxVideos VOD entries (is_upcoming/is_live/null-duration
// items are filtered out before counting toward the cap), per spec.md §4.4.
func (f *Fetcher) ListChannel(ctx context.Context, channelURL string, maxVideos int) ([]models.FetchedVideo, error) {
	cmd := exec.CommandContext(ctx, f.ytDLPPath, "--dump-json", "--flat-playlist", channelURL)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to attach yt-dlp stdout", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, apperr.External("failed to start yt-dlp listing", err)
	}

	var out []models.FetchedVideo
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() && len(out) < maxVideos {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var item models.FetchedVideo
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			continue // one malformed listing line must not abort the whole channel
		}
		if !item.IsVOD() {
			continue
		}
		out = append(out, item)
	}

	if err := cmd.Wait(); err != nil {
		return nil, apperr.External(fmt.Sprintf("yt-dlp listing failed: %s", stderr.String()), err)
	}
	return out, nil
}

// DownloadAudio pipes yt-dlp's best-audio stream into ffmpeg, writing a 16
// kHz mono WAV to destPath. Modeled on the original worker's
// `yt-dlp | ffmpeg` pipeline, using os/exec + io.Pipe in place of Python's
// subprocess.Popen pipe.
func (f *Fetcher) DownloadAudio(ctx context.Context, videoID, destPath string) error {
	videoURL := "https://www.youtube.com/watch?v=" + videoID

	ytdlp := exec.CommandContext(ctx, f.ytDLPPath, "-f", "bestaudio", "-o", "-", videoURL)
	ffmpeg := exec.CommandContext(ctx, f.ffmpegPath, "-i", "pipe:0", "-ar", "16000", "-ac", "1", "-y", destPath)

	pr, pw := io.Pipe()
	ytdlp.Stdout = pw
	ffmpeg.Stdin = pr

	var ytdlpErr, ffmpegErr strings.Builder
	ytdlp.Stderr = &ytdlpErr
	ffmpeg.Stderr = &ffmpegErr

	if err := ffmpeg.Start(); err != nil {
		return apperr.External("failed to start ffmpeg", err)
	}
	if err := ytdlp.Start(); err != nil {
		pw.Close()
		return apperr.External("failed to start yt-dlp download", err)
	}

	go func() {
		err := ytdlp.Wait()
		if err != nil {
			pw.CloseWithError(fmt.Errorf("yt-dlp download failed: %s: %w", ytdlpErr.String(), err))
			return
		}
		pw.Close()
	}()

	if err := ffmpeg.Wait(); err != nil {
		return apperr.External(fmt.Sprintf("ffmpeg transcode failed: %s", ffmpegErr.String()), err)
	}
	return nil
}
