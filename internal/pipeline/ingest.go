package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"videorag/internal/audio"
	"videorag/internal/database"
	"videorag/internal/fetcher"
	"videorag/internal/models"
)

// IngestStage fetches a channel's recent video listing, registers unseen
// videos, and downloads+normalizes their audio (C4).
type IngestStage struct {
	Channels *database.ChannelRepository
	Videos   *database.VideoRepository
	Fetcher  *fetcher.Fetcher
	Audio    audio.Store
	TmpDir   string

	// MetadataFetchTimeout and DownloadTimeout bound each yt-dlp/ffmpeg
	// subprocess invocation (spec.md §5) so a hung process can't block the
	// worker indefinitely. Zero falls back to 60s/600s.
	MetadataFetchTimeout time.Duration
	DownloadTimeout      time.Duration
}

// Result summarizes one Ingest run.
type Result struct {
	ChannelID   int64
	NewVideoIDs []string
}

// Run fetches the channel listing, registers new videos, and (if
// req.Download) downloads+transcodes their audio. Download failures are
// tolerated per video: a failed download simply leaves Downloaded=false,
// which the Transcribe stage treats as a per-video failure later.
func (s *IngestStage) Run(ctx context.Context, req models.PipelineRequest, reporter Reporter) (*Result, error) {
	reporter.Update(0, "listing channel")

	listCtx, cancel := context.WithTimeout(ctx, s.metadataFetchTimeout())
	items, err := s.Fetcher.ListChannel(listCtx, req.ChannelURL, maxVideosOrDefault(req.MaxVideos))
	cancel()
	if err != nil {
		return nil, err
	}

	channel, err := s.Channels.GetOrCreate(ctx, req.ChannelURL, req.ChannelURL)
	if err != nil {
		return nil, err
	}

	var newIDs []string
	for _, item := range items {
		exists, err := s.Videos.Exists(ctx, item.VideoID)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		v := &models.Video{
			VideoID:     item.VideoID,
			ChannelID:   channel.ID,
			Title:       item.Title,
			Description: item.Description,
			PublishedAt: item.PublishedAt,
			Duration:    item.Duration,
		}
		if err := s.Videos.Create(ctx, v); err != nil {
			return nil, err
		}
		newIDs = append(newIDs, item.VideoID)
	}

	reporter.Update(30, fmt.Sprintf("registered %d new videos", len(newIDs)))

	if !req.Download {
		return &Result{ChannelID: channel.ID, NewVideoIDs: newIDs}, nil
	}

	for i, videoID := range newIDs {
		if err := s.downloadOne(ctx, videoID); err != nil {
			log.Printf("[ingest] download failed for %s, leaving downloaded=false: %v", videoID, err)
		}
		reporter.Update(30+int(float64(i+1)/float64(len(newIDs))*60), fmt.Sprintf("downloaded %s", videoID))
	}

	return &Result{ChannelID: channel.ID, NewVideoIDs: newIDs}, nil
}

func (s *IngestStage) downloadOne(ctx context.Context, videoID string) error {
	tmpPath := filepath.Join(s.TmpDir, videoID+".wav")
	if err := os.MkdirAll(s.TmpDir, 0o755); err != nil {
		return err
	}
	downloadCtx, cancel := context.WithTimeout(ctx, s.downloadTimeout())
	defer cancel()
	if err := s.Fetcher.DownloadAudio(downloadCtx, videoID, tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	storedPath, err := s.Audio.Save(ctx, videoID+".wav", tmpPath)
	if err != nil {
		return err
	}
	return s.Videos.SetDownloaded(ctx, videoID, storedPath)
}

func (s *IngestStage) metadataFetchTimeout() time.Duration {
	if s.MetadataFetchTimeout <= 0 {
		return 60 * time.Second
	}
	return s.MetadataFetchTimeout
}

func (s *IngestStage) downloadTimeout() time.Duration {
	if s.DownloadTimeout <= 0 {
		return 600 * time.Second
	}
	return s.DownloadTimeout
}

func maxVideosOrDefault(n int) int {
	if n <= 0 || n > 100 {
		return 50
	}
	return n
}
