package pipeline

import (
	"context"

	"videorag/internal/apperr"
	"videorag/internal/database"
	"videorag/internal/models"
	"videorag/internal/stt"
)

// TranscribeStage runs the speech-to-text model over a downloaded video's
// audio and writes ordered Segments (C5).
type TranscribeStage struct {
	Videos   *database.VideoRepository
	Segments *database.SegmentRepository
	STT      *stt.Client
}

// Run transcribes one video. A video that is not downloaded, or whose audio
// file is missing, fails the stage for that video without raising to the
// task runner — the worker records this as a per-video failure and
// continues with the next video.
func (s *TranscribeStage) Run(ctx context.Context, videoID string, reporter Reporter) error {
	video, err := s.Videos.Get(ctx, videoID)
	if err != nil {
		return err
	}
	if !video.Downloaded || video.AudioPath == nil {
		return apperr.Pipeline("video is not downloaded, cannot transcribe", nil)
	}

	reporter.Update(0, "transcribing audio")

	segs, err := s.STT.Transcribe(ctx, *video.AudioPath)
	if err != nil {
		return err
	}

	modelSegs := make([]models.Segment, len(segs))
	for i, seg := range segs {
		modelSegs[i] = models.Segment{
			VideoID:   videoID,
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
			Text:      seg.Text,
		}
	}

	if err := s.Segments.ReplaceForVideo(ctx, videoID, modelSegs); err != nil {
		return err
	}

	reporter.Update(100, "transcription complete")
	return nil
}
