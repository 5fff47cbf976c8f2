// Package rag implements the ask_stream sequence: session bookkeeping,
// intent classification, and the three answer paths (METADATA,
// CONTENT_GLOBAL, CONTENT) it dispatches between (spec.md §4.9).
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"videorag/internal/apperr"
	"videorag/internal/database"
	"videorag/internal/llmclient"
	"videorag/internal/models"
)

// EventEmitter is the subset of internal/handlers.ndjsonEmitter this
// package needs. Defined structurally here so rag never imports handlers.
type EventEmitter interface {
	Broadcast(eventType string, data interface{})
}

// AskRequest is one ask_stream invocation.
type AskRequest struct {
	SessionID *uuid.UUID
	ChannelID *int64
	Question  string
	VideoIDs  []string
}

// Orchestrator wires every collaborator the ask_stream sequence needs.
type Orchestrator struct {
	Chat      *database.ChatRepository
	Videos    *database.VideoRepository
	Chunks    *database.ChunkRepository
	Tasks     *database.TaskStore
	Retrieval *database.RetrievalRepository
	LLM       *llmclient.Client
	SQLAgent  *SQLAgent

	TopK              int
	DefaultVideoLimit int
	EmbedPollInterval time.Duration
	EmbedWaitTimeout  time.Duration
	GlobalSummaryCap  int
	RecentMessages    int
}

const noResultsMessage = "I couldn't find anything in these videos that answers that question."

// AskStream runs the full ask_stream sequence, emitting the stream protocol
// of spec.md §4.9 on job: {type:"session_id",data:uuid}, then either a
// {type:"sources",data:[...]} followed by one or more {type:"content"}
// token events, or a single fixed {type:"content"} event when nothing is
// found; a METADATA question emits its SQL answer as one {type:"content"}
// event with no sources event. The turn is appended to chat history only once the generator
// finishes normally — never on caller cancellation.
func (o *Orchestrator) AskStream(ctx context.Context, job EventEmitter, req AskRequest) error {
	session, err := o.Chat.UpsertSession(ctx, req.SessionID, req.Question, req.ChannelID)
	if err != nil {
		return err
	}
	job.Broadcast("session_id", session.ID.String())

	videoIDs, err := o.resolveVideoIDs(ctx, req)
	if err != nil {
		return err
	}
	if req.SessionID == nil || len(req.VideoIDs) > 0 {
		if err := o.Chat.ReplaceVideos(ctx, session.ID, videoIDs); err != nil {
			return err
		}
	}

	embedTaskID, err := o.enqueueEmbedQuestion(ctx, req.Question)
	if err != nil {
		return err
	}

	intent, err := classifyIntent(ctx, o.LLM, req.Question)
	if err != nil {
		return err
	}

	var answer string
	var sources []models.Source
	switch intent {
	case models.IntentMetadata:
		answer, err = o.SQLAgent.Answer(ctx, req.Question)
		if err == nil {
			job.Broadcast("content", answer)
		}
	case models.IntentContentGlobal:
		answer, sources, err = o.answerContentGlobal(ctx, job, videoIDs, session.ID, req.Question)
	default:
		answer, sources, err = o.answerContent(ctx, job, videoIDs, embedTaskID, session.ID, req.Question)
	}
	if err != nil {
		return err
	}

	return o.Chat.AppendTurn(ctx, session.ID, req.Question, answer, sources)
}

// resolveVideoIDs restricts the caller's requested video_ids to those
// actually belonging to channel_id; an empty request list draws up to
// DefaultVideoLimit of the channel's most recent videos.
func (o *Orchestrator) resolveVideoIDs(ctx context.Context, req AskRequest) ([]string, error) {
	if req.ChannelID == nil {
		return req.VideoIDs, nil
	}
	if len(req.VideoIDs) > 0 {
		return o.Videos.BelongingTo(ctx, *req.ChannelID, req.VideoIDs)
	}
	return o.Videos.ByChannelNewest(ctx, *req.ChannelID, o.videoLimit())
}

func (o *Orchestrator) videoLimit() int {
	if o.DefaultVideoLimit <= 0 {
		return 20
	}
	return o.DefaultVideoLimit
}

// enqueueEmbedQuestion synchronously enqueues an embed_question task for
// the user's question, before streaming begins, per spec.md §4.9 step 3.
func (o *Orchestrator) enqueueEmbedQuestion(ctx context.Context, question string) (uuid.UUID, error) {
	request, err := json.Marshal(models.EmbedQuestionRequest{QuestionToEmbed: question})
	if err != nil {
		return uuid.UUID{}, apperr.Wrap(apperr.KindCritical, "failed to marshal embed_question request", err)
	}
	task, err := o.Tasks.Enqueue(ctx, models.TaskTypeEmbedQuestion, request)
	if err != nil {
		return uuid.UUID{}, err
	}
	return task.ID, nil
}

// waitForEmbedding polls the embed_question task row every 200ms up to 30s
// (both overridable), per spec.md §4.9 step 6.
func (o *Orchestrator) waitForEmbedding(ctx context.Context, taskID uuid.UUID) (models.Vector, error) {
	deadline := time.After(o.pollTimeout())
	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindTimeout, "ask_stream cancelled while waiting for question embedding", ctx.Err())
		case <-deadline:
			return nil, apperr.Timeout("timed out waiting for question embedding")
		case <-ticker.C:
			t, err := o.Tasks.Get(ctx, taskID)
			if err != nil {
				return nil, err
			}
			switch t.Status {
			case models.TaskStatusCompleted:
				if t.Result == nil {
					return nil, apperr.Critical("embed_question task completed without a result", nil)
				}
				var vec models.Vector
				if err := json.Unmarshal([]byte(*t.Result), &vec); err != nil {
					return nil, apperr.Wrap(apperr.KindCritical, "failed to parse question embedding result", err)
				}
				return vec, nil
			case models.TaskStatusFailed:
				msg := "embed_question task failed"
				if t.ErrorMessage != nil {
					msg = *t.ErrorMessage
				}
				return nil, apperr.External(msg, nil)
			}
		}
	}
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.EmbedPollInterval <= 0 {
		return 200 * time.Millisecond
	}
	return o.EmbedPollInterval
}

func (o *Orchestrator) pollTimeout() time.Duration {
	if o.EmbedWaitTimeout <= 0 {
		return 30 * time.Second
	}
	return o.EmbedWaitTimeout
}

// answerContent is the CONTENT path: wait for the question embedding, run
// the Retriever against target_index=summaries, and stream an answer built
// from the retrieved chunks plus recent chat context.
func (o *Orchestrator) answerContent(ctx context.Context, job EventEmitter, videoIDs []string, embedTaskID uuid.UUID, sessionID uuid.UUID, question string) (string, []models.Source, error) {
	embedding, err := o.waitForEmbedding(ctx, embedTaskID)
	if err != nil {
		return "", nil, err
	}

	results, err := o.Retrieval.Search(ctx, videoIDs, embedding, question, database.TargetSummaries, o.topK())
	if err != nil {
		return "", nil, err
	}
	if len(results) == 0 {
		job.Broadcast("content", noResultsMessage)
		return noResultsMessage, nil, nil
	}

	sources := make([]models.Source, len(results))
	for i, r := range results {
		sources[i] = models.Source{
			VideoID: r.VideoID,
			Start:   r.StartTime,
			End:     r.EndTime,
			URL:     fmt.Sprintf("https://www.youtube.com/watch?v=%s&t=%ds", r.VideoID, int(r.StartTime)),
			Score:   r.Score,
		}
	}
	job.Broadcast("sources", sources)

	recent, err := o.Chat.RecentMessages(ctx, sessionID, o.recentMessages())
	if err != nil {
		return "", nil, err
	}

	answer, err := o.stream(ctx, job, contentSystemPrompt(results), recent, question)
	return answer, sources, err
}

func (o *Orchestrator) recentMessages() int {
	if o.RecentMessages <= 0 {
		return 6
	}
	return o.RecentMessages
}

// answerContentGlobal is the CONTENT_GLOBAL path: fetch per-video ordered
// summaries and stream an answer built from them.
func (o *Orchestrator) answerContentGlobal(ctx context.Context, job EventEmitter, videoIDs []string, sessionID uuid.UUID, question string) (string, []models.Source, error) {
	if len(videoIDs) == 0 {
		job.Broadcast("content", noResultsMessage)
		return noResultsMessage, nil, nil
	}

	summaries := make(map[string][]database.SummarizedChunk, len(videoIDs))
	var sources []models.Source
	for _, videoID := range videoIDs {
		chunks, err := o.Chunks.OrderedSummaries(ctx, videoID, o.globalSummaryCap())
		if err != nil {
			return "", nil, err
		}
		summaries[videoID] = chunks
		for _, c := range chunks {
			sources = append(sources, models.Source{
				VideoID: videoID,
				Start:   c.StartTime,
				End:     c.EndTime,
				URL:     fmt.Sprintf("https://www.youtube.com/watch?v=%s&t=%ds", videoID, int(c.StartTime)),
				Score:   1,
			})
		}
	}
	job.Broadcast("sources", sources)

	recent, err := o.Chat.RecentMessages(ctx, sessionID, o.recentMessages())
	if err != nil {
		return "", nil, err
	}

	answer, err := o.stream(ctx, job, contentGlobalSystemPrompt(videoIDs, summaries), recent, question)
	return answer, sources, err
}

// max_summaries_per_video per spec.md §4.9 step 6.
func (o *Orchestrator) globalSummaryCap() int {
	if o.GlobalSummaryCap <= 0 {
		return 20
	}
	return o.GlobalSummaryCap
}

func (o *Orchestrator) topK() int {
	if o.TopK <= 0 {
		return 8
	}
	return o.TopK
}

// stream runs a streamed chat completion, broadcasting each token as a
// {type:"content"} event, and returns the accumulated answer.
func (o *Orchestrator) stream(ctx context.Context, job EventEmitter, systemPrompt string, recent []models.ChatMessage, question string) (string, error) {
	messages := []llmclient.Message{{Role: llmclient.RoleSystem, Content: systemPrompt}}
	for _, m := range recent {
		role := llmclient.RoleUser
		if m.Role == models.ChatRoleAssistant {
			role = llmclient.RoleAssistant
		}
		messages = append(messages, llmclient.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, llmclient.Message{Role: llmclient.RoleUser, Content: question})

	tokens, errs := o.LLM.StreamComplete(ctx, messages)

	var answer string
	for tok := range tokens {
		answer += tok
		job.Broadcast("content", tok)
	}
	if err := <-errs; err != nil {
		return answer, err
	}
	return answer, nil
}
