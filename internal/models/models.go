// Package models defines the domain entities and request/response DTOs
// shared by the API and worker binaries.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel is a subscribed video source, e.g. a channel URL understood by the
// external fetcher.
type Channel struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	URL       string    `db:"url" json:"url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Video belongs to exactly one Channel. Transcribed implies Downloaded.
type Video struct {
	VideoID     string     `db:"video_id" json:"video_id"`
	ChannelID   int64      `db:"channel_id" json:"channel_id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
	Duration    *int       `db:"duration" json:"duration,omitempty"`
	AudioPath   *string    `db:"audio_path" json:"audio_path,omitempty"`
	Downloaded  bool       `db:"downloaded" json:"downloaded"`
	Transcribed bool       `db:"transcribed" json:"transcribed"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Segment is a single timed transcript utterance produced by the
// transcription stage.
type Segment struct {
	ID        int64   `db:"id" json:"id"`
	VideoID   string  `db:"video_id" json:"video_id"`
	StartTime float64 `db:"start_time" json:"start_time"`
	EndTime   float64 `db:"end_time" json:"end_time"`
	Text      string  `db:"text" json:"text"`
}

// Chunk is the indexable unit produced by packing segments and is the target
// of both the vector and lexical search paths.
type Chunk struct {
	ID                 int64     `db:"id" json:"id"`
	VideoID            string    `db:"video_id" json:"video_id"`
	ChunkIndex         int       `db:"chunk_index" json:"chunk_index"`
	StartTime          float64   `db:"start_time" json:"start_time"`
	EndTime            float64   `db:"end_time" json:"end_time"`
	Text               string    `db:"text" json:"text"`
	Summary            *string   `db:"summary" json:"summary,omitempty"`
	Embedding          *Vector   `db:"embedding" json:"-"`
	SummaryEmbedding   *Vector   `db:"summary_embedding" json:"-"`
}

// Vector is a dense embedding stored as a pgvector column. It has no
// Scanner/Valuer methods of its own; the database package's vector codec
// (vectorValue) converts it when binding query parameters.
type Vector []float64

// TaskType discriminates the Task payload variant.
type TaskType string

const (
	TaskTypePipeline      TaskType = "pipeline"
	TaskTypeEmbedQuestion TaskType = "embed_question"
)

// TaskStatus is the lifecycle state of a Task row.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// PipelineRequest is the strongly typed payload of a task_type=pipeline Task,
// replacing the distilled spec's untyped JSON `request` field with a
// discriminated union member.
type PipelineRequest struct {
	ChannelURL string `json:"channel_url"`
	MaxVideos  int    `json:"max_videos"`
	Download   bool   `json:"download"`
}

// EmbedQuestionRequest is the payload of an internal task_type=embed_question
// Task, never accepted on the public task-submission endpoint.
type EmbedQuestionRequest struct {
	QuestionToEmbed string `json:"question_to_embed"`
}

// Task is a durable unit of work claimed by exactly one worker at a time.
type Task struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	TaskType    TaskType        `db:"task_type" json:"task_type"`
	Status      TaskStatus      `db:"status" json:"status"`
	Request     json.RawMessage `db:"request" json:"request"`
	Progress    int             `db:"progress" json:"progress"`
	ErrorMessage *string        `db:"error_message" json:"error_message,omitempty"`
	Result      *string         `db:"result" json:"result,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	StartedAt   *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// PipelineRequest unmarshals the task's Request into a PipelineRequest.
func (t *Task) PipelineRequest() (PipelineRequest, error) {
	var req PipelineRequest
	err := json.Unmarshal(t.Request, &req)
	return req, err
}

// EmbedQuestionRequest unmarshals the task's Request into an
// EmbedQuestionRequest.
func (t *Task) EmbedQuestionRequest() (EmbedQuestionRequest, error) {
	var req EmbedQuestionRequest
	err := json.Unmarshal(t.Request, &req)
	return req, err
}

// TaskTransition is one audit-trail row recording a Task's status change.
// This supplements the spec's Task lifecycle, which otherwise keeps only the
// latest status/error_message.
type TaskTransition struct {
	ID        int64      `db:"id" json:"id"`
	TaskID    uuid.UUID  `db:"task_id" json:"task_id"`
	FromStatus *TaskStatus `db:"from_status" json:"from_status,omitempty"`
	ToStatus  TaskStatus  `db:"to_status" json:"to_status"`
	Reason    *string     `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// ChatRole distinguishes the author of a ChatMessage.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatSession groups a sequence of ChatMessages, optionally scoped to a
// Channel and a subset of Videos (see ChatVideo).
type ChatSession struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ChannelID *int64    `db:"channel_id" json:"channel_id,omitempty"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Source is one retrieval hit cited by an assistant ChatMessage.
type Source struct {
	VideoID string  `json:"video_id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	URL     string  `json:"url"`
	Score   float64 `json:"score"`
}

// ChatMessage is one turn within a ChatSession. Sources is stored as a JSONB
// column and is nil for user messages.
type ChatMessage struct {
	ID        int64           `db:"id" json:"id"`
	SessionID uuid.UUID       `db:"session_id" json:"session_id"`
	Role      ChatRole        `db:"role" json:"role"`
	Content   string          `db:"content" json:"content"`
	Sources   json.RawMessage `db:"sources" json:"sources,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// SourcesJSON marshals a Source slice for storage in ChatMessage.Sources.
func SourcesJSON(sources []Source) json.RawMessage {
	if len(sources) == 0 {
		return nil
	}
	b, err := json.Marshal(sources)
	if err != nil {
		return nil
	}
	return b
}

// ChatVideo restricts a ChatSession to a subset of videos.
type ChatVideo struct {
	ChatID  uuid.UUID `db:"chat_id" json:"chat_id"`
	VideoID string    `db:"video_id" json:"video_id"`
}

// SettingValueType is the typed interpretation of a Setting's string value.
type SettingValueType string

const (
	SettingTypeInt    SettingValueType = "int"
	SettingTypeFloat  SettingValueType = "float"
	SettingTypeBool   SettingValueType = "bool"
	SettingTypeString SettingValueType = "string"
)

// Setting is a dynamic, mutable tunable, keyed by (component, section, key).
type Setting struct {
	Component   string           `db:"component" json:"component"`
	Section     string           `db:"section" json:"section"`
	Key         string           `db:"key" json:"key"`
	Value       string           `db:"value" json:"value"`
	ValueType   SettingValueType `db:"value_type" json:"value_type"`
	Description *string          `db:"description" json:"description,omitempty"`
	IsSecret    bool             `db:"is_secret" json:"is_secret"`
}

// S3Config configures the optional S3-compatible audio storage backend.
type S3Config struct {
	Endpoint string
	Region   string
	KeyID    string
	AppKey   string
	Bucket   string
}

// IntentClass is the RAG Orchestrator's classification of a question.
type IntentClass string

const (
	IntentMetadata      IntentClass = "METADATA"
	IntentContent       IntentClass = "CONTENT"
	IntentContentGlobal IntentClass = "CONTENT_GLOBAL"
)

// FetchedVideo is one line-delimited JSON record from the external fetcher's
// channel-listing call.
type FetchedVideo struct {
	VideoID    string  `json:"id"`
	Title      string  `json:"title"`
	Description string `json:"description"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Duration   *int    `json:"duration"`
	LiveStatus string  `json:"live_status"`
}

// IsVOD reports whether the fetched item should be ingested: not live, not
// upcoming, and has a known duration.
func (f FetchedVideo) IsVOD() bool {
	if f.LiveStatus == "is_upcoming" || f.LiveStatus == "is_live" {
		return false
	}
	return f.Duration != nil
}
