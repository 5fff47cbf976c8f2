package rag

import (
	"context"
	"encoding/json"
	"strings"

	"videorag/internal/apperr"
	"videorag/internal/database"
	"videorag/internal/llmclient"
)

// SQLAgent answers METADATA-intent questions by having the LLM write a
// read-only query against a fixed schema, executing it, and summarizing the
// result back in natural language (spec.md §4.10).
type SQLAgent struct {
	db  *database.DB
	llm *llmclient.Client
}

// NewSQLAgent constructs a SQLAgent.
func NewSQLAgent(db *database.DB, llm *llmclient.Client) *SQLAgent {
	return &SQLAgent{db: db, llm: llm}
}

const schemaPrompt = `You write a single PostgreSQL SELECT statement against this fixed schema:

channels(id bigint, name text, url text, created_at timestamptz)
videos(video_id text, channel_id bigint, title text, description text,
       published_at timestamptz, duration int, downloaded bool, transcribed bool, created_at timestamptz)

Reply with only the SQL statement, no explanation, no markdown code fence.
The statement must be a single SELECT — never modify data.`

// Answer generates SQL for question, executes it, and returns a natural
// language summary of the result rows.
func (a *SQLAgent) Answer(ctx context.Context, question string) (string, error) {
	query, err := a.generateSQL(ctx, question)
	if err != nil {
		return "", err
	}

	rows, err := a.db.QueryxContext(ctx, query)
	if err != nil {
		return "", apperr.Wrap(apperr.KindExternalService, "generated metadata query failed to execute", err)
	}
	defer rows.Close()

	var records []map[string]interface{}
	for rows.Next() {
		record := map[string]interface{}{}
		if err := rows.MapScan(record); err != nil {
			return "", apperr.Wrap(apperr.KindCritical, "failed to scan metadata query row", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return "", apperr.Wrap(apperr.KindCritical, "metadata query row iteration failed", err)
	}

	return a.summarize(ctx, question, records)
}

func (a *SQLAgent) generateSQL(ctx context.Context, question string) (string, error) {
	reply, err := a.llm.Complete(ctx, []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: schemaPrompt},
		{Role: llmclient.RoleUser, Content: question},
	})
	if err != nil {
		return "", err
	}

	query := stripCodeFence(reply)
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return "", apperr.Validation("generated metadata query is not a SELECT statement")
	}
	return query, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (a *SQLAgent) summarize(ctx context.Context, question string, records []map[string]interface{}) (string, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCritical, "failed to marshal metadata query results", err)
	}

	return a.llm.Complete(ctx, []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: "Answer the user's question in natural language using only the JSON query results below."},
		{Role: llmclient.RoleUser, Content: question + "\n\nquery results:\n" + string(data)},
	})
}
