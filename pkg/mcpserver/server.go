// Package mcpserver exposes the memory subsystem as Model Context Protocol
// tools over stdio, so any MCP-capable host can search, store and manage
// memories without linking this module.
//
// Tool failures are reported as error text payloads in the tool result, not
// as protocol errors: a broken memory call must degrade the conversation,
// never abort it.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tiermem/tiermem-go/pkg/core"
)

// Version is the implementation version reported during the MCP handshake.
const Version = "1.0.0"

// Server serves the six memory tools over an MCP transport.
type Server struct {
	coordinator *core.Coordinator
	server      *mcp.Server
}

// New wraps a coordinator and registers the memory tools. The coordinator
// should already be started; the server does not manage its lifecycle.
func New(coordinator *core.Coordinator) *Server {
	s := &Server{coordinator: coordinator}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "tiermem",
		Version: Version,
	}, nil)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "memory_search",
		Description: "Search the user's stored memories by semantic similarity. " +
			"Use when the user refers to earlier conversations, preferences or facts about themselves. " +
			"Set deep=true to also scan archived memories.",
	}, s.search)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "memory_store",
		Description: "Store a statement about the user verbatim as a long-term memory. " +
			"Near-duplicates of existing memories are merged instead of duplicated.",
	}, s.store)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_get",
		Description: "Fetch one memory by its id.",
	}, s.get)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_list",
		Description: "List stored memories, newest first.",
	}, s.list)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "memory_forget",
		Description: "Delete memories by id or by search query. " +
			"Ambiguous queries return a candidate list; pass delete_all=true to delete every match.",
	}, s.forget)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_stats",
		Description: "Report memory counts, storage sizes and write-queue state.",
	}, s.stats)

	return s
}

// Run serves MCP over stdio until the context is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

type searchParams struct {
	Query  string `json:"query" jsonschema:"the free-text search query"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum results per source (default 10)"`
	UserID string `json:"user_id,omitempty" jsonschema:"override the configured user id"`
	Scope  string `json:"scope,omitempty" jsonschema:"session, long-term or all (default all)"`
	Deep   bool   `json:"deep,omitempty" jsonschema:"also scan the cold archive"`
}

func (s *Server) search(ctx context.Context, req *mcp.CallToolRequest, params *searchParams) (*mcp.CallToolResult, any, error) {
	out, err := s.coordinator.MemorySearch(ctx, core.MemorySearchInput{
		Query:  params.Query,
		Limit:  params.Limit,
		UserID: params.UserID,
		Scope:  params.Scope,
		Deep:   params.Deep,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	if len(out.Results) == 0 {
		return textResult(out.Preview), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: out.Preview},
			&mcp.TextContent{Text: renderJSON(out.Results)},
		},
	}, nil, nil
}

type storeParams struct {
	Text     string `json:"text" jsonschema:"the statement to remember, e.g. 'User prefers dark roast coffee'"`
	UserID   string `json:"user_id,omitempty" jsonschema:"override the configured user id"`
	LongTerm *bool  `json:"long_term,omitempty" jsonschema:"store without session scope (default true)"`
}

func (s *Server) store(ctx context.Context, req *mcp.CallToolRequest, params *storeParams) (*mcp.CallToolResult, any, error) {
	out, err := s.coordinator.MemoryStore(ctx, core.MemoryStoreInput{
		Text:     params.Text,
		UserID:   params.UserID,
		LongTerm: params.LongTerm,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}

	var sb strings.Builder
	if out.StoredCount == 0 {
		sb.WriteString("Already known; nothing stored.")
	} else {
		fmt.Fprintf(&sb, "Stored %d memory.", out.StoredCount)
	}
	for _, r := range out.Results {
		fmt.Fprintf(&sb, "\n%s %s: %s", r.Event, r.ID, r.Text)
	}
	return textResult(sb.String()), nil, nil
}

type getParams struct {
	ID string `json:"id" jsonschema:"the memory id"`
}

func (s *Server) get(ctx context.Context, req *mcp.CallToolRequest, params *getParams) (*mcp.CallToolResult, any, error) {
	memory, err := s.coordinator.MemoryGet(ctx, params.ID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return textResult(fmt.Sprintf("Memory not found: %s", params.ID)), nil, nil
		}
		return errorResult(err), nil, nil
	}
	return textResult(renderJSON(memory)), nil, nil
}

type listParams struct {
	UserID string `json:"user_id,omitempty" jsonschema:"override the configured user id"`
	Scope  string `json:"scope,omitempty" jsonschema:"session, long-term or all (default all)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum memories to list (default 20)"`
}

func (s *Server) list(ctx context.Context, req *mcp.CallToolRequest, params *listParams) (*mcp.CallToolResult, any, error) {
	memories, err := s.coordinator.MemoryList(ctx, core.MemoryListInput{
		UserID: params.UserID,
		Scope:  params.Scope,
		Limit:  params.Limit,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	if len(memories) == 0 {
		return textResult("No memories stored."), nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d memories:\n", len(memories))
	for i, m := range memories {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, m.ID, m.Text)
	}
	return textResult(strings.TrimRight(sb.String(), "\n")), nil, nil
}

type forgetParams struct {
	ID        string `json:"id,omitempty" jsonschema:"delete this specific memory id"`
	Query     string `json:"query,omitempty" jsonschema:"search for memories to delete instead of naming an id"`
	UserID    string `json:"user_id,omitempty" jsonschema:"override the configured user id"`
	Scope     string `json:"scope,omitempty" jsonschema:"session, long-term or all (default all)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum deletion candidates, 1 to 50 (default 10)"`
	DeleteAll bool   `json:"delete_all,omitempty" jsonschema:"delete every candidate instead of asking for disambiguation"`
}

func (s *Server) forget(ctx context.Context, req *mcp.CallToolRequest, params *forgetParams) (*mcp.CallToolResult, any, error) {
	out, err := s.coordinator.MemoryForget(ctx, core.MemoryForgetInput{
		ID:        params.ID,
		Query:     params.Query,
		UserID:    params.UserID,
		Scope:     params.Scope,
		Limit:     params.Limit,
		DeleteAll: params.DeleteAll,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	return textResult(renderForget(out)), nil, nil
}

type statsParams struct{}

func (s *Server) stats(ctx context.Context, req *mcp.CallToolRequest, params *statsParams) (*mcp.CallToolResult, any, error) {
	stats, err := s.coordinator.MemoryStats(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return textResult(core.FormatStats(stats)), nil, nil
}

// renderForget turns a forget outcome into the user-facing text payload.
func renderForget(out *core.MemoryForgetOutput) string {
	if len(out.Candidates) > 0 {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Found %d matching memories. Re-run with a specific id or delete_all=true:\n", len(out.Candidates))
		for i, m := range out.Candidates {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, m.ID, m.Text)
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	if len(out.Deleted) == 0 && len(out.FailedIDs) == 0 {
		return "No matching memories found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Deleted %d memories.", len(out.Deleted))
	for _, m := range out.Deleted {
		if m.Text != "" {
			fmt.Fprintf(&sb, "\n- [%s] %s", m.ID, m.Text)
		} else {
			fmt.Fprintf(&sb, "\n- [%s]", m.ID)
		}
	}
	if len(out.FailedIDs) > 0 {
		fmt.Fprintf(&sb, "\nFailed to delete: %s", strings.Join(out.FailedIDs, ", "))
	}
	return sb.String()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

// renderJSON renders v as indented JSON for text payloads. Marshal
// failures fall back to %v formatting.
func renderJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
