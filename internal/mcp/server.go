// Package mcp provides a Model Context Protocol server for chartex.
//
// It exposes the extraction pipeline (single-note extract, batch extract,
// quality assessment) as MCP tools, and the effective rule table as an MCP
// resource, over stdio transport for editor and agent integrations.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mkeane/chartex/internal/note"
	"github.com/mkeane/chartex/internal/pipeline"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Pipeline *pipeline.Pipeline
	Version  string // version string for MCP server info
}

// NewServer creates a configured MCP server with all chartex tools and
// resources. The pipeline is immutable, so handlers run concurrently without
// coordination.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"chartex",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractTool(s, cfg.Pipeline)
	registerBatchTool(s, cfg.Pipeline)
	registerQualityTool(s, cfg.Pipeline)

	registerRulesResource(s, cfg.Pipeline)

	return s
}

// --- Tools ---

func registerExtractTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("chartex_extract",
		mcp.WithDescription("Extract structured fields from a single clinical note: demographics, dates, pathology, procedures, complications, medications, scores, plus a quality-calibrated confidence per value and a chronological timeline."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("note",
			mcp.Required(),
			mcp.Description("Raw clinical note text"),
		),
		mcp.WithString("note_id",
			mcp.Description("Caller-supplied note identifier. Defaults to 'mcp-note'."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("note")
		if err != nil {
			return mcp.NewToolResultError("note is required"), nil
		}

		noteID := "mcp-note"
		if id, err := req.RequireString("note_id"); err == nil && id != "" {
			noteID = id
		}

		rec, err := p.Process(ctx, pipeline.Input{Note: note.RawNote{ID: noteID, Text: text}})
		if err != nil {
			return toolError(err), nil
		}

		data, _ := json.MarshalIndent(rec, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// batchNote is the wire shape of one note in the chartex_batch notes array.
type batchNote struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func registerBatchTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("chartex_batch",
		mcp.WithDescription("Extract structured fields from multiple clinical notes at once. Returns per-note records plus cross-note deduplication metadata and a single merged timeline."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("notes",
			mcp.Required(),
			mcp.Description(`JSON array of notes: [{"id": "note-1", "text": "..."}, ...]. IDs are optional.`),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		notesJSON, err := req.RequireString("notes")
		if err != nil {
			return mcp.NewToolResultError("notes is required"), nil
		}

		var wire []batchNote
		if err := json.Unmarshal([]byte(notesJSON), &wire); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("notes must be a JSON array of {id, text}: %v", err)), nil
		}
		if len(wire) == 0 {
			return mcp.NewToolResultError("notes array is empty"), nil
		}

		ins := make([]pipeline.Input, len(wire))
		for i, n := range wire {
			id := n.ID
			if id == "" {
				id = fmt.Sprintf("mcp-note-%d", i+1)
			}
			ins[i] = pipeline.Input{Note: note.RawNote{ID: id, Ordinal: i, Text: n.Text}}
		}

		batch, err := p.ProcessBatch(ctx, ins)
		if err != nil {
			return toolError(err), nil
		}

		data, _ := json.MarshalIndent(batch, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerQualityTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("chartex_quality",
		mcp.WithDescription("Assess the extraction quality of a clinical note without returning the extracted fields: weighted score over completeness, validation, coherence, and timeline presence, plus the resulting grade."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("note",
			mcp.Required(),
			mcp.Description("Raw clinical note text"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("note")
		if err != nil {
			return mcp.NewToolResultError("note is required"), nil
		}

		rec, err := p.Process(ctx, pipeline.Input{Note: note.RawNote{ID: "mcp-quality", Text: text}})
		if err != nil {
			return toolError(err), nil
		}

		data, _ := json.MarshalIndent(rec.Quality, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// toolError maps pipeline errors onto tool results; the taxonomy names stay
// visible to the caller.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, pipeline.ErrEmptyInput):
		return mcp.NewToolResultError("note text is empty")
	case errors.Is(err, pipeline.ErrInputTooLarge):
		return mcp.NewToolResultError(fmt.Sprintf("note too large: %v", err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("extraction error: %v", err))
	}
}

// --- Resources ---

// ruleInfo is the wire shape of one rule table entry.
type ruleInfo struct {
	Name     string  `json:"name"`
	Field    string  `json:"field"`
	Pattern  string  `json:"pattern"`
	Weight   float64 `json:"weight"`
	Priority int     `json:"priority"`
	Multi    bool    `json:"multi"`
	Canon    string  `json:"canon,omitempty"`
}

func registerRulesResource(s *server.MCPServer, p *pipeline.Pipeline) {
	resource := mcp.NewResource(
		"chartex://rules",
		"Extraction Rules",
		mcp.WithResourceDescription("The effective extraction rule table in evaluation order, correction-store weight overrides applied."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rules := p.Rules()
		infos := make([]ruleInfo, 0, len(rules))
		for _, r := range rules {
			infos = append(infos, ruleInfo{
				Name:     r.Name,
				Field:    r.Field,
				Pattern:  r.Pattern.String(),
				Weight:   r.Weight,
				Priority: r.Priority,
				Multi:    r.Multi,
				Canon:    r.Canon,
			})
		}

		data, _ := json.MarshalIndent(infos, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
