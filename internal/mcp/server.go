// Package mcp exposes the pillar verbs over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/UpRoot-Company/uprootmcp/internal/pillar"
	"github.com/UpRoot-Company/uprootmcp/internal/search"
	"github.com/UpRoot-Company/uprootmcp/pkg/version"
)

// Server bridges MCP clients to the pillar layer.
type Server struct {
	mcp     *mcp.Server
	pillars *pillar.Pillars
	logger  *slog.Logger
}

// ExploreInput is the explore tool's schema.
type ExploreInput struct {
	Query               string   `json:"query,omitempty" jsonschema:"natural-language or structural query"`
	Paths               []string `json:"paths,omitempty" jsonschema:"paths to list or read instead of searching"`
	View                string   `json:"view,omitempty" jsonschema:"preview or full"`
	MaxResults          int      `json:"max_results,omitempty" jsonschema:"maximum results, default 10"`
	MaxItemChars        int      `json:"max_item_chars,omitempty" jsonschema:"truncate item previews to this length"`
	IncludeDocs         bool     `json:"include_docs,omitempty" jsonschema:"include documentation hits"`
	ExpandRelationships bool     `json:"expand_relationships,omitempty" jsonschema:"load callers/callees/type family eagerly"`
	AllowSensitive      bool     `json:"allow_sensitive,omitempty" jsonschema:"permit full reads of sensitive files"`
	PackID              string   `json:"pack_id,omitempty" jsonschema:"evidence pack id for cursor follow-ups"`
	ItemsCursor         int      `json:"items_cursor,omitempty" jsonschema:"item window offset into the pack"`
	ContentCursor       int      `json:"content_cursor,omitempty" jsonschema:"1-based item index to expand to full content"`
}

// UnderstandInput is the understand tool's schema.
type UnderstandInput struct {
	Query      string `json:"query" jsonschema:"what to understand about the codebase"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum results, default 10"`
}

// ChangeInput is the change tool's schema.
type ChangeInput struct {
	Target  string `json:"target" jsonschema:"file to edit, workspace-relative"`
	Snippet string `json:"snippet" jsonschema:"exact lines to locate in the target"`
}

// WriteInput is the write tool's schema.
type WriteInput struct {
	Target  string `json:"target" jsonschema:"file to write, workspace-relative"`
	Snippet string `json:"snippet" jsonschema:"resolved lines to verify before apply"`
}

// ManageInput is the manage tool's schema.
type ManageInput struct {
	Op      string   `json:"op,omitempty" jsonschema:"status, invalidate, prune_ghosts, or compact_packs"`
	Paths   []string `json:"paths,omitempty" jsonschema:"paths for invalidate"`
	Cascade bool     `json:"cascade,omitempty" jsonschema:"cascade invalidation to importers"`
}

// NewServer creates the MCP server over the pillar layer.
func NewServer(pillars *pillar.Pillars) (*Server, error) {
	if pillars == nil {
		return nil, errors.New("pillar layer is required")
	}

	s := &Server{
		pillars: pillars,
		logger:  slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "uprootmcp",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "explore",
		Description: "Find the smallest relevant code/document context for a query. Hybrid lexical+semantic search over the indexed workspace with relationship clusters and cursor paging.",
	}, s.handleExplore)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "understand",
		Description: "Comprehension-oriented search: pre-loads call-graph hot-spots and expands relationships so the answer covers how the pieces connect.",
	}, s.handleUnderstand)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "change",
		Description: "Resolve an edit target before patching: locates the snippet, detecting ambiguous or missing matches with guidance.",
	}, s.handleChange)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "write",
		Description: "Verify a resolved edit target is still valid (no drift) before the caller applies its patch.",
	}, s.handleWrite)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "manage",
		Description: "Index maintenance and observability: stats, cascade invalidation, ghost pruning, pack cleanup.",
	}, s.handleManage)

	s.logger.Info("mcp_tools_registered", slog.Int("count", 5))
}

func (s *Server) handleExplore(ctx context.Context, req *mcp.CallToolRequest, input ExploreInput) (*mcp.CallToolResult, pillar.Response, error) {
	preq := pillar.Request{
		Query: input.Query,
		Paths: input.Paths,
		View:  input.View,
		Limits: pillar.Limits{
			MaxResults:   input.MaxResults,
			MaxItemChars: input.MaxItemChars,
		},
		Include:             pillar.Include{Docs: input.IncludeDocs},
		ExpandRelationships: input.ExpandRelationships,
		AllowSensitive:      input.AllowSensitive,
		PackID:              input.PackID,
	}
	if input.PackID != "" {
		preq.Cursor = &search.Cursor{
			Items:       input.ItemsCursor,
			ContentCode: input.ContentCursor,
		}
	}
	return nil, *s.pillars.Explore(ctx, preq), nil
}

func (s *Server) handleUnderstand(ctx context.Context, req *mcp.CallToolRequest, input UnderstandInput) (*mcp.CallToolResult, pillar.Response, error) {
	return nil, *s.pillars.Understand(ctx, pillar.Request{
		Query:  input.Query,
		Limits: pillar.Limits{MaxResults: input.MaxResults},
	}), nil
}

func (s *Server) handleChange(ctx context.Context, req *mcp.CallToolRequest, input ChangeInput) (*mcp.CallToolResult, pillar.Response, error) {
	return nil, *s.pillars.Change(ctx, pillar.Request{
		Target:  input.Target,
		Snippet: input.Snippet,
	}), nil
}

func (s *Server) handleWrite(ctx context.Context, req *mcp.CallToolRequest, input WriteInput) (*mcp.CallToolResult, pillar.Response, error) {
	return nil, *s.pillars.Write(ctx, pillar.Request{
		Target:  input.Target,
		Snippet: input.Snippet,
	}), nil
}

func (s *Server) handleManage(ctx context.Context, req *mcp.CallToolRequest, input ManageInput) (*mcp.CallToolResult, pillar.Response, error) {
	return nil, *s.pillars.Manage(ctx, pillar.Request{
		Op:      input.Op,
		Paths:   input.Paths,
		Cascade: input.Cascade,
	}), nil
}

// Run serves MCP over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("version", version.Version))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}
