// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the snapshot and build workflow over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/build"
	"github.com/starford/mcodex/internal/history"
	"github.com/starford/mcodex/internal/resolver"
	"github.com/starford/mcodex/internal/snapshot"
	"github.com/starford/mcodex/internal/status"
)

const contractURI = "mcodex://workflow"

// Server wraps the MCP server with the mcodex tools.
type Server struct {
	mcp       *server.MCPServer
	snapshots *snapshot.Manager
	builds    *build.Service
	ledger    history.Ledger
	logger    *slog.Logger
	wd        string
	version   string
}

// Option configures the Server.
type Option func(*Server)

// WithLedger enables the history_list tool.
func WithLedger(l history.Ledger) Option {
	return func(s *Server) { s.ledger = l }
}

// WithWorkDir sets the directory text arguments are resolved against.
func WithWorkDir(dir string) Option {
	return func(s *Server) { s.wd = dir }
}

// WithVersion sets the server version announced to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new MCP server with all tools registered.
func New(snapshots *snapshot.Manager, builds *build.Service, opts ...Option) *Server {
	s := &Server{
		snapshots: snapshots,
		builds:    builds,
		logger:    slog.Default(),
		wd:        ".",
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		"mcodex",
		s.version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	textArg := mcp.WithString("text",
		mcp.Description("Path to the text directory, or its slug inside a repository. Empty means the working directory."))

	s.mcp.AddTool(mcp.NewTool("snapshot_list",
		mcp.WithDescription("List the snapshots of a text with their notes and tags, in stage order."),
		textArg,
	), s.snapshotList)

	s.mcp.AddTool(mcp.NewTool("snapshot_create",
		mcp.WithDescription("Freeze the current text into an immutable snapshot. "+
			"Pass a bare stage (draft, preview, rc, final, published) to number it automatically, "+
			"or an explicit label. Read the workflow contract first."),
		textArg,
		mcp.WithString("label", mcp.Required(), mcp.Description("Stage name or explicit snapshot label")),
		mcp.WithString("note", mcp.Description("Optional note stored with the snapshot")),
	), s.snapshotCreate)

	s.mcp.AddTool(mcp.NewTool("text_status",
		mcp.WithDescription("Show title, authors, current stage, available stages, snapshots and word count of a text."),
		textArg,
	), s.textStatus)

	s.mcp.AddTool(mcp.NewTool("build_text",
		mcp.WithDescription("Render a text version through a pipeline into the artifacts directory."),
		textArg,
		mcp.WithString("ref", mcp.Description("Version: '.' for the working tree, a snapshot label, or a stage for its latest snapshot")),
		mcp.WithString("pipeline", mcp.Description("Pipeline name, default pdf")),
		mcp.WithBoolean("dry_run", mcp.Description("Report the commands without running them")),
	), s.buildText)

	s.mcp.AddTool(mcp.NewTool("get_workflow_contract",
		mcp.WithDescription("Returns the text layout, stage rules and version reference syntax."),
	), s.getWorkflowContract)

	if s.ledger != nil {
		s.mcp.AddTool(mcp.NewTool("history_list",
			mcp.WithDescription("List recent builds and snapshots, newest first."),
			mcp.WithString("slug", mcp.Description("Restrict to one text slug")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries, default 20")),
		), s.historyList)
	}

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Workflow Contract",
			mcp.WithResourceDescription("Text directory layout, stage progression and build references."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// Serve runs the stdio transport on in and out until ctx ends or the client
// disconnects.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) textDir(req mcp.CallToolRequest) (string, error) {
	r, err := resolver.New(s.wd)
	if err != nil {
		return "", err
	}
	return r.Text(req.GetString("text", ""))
}

func (s *Server) snapshotList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := s.textDir(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := status.Collect(dir, s.snapshots)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(report.Snapshots) == 0 {
		return mcp.NewToolResultText("no snapshots"), nil
	}
	return jsonResult(report.Snapshots), nil
}

func (s *Server) snapshotCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir, err := s.textDir(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := s.snapshots.Create(ctx, dir, label, req.GetString("note", ""))
	var vcsErr *apperr.VersionControlOperationError
	switch {
	case err == nil:
	case info != nil && errors.As(err, &vcsErr):
		s.logger.Warn("mcp: snapshot created without commit",
			slog.String("label", info.Label),
			slog.String("error", err.Error()))
		return mcp.NewToolResultText(fmt.Sprintf("created: %s (version control: %v)", info.Label, err)), nil
	default:
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", info.Label)), nil
}

func (s *Server) textStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := s.textDir(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := status.Collect(dir, s.snapshots)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report), nil
}

func (s *Server) buildText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := s.textDir(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.builds.Build(ctx, build.Request{
		TextDir:  dir,
		Ref:      req.GetString("ref", resolver.Worktree),
		Pipeline: req.GetString("pipeline", ""),
		DryRun:   req.GetBool("dry_run", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) historyList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.ledger.Recent(req.GetString("slug", ""), req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("no history"), nil
	}
	return jsonResult(entries), nil
}

func (s *Server) getWorkflowContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(WorkflowContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     WorkflowContract,
		},
	}, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}
