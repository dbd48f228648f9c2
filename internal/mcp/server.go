// Package mcp provides an MCP (Model Context Protocol) server that exposes
// content locks as MCP tools, so editors and agents can check and take
// locks before changing content.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/happytimeshere/kirby/internal/core"
	"github.com/happytimeshere/kirby/internal/observability"
	"github.com/happytimeshere/kirby/pkg/models"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the lock workspace and exposes it as MCP tools.
type Server struct {
	server      *gomcp.Server
	workspace   core.Workspace
	metricsCalc observability.MetricsCalculator
}

// NewServer creates a new MCP server over workspace. metricsCalc may be nil
// if the event log is disabled.
func NewServer(workspace core.Workspace, metricsCalc observability.MetricsCalculator, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		workspace:   workspace,
		metricsCalc: metricsCalc,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "klock", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type lockInput struct {
	Path   string `json:"path" jsonschema:"required,content path relative to the content root (e.g. blog/hello)"`
	UserID string `json:"user_id" jsonschema:"required,id of the user performing the operation"`
}

type getLockInput struct {
	Path   string `json:"path" jsonschema:"required,content path relative to the content root (e.g. blog/hello)"`
	UserID string `json:"user_id,omitempty" jsonschema:"id of the viewing user; their own lock reads as unlocked"`
}

type lockOutput struct {
	ID        string `json:"id"`
	Locked    bool   `json:"locked"`
	User      string `json:"user,omitempty"`
	Email     string `json:"email,omitempty"`
	Time      int64  `json:"time,omitempty"`
	CanUnlock bool   `json:"canUnlock,omitempty"`
	Broken    bool   `json:"broken"`
}

type listLocksInput struct {
	Dir    string `json:"dir,omitempty" jsonschema:"content directory relative to the content root. Defaults to the root."`
	UserID string `json:"user_id,omitempty" jsonschema:"id of the viewing user"`
}

type listLocksOutput struct {
	Locks []lockOutput `json:"locks"`
	Count int          `json:"count"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
	Path  string `json:"path,omitempty" jsonschema:"content item or directory to limit metrics to. Defaults to the whole content tree."`
}

type metricsOutput struct {
	Resource     string         `json:"resource,omitempty"`
	Acquired     int            `json:"acquired"`
	Refreshed    int            `json:"refreshed"`
	Released     int            `json:"released"`
	Broken       int            `json:"broken"`
	Resolved     int            `json:"resolved"`
	Denied       int            `json:"denied"`
	Conflicts    int            `json:"conflicts"`
	BrokenByUser map[string]int `json:"broken_by_user"`
	LostByUser   map[string]int `json:"lost_by_user"`
	ByResource   map[string]int `json:"by_resource"`
	EventCount   int            `json:"event_count"`
	OldestEvent  string         `json:"oldest_event,omitempty"`
	NewestEvent  string         `json:"newest_event,omitempty"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_lock",
		Description: "Get the lock status of a content item as seen by a user. A user's own lock reads as unlocked.",
	}, s.handleGetLock)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "acquire_lock",
		Description: "Lock a content item for editing. Fails if another user holds the lock; re-locking your own item refreshes it.",
	}, s.handleAcquireLock)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "release_lock",
		Description: "Release your own lock on a content item.",
	}, s.handleReleaseLock)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "break_lock",
		Description: "Forcibly remove another user's lock. The owner is notified and must resolve the notice before editing again.",
	}, s.handleBreakLock)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "resolve_lock",
		Description: "Acknowledge that your lock on a content item was broken.",
	}, s.handleResolveLock)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_locks",
		Description: "List the locks and pending notices tracked in a content directory.",
	}, s.handleListLocks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get lock activity from the event log: acquisitions, releases, breaks, denials, write conflicts and per-item counts. Pass path to limit it to a content item or directory.",
	}, s.handleGetMetrics)
}

// --- Tool handlers ---

func (s *Server) handleGetLock(_ context.Context, _ *gomcp.CallToolRequest, input getLockInput) (*gomcp.CallToolResult, lockOutput, error) {
	if input.Path == "" {
		return errorResult("path is required"), lockOutput{}, nil
	}

	res, err := s.workspace.Resolve(input.Path)
	if err != nil {
		return errorResult(err.Error()), lockOutput{}, nil
	}

	m := s.workspace.ManagerFor(res)
	return nil, toOutput(m, res.ID, models.UserID(input.UserID)), nil
}

func (s *Server) handleAcquireLock(_ context.Context, _ *gomcp.CallToolRequest, input lockInput) (*gomcp.CallToolResult, lockOutput, error) {
	return s.mutate(input, "locking", func(m core.LockManager, id string, u models.UserID) error {
		return m.Acquire(id, u)
	})
}

func (s *Server) handleReleaseLock(_ context.Context, _ *gomcp.CallToolRequest, input lockInput) (*gomcp.CallToolResult, lockOutput, error) {
	return s.mutate(input, "unlocking", func(m core.LockManager, id string, u models.UserID) error {
		return m.Release(id, u)
	})
}

func (s *Server) handleBreakLock(_ context.Context, _ *gomcp.CallToolRequest, input lockInput) (*gomcp.CallToolResult, lockOutput, error) {
	return s.mutate(input, "breaking", func(m core.LockManager, id string, u models.UserID) error {
		return m.Break(id, u)
	})
}

func (s *Server) handleResolveLock(_ context.Context, _ *gomcp.CallToolRequest, input lockInput) (*gomcp.CallToolResult, lockOutput, error) {
	return s.mutate(input, "resolving", func(m core.LockManager, id string, u models.UserID) error {
		return m.Acknowledge(id, u)
	})
}

func (s *Server) handleListLocks(_ context.Context, _ *gomcp.CallToolRequest, input listLocksInput) (*gomcp.CallToolResult, listLocksOutput, error) {
	dir := input.Dir
	if dir == "" {
		dir = "."
	}

	m, err := s.workspace.ManagerForDir(dir)
	if err != nil {
		return errorResult(err.Error()), listLocksOutput{Locks: []lockOutput{}}, nil
	}

	ids := m.Resources()
	out := listLocksOutput{
		Locks: make([]lockOutput, len(ids)),
		Count: len(ids),
	}
	for i, id := range ids {
		out.Locks[i] = toOutput(m, id, models.UserID(input.UserID))
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (event log may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	var scope string
	if input.Path != "" {
		res, err := s.workspace.Resolve(input.Path)
		if err != nil {
			return errorResult(err.Error()), emptyMetricsOutput(), nil
		}
		scope = res.ID
	}

	metrics, err := s.metricsCalc.Calculate(observability.MetricsQuery{Since: sinceTime, Resource: scope})
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		Resource:     metrics.Resource,
		Acquired:     metrics.Acquired,
		Refreshed:    metrics.Refreshed,
		Released:     metrics.Released,
		Broken:       metrics.Broken,
		Resolved:     metrics.Resolved,
		Denied:       metrics.Denied,
		Conflicts:    metrics.Conflicts,
		BrokenByUser: metrics.BrokenByUser,
		LostByUser:   metrics.LostByUser,
		ByResource:   metrics.ByResource,
		EventCount:   metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

// mutate authenticates the caller, resolves the path and applies op with
// conflict retries. The returned output is the state as the caller sees it
// afterwards.
func (s *Server) mutate(input lockInput, verb string, op func(core.LockManager, string, models.UserID) error) (*gomcp.CallToolResult, lockOutput, error) {
	if input.Path == "" {
		return errorResult("path is required"), lockOutput{}, nil
	}

	user, err := s.workspace.Authenticate(models.UserID(input.UserID))
	if err != nil {
		return errorResult(err.Error()), lockOutput{}, nil
	}

	res, err := s.workspace.Resolve(input.Path)
	if err != nil {
		return errorResult(err.Error()), lockOutput{}, nil
	}

	var last core.LockManager
	err = s.workspace.Mutate(res, func(m core.LockManager) error {
		last = m
		return op(m, res.ID, user.ID)
	})
	if err != nil {
		var pe *core.PermissionError
		if errors.As(err, &pe) {
			return errorResult(pe.Reason), lockOutput{}, nil
		}
		return errorResult(fmt.Sprintf("%s %s: %s", verb, res.ID, err)), lockOutput{}, nil
	}

	return nil, toOutput(last, res.ID, user.ID), nil
}

// --- Helpers ---

func toOutput(m core.LockManager, id string, viewer models.UserID) lockOutput {
	st := m.Get(id, viewer)
	return lockOutput{
		ID:        id,
		Locked:    st.Locked,
		User:      string(st.User),
		Email:     st.Email,
		Time:      st.Time,
		CanUnlock: st.CanUnlock,
		Broken:    viewer != "" && m.WasBrokenFor(id, viewer),
	}
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		BrokenByUser: make(map[string]int),
		LostByUser:   make(map[string]int),
		ByResource:   make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	case 'm':
		return now.Add(-time.Duration(num) * time.Minute), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d, h or m)", string(suffix))
	}
}
