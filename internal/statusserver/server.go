// Package statusserver exposes TaskRun status to MCP clients over stdio.
//
// The tools are read-only. A TaskRun can be looked up by name or by its
// identity (service and task id), in which case the most recently created
// matching TaskRun is returned.
package statusserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	trclient "taskrun/internal/client"
	"taskrun/internal/formatting"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
	"taskrun/pkg/logging"
)

const maxEvents = 20

// Server wraps an MCP server with the TaskRun status tools.
type Server struct {
	client    trclient.TaskRunClient
	namespace string
	mcpServer *server.MCPServer

	now func() time.Time
}

// New creates a status server. namespace is used when a call names none.
func New(c trclient.TaskRunClient, namespace, version string) *Server {
	s := &Server{
		client:    c,
		namespace: namespace,
		mcpServer: server.NewMCPServer(
			"taskrun-status",
			version,
			server.WithToolCapabilities(false),
		),
		now: time.Now,
	}
	s.registerTools()
	return s
}

// Start serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	logging.Info("StatusServer", "Serving TaskRun status tools on stdio")
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads JSON-RPC messages from in and writes responses to out. A
// cancelled ctx is a clean shutdown.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("status server: %w", err)
	}
	logging.Debug("StatusServer", "Stdio session ended")
	return nil
}

// MCPServer returns the underlying server, e.g. for other transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	statusTool := mcp.NewTool("taskrun_status",
		mcp.WithDescription("Get the phase, conditions, outcome and recent events of one TaskRun. Look it up by name, or by service and taskId for the latest run of a task."),
		mcp.WithString("name",
			mcp.Description("TaskRun name"),
		),
		mcp.WithString("service",
			mcp.Description("Service name, used with taskId when name is not given"),
		),
		mcp.WithNumber("taskId",
			mcp.Description("Task id, used with service when name is not given"),
		),
		mcp.WithString("namespace",
			mcp.Description("Namespace of the TaskRun"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleStatus)

	listTool := mcp.NewTool("taskrun_list",
		mcp.WithDescription("List TaskRuns with their phase and latest reason"),
		mcp.WithString("namespace",
			mcp.Description("Namespace to list; empty uses the server default"),
		),
		mcp.WithString("service",
			mcp.Description("Only TaskRuns of this service"),
		),
		mcp.WithString("phase",
			mcp.Description("Only TaskRuns in this phase"),
			mcp.Enum("Pending", "Preparing", "Running", "Succeeded", "Failed"),
		),
	)
	s.mcpServer.AddTool(listTool, s.handleList)
}

// statusResult is the document returned by taskrun_status.
type statusResult struct {
	formatting.TaskRunSummary

	Conditions []metav1.Condition      `json:"conditions,omitempty"`
	Events     []trclient.EventRecord `json:"events,omitempty"`
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	namespace := request.GetString("namespace", s.namespace)
	name := request.GetString("name", "")

	var tr *v1alpha1.TaskRun
	var err error
	if name != "" {
		tr, err = s.client.GetTaskRun(ctx, name, namespace)
	} else {
		service := request.GetString("service", "")
		taskID := int64(request.GetInt("taskId", 0))
		if service == "" || taskID <= 0 {
			return mcp.NewToolResultError("either name, or service and taskId, are required"), nil
		}
		tr, err = s.latestForTask(ctx, namespace, service, taskID)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get TaskRun: %v", err)), nil
	}

	events, err := s.client.QueryEvents(ctx, tr.Namespace, tr.Name)
	if err != nil {
		logging.Warn("StatusServer", "Failed to query events for %s/%s: %v", tr.Namespace, tr.Name, err)
	}
	if len(events) > maxEvents {
		events = events[:maxEvents]
	}

	return mcp.NewToolResultText(formatting.PrettyJSON(statusResult{
		TaskRunSummary: formatting.Summarize(tr, s.now()),
		Conditions:     tr.Status.Conditions,
		Events:         events,
	})), nil
}

func (s *Server) latestForTask(ctx context.Context, namespace, service string, taskID int64) (*v1alpha1.TaskRun, error) {
	runs, err := s.client.ListTaskRuns(ctx, namespace, trclient.ListFilter{Service: service})
	if err != nil {
		return nil, err
	}

	var matches []v1alpha1.TaskRun
	for _, tr := range runs {
		if tr.Spec.TaskID == taskID {
			matches = append(matches, tr)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no TaskRun for service %s task %d", service, taskID)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[j].CreationTimestamp.Before(&matches[i].CreationTimestamp)
	})
	return &matches[0], nil
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := trclient.ListFilter{
		Service: request.GetString("service", ""),
		Phase:   v1alpha1.TaskRunPhase(request.GetString("phase", "")),
	}

	runs, err := s.client.ListTaskRuns(ctx, request.GetString("namespace", s.namespace), filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list TaskRuns: %v", err)), nil
	}

	now := s.now()
	summaries := make([]formatting.TaskRunSummary, 0, len(runs))
	for i := range runs {
		summaries = append(summaries, formatting.Summarize(&runs[i], now))
	}
	return mcp.NewToolResultText(formatting.PrettyJSON(summaries)), nil
}
