package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/review"
	"github.com/joescharf/tfreview/internal/store"
	"github.com/joescharf/tfreview/internal/trends"
)

// Server exposes the review pipeline as MCP tools.
type Server struct {
	store   store.Store
	reviews *review.Orchestrator
	trends  *trends.Aggregator
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, o *review.Orchestrator, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		store:   s,
		reviews: o,
		trends:  trends.NewAggregator(s),
		version: version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tfreview", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.submitReviewTool())
	srv.AddTool(s.getReviewTool())
	srv.AddTool(s.reviewHistoryTool())
	srv.AddTool(s.stackHistoryTool())
	srv.AddTool(s.issueFrequencyTool())
	srv.AddTool(s.stuckReviewsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// versionOut is the compact form of one review version.
type versionOut struct {
	ReviewID  string              `json:"review_id"`
	Version   int                 `json:"version"`
	Status    models.ReviewStatus `json:"status"`
	StackID   string              `json:"stack_id,omitempty"`
	RiskScore *float64            `json:"risk_score,omitempty"`
	RiskLevel models.RiskLevel    `json:"risk_level,omitempty"`
	ModelUsed string              `json:"model_used,omitempty"`
	Error     *models.ErrorDetail `json:"error,omitempty"`
	CreatedAt string              `json:"created_at"`
}

func toVersionOut(r *models.ReviewRecord) versionOut {
	return versionOut{
		ReviewID:  r.ReviewID,
		Version:   r.Version,
		Status:    r.Status,
		StackID:   r.StackID(),
		RiskScore: r.RiskScore,
		RiskLevel: r.RiskLevel,
		ModelUsed: r.ModelUsed,
		Error:     r.Error,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}

func jsonResult(v any, what string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tfr_submit_review
func (s *Server) submitReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfr_submit_review",
		mcp.WithDescription("Submit Terraform source for review. By default the review runs in the background and the pending record is returned; poll tfr_get_review for the result. Set wait=true to block until the review completes or fails."),
		mcp.WithString("snapshot", mcp.Required(), mcp.Description("Terraform source text to review (one or more .tf files concatenated)")),
		mcp.WithString("stack_id", mcp.Description("Stack the source belongs to; enables trend and recurring-issue tracking")),
		mcp.WithString("run_id", mcp.Description("CI run identifier")),
		mcp.WithString("commit", mcp.Description("Commit SHA of the snapshot")),
		mcp.WithString("branch", mcp.Description("Branch of the snapshot")),
		mcp.WithBoolean("wait", mcp.Description("Block until the review finishes (default false)")),
	)
	return tool, s.handleSubmitReview
}

func (s *Server) handleSubmitReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snapshot, err := request.RequireString("snapshot")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: snapshot"), nil
	}

	req := review.SubmitRequest{
		SourceSnapshot: snapshot,
		Context: &models.ReviewContext{
			StackID: request.GetString("stack_id", ""),
			RunID:   request.GetString("run_id", ""),
			Commit:  request.GetString("commit", ""),
			Branch:  request.GetString("branch", ""),
			Source:  "mcp",
		},
	}

	if !request.GetBool("wait", false) {
		rec, err := s.reviews.SubmitAsync(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to submit review: %v", err)), nil
		}
		return jsonResult(toVersionOut(rec), "review")
	}

	rec, err := s.reviews.Submit(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to submit review: %v", err)), nil
	}
	done, err := s.reviews.Process(ctx, rec.ReviewID)
	if err != nil && done == nil {
		return mcp.NewToolResultError(fmt.Sprintf("review %s: %v", rec.ReviewID, err)), nil
	}
	return jsonResult(done, "review")
}

// tfr_get_review
func (s *Server) getReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfr_get_review",
		mcp.WithDescription("Get a review with its full analysis, risk score and breakdown. Returns the latest version unless version is given. Accepts a unique review id prefix."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("Review ID or unique prefix")),
		mcp.WithNumber("version", mcp.Description("Specific version number")),
	)
	return tool, s.handleGetReview
}

func (s *Server) handleGetReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("review_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: review_id"), nil
	}

	rec, err := s.reviews.Resolve(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if v := request.GetInt("version", 0); v > 0 && v != rec.Version {
		rec, err = s.store.GetVersion(ctx, rec.ReviewID, v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	return jsonResult(rec, "review")
}

// tfr_review_history
func (s *Server) reviewHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfr_review_history",
		mcp.WithDescription("List every version of a review in order, showing how its status and risk changed."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("Review ID or unique prefix")),
	)
	return tool, s.handleReviewHistory
}

func (s *Server) handleReviewHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("review_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: review_id"), nil
	}

	latest, err := s.reviews.Resolve(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hist, err := s.store.History(ctx, latest.ReviewID, store.Page{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load history: %v", err)), nil
	}

	out := make([]versionOut, len(hist))
	for i, r := range hist {
		out[i] = toVersionOut(r)
	}
	return jsonResult(out, "history")
}

// tfr_stack_history
func (s *Server) stackHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfr_stack_history",
		mcp.WithDescription("Summarise a stack's reviews over a period: daily risk, finding counts, risk trend (improving/degrading/stable) and top recurring issues."),
		mcp.WithString("stack_id", mcp.Required(), mcp.Description("Stack identifier")),
		mcp.WithNumber("days", mcp.Description("Period in days (default 30)")),
	)
	return tool, s.handleStackHistory
}

func (s *Server) handleStackHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stackID, err := request.RequireString("stack_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: stack_id"), nil
	}

	t, err := s.trends.Stack(ctx, stackID, request.GetInt("days", trends.DefaultDays))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute trends: %v", err)), nil
	}
	return jsonResult(t, "trends")
}

// tfr_issue_frequency
func (s *Server) issueFrequencyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfr_issue_frequency",
		mcp.WithDescription("List findings that recur across a stack's reviews, most frequent first, with first/last seen and affected review ids."),
		mcp.WithString("stack_id", mcp.Required(), mcp.Description("Stack identifier")),
		mcp.WithNumber("limit", mcp.Description("Maximum issues to return (default 20)")),
	)
	return tool, s.handleIssueFrequency
}

func (s *Server) handleIssueFrequency(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stackID, err := request.RequireString("stack_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: stack_id"), nil
	}

	issues, err := s.store.ListIssueFrequencies(ctx, stackID, request.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}
	if issues == nil {
		issues = []*models.IssueFrequency{}
	}
	return jsonResult(issues, "issues")
}

// tfr_stuck_reviews
func (s *Server) stuckReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfr_stuck_reviews",
		mcp.WithDescription("List reviews that have stayed pending or in_progress longer than a threshold."),
		mcp.WithString("status", mcp.Description("pending (default) or in_progress")),
		mcp.WithString("older_than", mcp.Description("Go duration such as 15m or 2h (default from config)")),
	)
	return tool, s.handleStuckReviews
}

func (s *Server) handleStuckReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var olderThan time.Duration
	if v := request.GetString("older_than", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid older_than %q: %v", v, err)), nil
		}
		olderThan = d
	}

	status := models.ReviewStatus(request.GetString("status", ""))
	if status != "" && !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", status)), nil
	}

	recs, err := s.reviews.Stuck(ctx, status, olderThan)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]versionOut, len(recs))
	for i, r := range recs {
		out[i] = toVersionOut(r)
	}
	return jsonResult(out, "reviews")
}
