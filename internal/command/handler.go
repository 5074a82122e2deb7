// Package command implements the local control channel of the daemon.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/pipeline"
)

// Method names.
const (
	MethodStatus   = "daemon_status"
	MethodStats    = "daemon_stats"
	MethodShutdown = "daemon_shutdown"
	MethodReload   = "config_reload"
	MethodTable    = "table_show"
	MethodClassify = "frame_classify"
)

// Controller is the part of the daemon the handler drives.
type Controller interface {
	Reload() error
	TriggerShutdown()
	Classifier() *classifier.Classifier
	Stats() pipeline.Stats
}

// Info describes the running daemon. It does not change after start.
type Info struct {
	Version    string   `json:"version"`
	Mode       string   `json:"mode"`
	Interfaces []string `json:"interfaces"`
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	ctrl      Controller
	info      Info
	startTime time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(ctrl Controller, info Info) *CommandHandler {
	return &CommandHandler{
		ctrl:      ctrl,
		info:      info,
		startTime: time.Now(),
	}
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`

	// after runs once the response has been written.
	after func()
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// StatusResult is the result of daemon_status.
type StatusResult struct {
	Info
	PID        int     `json:"pid"`
	UptimeSec  float64 `json:"uptime_sec"`
	Generation uint64  `json:"generation"`
	Rules      int     `json:"rules"`
}

// StatsResult is the result of daemon_stats.
type StatsResult struct {
	Received      uint64 `json:"received"`
	Pass          uint64 `json:"pass"`
	Redirect      uint64 `json:"redirect"`
	Drop          uint64 `json:"drop"`
	Truncated     uint64 `json:"truncated"`
	ActuateErrors uint64 `json:"actuate_errors"`
	ReadErrors    uint64 `json:"read_errors"`
}

// ReloadResult is the result of config_reload.
type ReloadResult struct {
	Status     string `json:"status"`
	Generation uint64 `json:"generation"`
	Rules      int    `json:"rules"`
}

// TableResult is the result of table_show.
type TableResult struct {
	Generation  uint64       `json:"generation"`
	Rules       []string     `json:"rules"`
	Unmatched   core.Verdict `json:"unmatched"`
	Truncated   core.Verdict `json:"truncated"`
	IPv4Options bool         `json:"ipv4_options"`
}

// ClassifyParams are the parameters of frame_classify. Frame travels as
// base64 in JSON.
type ClassifyParams struct {
	Frame []byte `json:"frame"`
}

// ClassifyResult is the result of frame_classify.
type ClassifyResult struct {
	Verdict    core.Verdict `json:"verdict"`
	Reason     string       `json:"reason"`
	Rule       int          `json:"rule"`
	RuleText   string       `json:"rule_text,omitempty"`
	Generation uint64       `json:"generation"`
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodStats:
		return h.handleDaemonStats(ctx, cmd)
	case MethodShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	case MethodReload:
		return h.handleConfigReload(ctx, cmd)
	case MethodTable:
		return h.handleTableShow(ctx, cmd)
	case MethodClassify:
		return h.handleFrameClassify(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	c := h.ctrl.Classifier()
	return Response{
		ID: cmd.ID,
		Result: StatusResult{
			Info:       h.info,
			PID:        os.Getpid(),
			UptimeSec:  time.Since(h.startTime).Seconds(),
			Generation: c.Generation(),
			Rules:      c.Table().Len(),
		},
	}
}

func (h *CommandHandler) handleDaemonStats(_ context.Context, cmd Command) Response {
	s := h.ctrl.Stats()
	return Response{
		ID: cmd.ID,
		Result: StatsResult{
			Received:      s.Received,
			Pass:          s.Pass,
			Redirect:      s.Redirect,
			Drop:          s.Drop,
			Truncated:     s.Truncated,
			ActuateErrors: s.ActuateErrors,
			ReadErrors:    s.ReadErrors,
		},
	}
}

// handleDaemonShutdown answers first and then asks the daemon to stop.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "shutting_down"},
		after:  h.ctrl.TriggerShutdown,
	}
}

func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if err := h.ctrl.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}
	c := h.ctrl.Classifier()
	return Response{
		ID: cmd.ID,
		Result: ReloadResult{
			Status:     "reloaded",
			Generation: c.Generation(),
			Rules:      c.Table().Len(),
		},
	}
}

func (h *CommandHandler) handleTableShow(_ context.Context, cmd Command) Response {
	c := h.ctrl.Classifier()
	t := c.Table()
	rules := make([]string, 0, t.Len())
	for _, r := range t.Rules() {
		rules = append(rules, r.String())
	}
	return Response{
		ID: cmd.ID,
		Result: TableResult{
			Generation:  c.Generation(),
			Rules:       rules,
			Unmatched:   t.Policy().Unmatched,
			Truncated:   t.Policy().Truncated,
			IPv4Options: t.IPv4Options(),
		},
	}
}

func (h *CommandHandler) handleFrameClassify(_ context.Context, cmd Command) Response {
	var params ClassifyParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	c := h.ctrl.Classifier()
	// One snapshot for both the decision and the rule text.
	t := c.Table()
	d := t.Explain(params.Frame)
	res := ClassifyResult{
		Verdict:    d.Verdict,
		Reason:     d.Reason.String(),
		Rule:       d.Rule,
		Generation: c.Generation(),
	}
	if d.Rule >= 0 && d.Rule < t.Len() {
		res.RuleText = t.Rules()[d.Rule].String()
	}
	return Response{ID: cmd.ID, Result: res}
}
