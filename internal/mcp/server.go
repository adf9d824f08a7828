// Package mcp exposes the change-control engine to AI assistants: change log
// queries, rollbacks and failover diagnostics as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/paularlott/mcp"

	"github.com/netforge-io/changerd/internal/executor"
	"github.com/netforge-io/changerd/internal/log"
	"github.com/netforge-io/changerd/internal/model"
	"github.com/netforge-io/changerd/internal/probe"
	"github.com/netforge-io/changerd/internal/profile"
	"github.com/netforge-io/changerd/internal/storage"
)

// Server wraps the MCP server with the change-control engine
type Server struct {
	mcpServer   *mcp.Server
	store       storage.ChangeLog
	exec        *executor.Executor
	prober      *probe.Prober
	catalog     *profile.Catalog
	bearerToken string
}

// NewServer creates a new MCP server for change control
func NewServer(store storage.ChangeLog, exec *executor.Executor, prober *probe.Prober, catalog *profile.Catalog, bearerToken string) *Server {
	s := &Server{
		mcpServer:   mcp.NewServer("changerd", "1.0.0"),
		store:       store,
		exec:        exec,
		prober:      prober,
		catalog:     catalog,
		bearerToken: bearerToken,
	}
	s.registerTools()
	return s
}

// registerTools registers all change-control tools
func (s *Server) registerTools() {
	// change_list - List change records for a device
	s.mcpServer.RegisterTool(
		mcp.NewTool("change_list", "List the change log for a device, newest first",
			mcp.String("device_id", "Device ID", mcp.Required()),
			mcp.String("limit", "Maximum number of records to return (default 20)"),
		),
		s.handleChangeList,
	)

	// change_get - Get one change record
	s.mcpServer.RegisterTool(
		mcp.NewTool("change_get", "Get a change record by change ID, including its commands and result detail",
			mcp.String("change_id", "Change ID", mcp.Required()),
		),
		s.handleChangeGet,
	)

	// change_rollback - Roll back an applied change
	s.mcpServer.RegisterTool(
		mcp.NewTool("change_rollback", "Roll back an applied change by replaying its stored inverse commands in reverse order",
			mcp.String("change_id", "Change ID", mcp.Required()),
			mcp.String("change_ticket", "Change ticket reference (required when change control is enforced)"),
		),
		s.handleChangeRollback,
	)

	// hardening_profiles - List the profile catalogs
	s.mcpServer.RegisterTool(
		mcp.NewTool("hardening_profiles", "List the available router and site hardening profiles"),
		s.handleProfiles,
	)

	// failover_test - Probe failover targets through a device
	s.mcpServer.RegisterTool(
		mcp.NewTool("failover_test", "Run a failover reachability test from a device toward upstream targets",
			mcp.String("device_id", "Device ID", mcp.Required()),
			mcp.StringArray("targets", "Probe targets (defaults to well-known anycast resolvers)"),
			mcp.String("count", "Probes per target (default 4, max 20)"),
		),
		s.handleFailoverTest,
	)
}

// HandleRequest handles MCP HTTP requests with optional bearer token authentication
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != s.bearerToken {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

func (s *Server) handleChangeList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	deviceID, err := req.String("device_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("device_id is required: " + err.Error())
	}

	limit := 20
	if v := req.StringOr("limit", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, mcp.NewToolErrorInvalidParams("limit must be a positive integer")
		}
		limit = n
	}

	changes, err := s.store.List(model.ChangeFilter{DeviceID: deviceID, Limit: limit})
	if err != nil {
		log.Error("MCP change list failed", "device_id", deviceID, "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list changes: " + err.Error())
	}
	if len(changes) == 0 {
		return mcp.NewToolResponseText(fmt.Sprintf("No change records for device %s", deviceID)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d change records for %s:\n", len(changes), deviceID)
	for _, c := range changes {
		fmt.Fprintf(&sb, "- %s [%s] %s", c.ChangeID, c.Status, c.Category)
		if c.RouterProfile != "" || c.SiteProfile != "" {
			fmt.Fprintf(&sb, " (%s/%s)", c.RouterProfile, c.SiteProfile)
		}
		fmt.Fprintf(&sb, " by %s at %s\n", c.Actor, c.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResponseText(sb.String()), nil
}

func (s *Server) handleChangeGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	changeID, err := req.String("change_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("change_id is required: " + err.Error())
	}

	rec, err := s.store.Get(changeID)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("change not found: " + err.Error())
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to encode change: " + err.Error())
	}
	return mcp.NewToolResponseText(string(data)), nil
}

func (s *Server) handleChangeRollback(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	changeID, err := req.String("change_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("change_id is required: " + err.Error())
	}
	ticket := req.StringOr("change_ticket", "")

	rec, err := s.exec.Rollback(ctx, changeID, "mcp", ticket)
	if err != nil {
		log.Warn("MCP rollback rejected", "change_id", changeID, "error", err)
		return nil, mcp.NewToolErrorInternal("rollback failed: " + err.Error())
	}

	if rec.Status == model.StatusRolledBack {
		return mcp.NewToolResponseText(fmt.Sprintf("Change %s rolled back (%s)", rec.ChangeID, rec.ResultDetail.Message)), nil
	}
	return mcp.NewToolResponseText(fmt.Sprintf("Rollback of %s ended in status %s; the device lock is held for manual intervention", rec.ChangeID, rec.Status)), nil
}

func (s *Server) handleProfiles(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	var sb strings.Builder
	sb.WriteString("Router profiles:\n")
	for _, p := range s.catalog.RouterProfiles() {
		fmt.Fprintf(&sb, "- %s: %s\n", p.ID, p.Label)
	}
	sb.WriteString("Site profiles:\n")
	for _, p := range s.catalog.SiteProfiles() {
		fmt.Fprintf(&sb, "- %s: %s\n", p.ID, p.Label)
	}
	return mcp.NewToolResponseText(sb.String()), nil
}

func (s *Server) handleFailoverTest(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	deviceID, err := req.String("device_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("device_id is required: " + err.Error())
	}
	targets, _ := req.StringSlice("targets")

	count := 0
	if v := req.StringOr("count", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, mcp.NewToolErrorInvalidParams("count must be a positive integer")
		}
		count = n
	}

	report, err := s.prober.Run(ctx, probe.Request{DeviceID: deviceID, Targets: targets, Count: count})
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failover test failed: " + err.Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Failover test for %s: overall %s\n", deviceID, report.OverallStatus)
	for _, t := range report.Targets {
		latency := "n/a"
		if t.AvgLatencyMS != nil {
			latency = fmt.Sprintf("%.1fms", *t.AvgLatencyMS)
		}
		fmt.Fprintf(&sb, "- %s: %d/%d replies, loss %.0f%%, avg %s [%s]\n",
			t.Target, t.SuccessProbes, t.TotalProbes, t.PacketLoss*100, latency, t.Status)
	}
	if report.Device != nil {
		fmt.Fprintf(&sb, "Device: %s (%s), up %ds\n", report.Device.SysName, report.Device.SysDescr, report.Device.UptimeSec)
	}
	return mcp.NewToolResponseText(sb.String()), nil
}
