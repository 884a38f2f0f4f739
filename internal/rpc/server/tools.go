package server

import (
	"context"
	"encoding/json"
	"fmt"

	"automatosx/internal/errs"
	"automatosx/internal/memory"
	"automatosx/internal/orchestrator"
	"automatosx/internal/profile"
	"automatosx/internal/provider"
	"automatosx/internal/session"
	"automatosx/internal/tools"
)

// Services are the runtime components the tool surface exposes. Memory may
// be nil when the store is disabled; memory tools then report a clean
// failure instead of crashing.
type Services struct {
	Orchestrator *orchestrator.Orchestrator
	Loader       *profile.Loader
	Sessions     *session.Manager
	Memory       *memory.Store
	Router       *provider.Router
	Version      string
}

// funcTool binds a name, schema, and handler into a tools.Tool.
type funcTool struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, args map[string]any) (tools.ToolResult, error)
}

func (t *funcTool) Name() string               { return t.name }
func (t *funcTool) Description() string        { return t.description }
func (t *funcTool) Parameters() map[string]any { return t.schema }
func (t *funcTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	return t.fn(ctx, args)
}

func jsonResult(v any) (tools.ToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return tools.ToolResult{}, errs.Internal("encode tool result", err)
	}
	return tools.NewSuccessResult(string(data)), nil
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// BuildRegistry assembles the full tool surface over the services.
func BuildRegistry(svcs *Services) *tools.Registry {
	r := tools.NewRegistry()

	r.MustRegister(&funcTool{
		name:        "run_agent",
		description: "Execute an agent with a task and return its response",
		schema: tools.ObjectSchema(map[string]any{
			"agent":       strProp("agent name"),
			"task":        strProp("task description"),
			"provider":    strProp("preferred provider override"),
			"model":       strProp("model override"),
			"session_id":  strProp("join an existing session"),
			"skip_memory": boolProp("skip memory injection"),
		}, "agent", "task"),
		fn: svcs.runAgent,
	})

	r.MustRegister(&funcTool{
		name:        "list_agents",
		description: "List the available agent profiles",
		schema:      tools.ObjectSchema(map[string]any{}),
		fn:          svcs.listAgents,
	})

	r.MustRegister(&funcTool{
		name:        "search_memory",
		description: "Full-text search over stored memory entries",
		schema: tools.ObjectSchema(map[string]any{
			"query": strProp("search text"),
			"limit": intProp("maximum results (default 10)"),
			"type":  strProp("filter by entry type"),
			"agent": strProp("filter by agent"),
		}, "query"),
		fn: svcs.searchMemory,
	})

	r.MustRegister(&funcTool{
		name:        "get_status",
		description: "Report provider availability, session counts, and memory stats",
		schema:      tools.ObjectSchema(map[string]any{}),
		fn:          svcs.getStatus,
	})

	r.MustRegister(&funcTool{
		name:        "session_create",
		description: "Create a collaboration session",
		schema: tools.ObjectSchema(map[string]any{
			"task":      strProp("overall task"),
			"initiator": strProp("initiating agent"),
		}, "task", "initiator"),
		fn: svcs.sessionCreate,
	})

	r.MustRegister(&funcTool{
		name:        "session_list",
		description: "List sessions, active by default",
		schema: tools.ObjectSchema(map[string]any{
			"agent": strProp("only sessions involving this agent"),
			"all":   boolProp("include terminated sessions"),
		}),
		fn: svcs.sessionList,
	})

	r.MustRegister(&funcTool{
		name:        "session_status",
		description: "Show one session",
		schema: tools.ObjectSchema(map[string]any{
			"session_id": strProp("session id"),
		}, "session_id"),
		fn: svcs.sessionStatus,
	})

	r.MustRegister(&funcTool{
		name:        "session_complete",
		description: "Mark a session completed",
		schema: tools.ObjectSchema(map[string]any{
			"session_id": strProp("session id"),
		}, "session_id"),
		fn: svcs.sessionComplete,
	})

	r.MustRegister(&funcTool{
		name:        "session_fail",
		description: "Mark a session failed",
		schema: tools.ObjectSchema(map[string]any{
			"session_id": strProp("session id"),
			"error":      strProp("failure reason"),
		}, "session_id"),
		fn: svcs.sessionFail,
	})

	r.MustRegister(&funcTool{
		name:        "memory_add",
		description: "Store a memory entry",
		schema: tools.ObjectSchema(map[string]any{
			"content": strProp("entry content"),
			"type":    strProp("entry type (conversation, code, document, task, other)"),
			"agent":   strProp("owning agent"),
			"tags":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, "content"),
		fn: svcs.memoryAdd,
	})

	r.MustRegister(&funcTool{
		name:        "memory_list",
		description: "List memory entries",
		schema: tools.ObjectSchema(map[string]any{
			"limit":    intProp("maximum results (default 50)"),
			"offset":   intProp("pagination offset"),
			"type":     strProp("filter by entry type"),
			"agent":    strProp("filter by agent"),
			"order_by": strProp("sort key: created, accessed, or count"),
			"order":    strProp("sort direction: asc or desc"),
		}),
		fn: svcs.memoryList,
	})

	r.MustRegister(&funcTool{
		name:        "memory_delete",
		description: "Delete a memory entry by id",
		schema: tools.ObjectSchema(map[string]any{
			"id": strProp("entry id"),
		}, "id"),
		fn: svcs.memoryDelete,
	})

	r.MustRegister(&funcTool{
		name:        "memory_export",
		description: "Export all memory entries to a JSON file",
		schema: tools.ObjectSchema(map[string]any{
			"path": strProp("destination file path, relative to the working directory"),
		}, "path"),
		fn: svcs.memoryExport,
	})

	r.MustRegister(&funcTool{
		name:        "memory_import",
		description: "Import memory entries from a JSON export",
		schema: tools.ObjectSchema(map[string]any{
			"path":            strProp("source file path, relative to the working directory"),
			"skip_duplicates": boolProp("skip entries whose content already exists (default true)"),
			"batch_size":      intProp("entries per transaction (default 100)"),
			"validate":        boolProp("check the file without importing"),
		}, "path"),
		fn: svcs.memoryImport,
	})

	r.MustRegister(&funcTool{
		name:        "memory_stats",
		description: "Summarize the memory store",
		schema:      tools.ObjectSchema(map[string]any{}),
		fn:          svcs.memoryStats,
	})

	r.MustRegister(&funcTool{
		name:        "memory_clear",
		description: "Delete all memory entries",
		schema:      tools.ObjectSchema(map[string]any{}),
		fn:          svcs.memoryClear,
	})

	return r
}

func (s *Services) requireMemory() error {
	if s.Memory == nil {
		return errs.New(errs.CodeMemoryNotInitialized, "memory store is disabled").
			WithSuggestions("enable memory in the configuration and restart")
	}
	return nil
}

func (s *Services) runAgent(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	agent := tools.StringArg(args, "agent")
	task := tools.StringArg(args, "task")
	if err := tools.ValidateAgentName(agent); err != nil {
		return tools.ToolResult{}, err
	}
	if task == "" {
		return tools.ToolResult{}, errs.New(errs.CodeInvalidInput, "task is required")
	}
	if err := tools.ValidateText("task", task); err != nil {
		return tools.ToolResult{}, err
	}

	res, err := s.Orchestrator.Run(ctx, agent, task, orchestrator.RunOptions{
		Provider:    tools.StringArg(args, "provider"),
		Model:       tools.StringArg(args, "model"),
		SessionID:   tools.StringArg(args, "session_id"),
		SkipMemory:  tools.BoolArg(args, "skip_memory"),
		AutoConfirm: true,
	})
	if err != nil {
		return tools.ToolResult{}, err
	}
	if !res.Success {
		return tools.NewErrorResult(fmt.Sprintf("run %s finished with failed stages", res.RunID)), nil
	}
	return jsonResult(res)
}

func (s *Services) listAgents(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	profiles, err := s.Loader.Profiles()
	if err != nil {
		return tools.ToolResult{}, err
	}

	type agentInfo struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name,omitempty"`
		Team        string `json:"team,omitempty"`
		Role        string `json:"role,omitempty"`
		Stages      int    `json:"stages,omitempty"`
	}
	out := make([]agentInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, agentInfo{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Team:        p.Team,
			Role:        p.Role,
			Stages:      len(p.Stages),
		})
	}
	return jsonResult(out)
}

func (s *Services) searchMemory(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	if err := s.requireMemory(); err != nil {
		return tools.ToolResult{}, err
	}
	query := tools.StringArg(args, "query")
	if query == "" {
		return tools.ToolResult{}, errs.New(errs.CodeInvalidInput, "query is required")
	}

	results, err := s.Memory.Search(query, tools.IntArg(args, "limit"),
		tools.StringArg(args, "type"), tools.StringArg(args, "agent"))
	if err != nil {
		return tools.ToolResult{}, err
	}
	return jsonResult(results)
}

func (s *Services) getStatus(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	status := map[string]any{
		"version":         s.Version,
		"active_sessions": len(s.Sessions.Active()),
	}

	if s.Router != nil {
		providers := map[string]any{}
		for name, avail := range s.Router.ProbeAll(ctx) {
			providers[name] = avail
		}
		status["providers"] = providers
		status["router_metrics"] = s.Router.Metrics()
	}

	if s.Memory != nil {
		if stats, err := s.Memory.Stats(); err == nil {
			status["memory"] = stats
		}
	}
	return jsonResult(status)
}

func (s *Services) sessionCreate(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	task := tools.StringArg(args, "task")
	initiator := tools.StringArg(args, "initiator")
	if task == "" {
		return tools.ToolResult{}, errs.New(errs.CodeInvalidInput, "task is required")
	}
	if err := tools.ValidateAgentName(initiator); err != nil {
		return tools.ToolResult{}, err
	}

	sess, err := s.Sessions.Create(task, initiator)
	if err != nil {
		return tools.ToolResult{}, err
	}
	return jsonResult(sess)
}

func (s *Services) sessionList(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	var sessions []*session.Session
	switch {
	case tools.StringArg(args, "agent") != "":
		sessions = s.Sessions.ActiveForAgent(tools.StringArg(args, "agent"))
	case tools.BoolArg(args, "all"):
		sessions = s.Sessions.All()
	default:
		sessions = s.Sessions.Active()
	}
	return jsonResult(sessions)
}

func (s *Services) sessionStatus(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	sess, err := s.Sessions.Get(tools.StringArg(args, "session_id"))
	if err != nil {
		return tools.ToolResult{}, err
	}
	return jsonResult(sess)
}

func (s *Services) sessionComplete(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	id := tools.StringArg(args, "session_id")
	if err := s.Sessions.Complete(id); err != nil {
		return tools.ToolResult{}, err
	}
	return tools.NewSuccessResult("session " + id + " completed"), nil
}

func (s *Services) sessionFail(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	id := tools.StringArg(args, "session_id")
	cause := tools.StringArg(args, "error")
	if cause == "" {
		cause = "failed via rpc"
	}
	if err := s.Sessions.Fail(id, errs.New(errs.CodeAgentExecution, cause)); err != nil {
		return tools.ToolResult{}, err
	}
	return tools.NewSuccessResult("session " + id + " failed"), nil
}

func (s *Services) memoryAdd(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	if err := s.requireMemory(); err != nil {
		return tools.ToolResult{}, err
	}
	content := tools.StringArg(args, "content")
	if err := tools.ValidateText("content", content); err != nil {
		return tools.ToolResult{}, err
	}

	entry, err := s.Memory.Add(content, tools.StringArg(args, "type"),
		tools.StringArg(args, "agent"), tools.StringSliceArg(args, "tags"))
	if err != nil {
		return tools.ToolResult{}, err
	}
	return jsonResult(entry)
}

func (s *Services) memoryList(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	if err := s.requireMemory(); err != nil {
		return tools.ToolResult{}, err
	}
	entries, err := s.Memory.List(memory.ListOptions{
		Limit:   tools.IntArg(args, "limit"),
		Offset:  tools.IntArg(args, "offset"),
		Type:    tools.StringArg(args, "type"),
		Agent:   tools.StringArg(args, "agent"),
		OrderBy: tools.StringArg(args, "order_by"),
		Order:   tools.StringArg(args, "order"),
	})
	if err != nil {
		return tools.ToolResult{}, err
	}
	return jsonResult(entries)
}

func (s *Services) memoryDelete(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	if err := s.requireMemory(); err != nil {
		return tools.ToolResult{}, err
	}
	id := tools.StringArg(args, "id")
	if err := s.Memory.Delete(id); err != nil {
		return tools.ToolResult{}, err
	}
	return tools.NewSuccessResult("deleted " + id), nil
}

func (s *Services) memoryExport(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	if err := s.requireMemory(); err != nil {
		return tools.ToolResult{}, err
	}
	path := tools.StringArg(args, "path")
	if err := tools.ValidateRelPath("path", path); err != nil {
		return tools.ToolResult{}, err
	}

	count, err := s.Memory.Export(path)
	if err != nil {
		return tools.ToolResult{}, err
	}
	return tools.NewSuccessResult(fmt.Sprintf("exported %d entries to %s", count, path)), nil
}

func (s *Services) memoryImport(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	if err := s.requireMemory(); err != nil {
		return tools.ToolResult{}, err
	}
	path := tools.StringArg(args, "path")
	if err := tools.ValidateRelPath("path", path); err != nil {
		return tools.ToolResult{}, err
	}

	opts := memory.ImportOptions{
		SkipDuplicates: true,
		BatchSize:      tools.IntArg(args, "batch_size"),
		Validate:       tools.BoolArg(args, "validate"),
	}
	if v, ok := args["skip_duplicates"].(bool); ok {
		opts.SkipDuplicates = v
	}

	result, err := s.Memory.Import(path, opts)
	if err != nil {
		return tools.ToolResult{}, err
	}
	return jsonResult(result)
}

func (s *Services) memoryStats(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	if err := s.requireMemory(); err != nil {
		return tools.ToolResult{}, err
	}
	stats, err := s.Memory.Stats()
	if err != nil {
		return tools.ToolResult{}, err
	}
	return jsonResult(stats)
}

func (s *Services) memoryClear(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	if err := s.requireMemory(); err != nil {
		return tools.ToolResult{}, err
	}
	if err := s.Memory.Clear(); err != nil {
		return tools.ToolResult{}, err
	}
	return tools.NewSuccessResult("memory cleared"), nil
}
