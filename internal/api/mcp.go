package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/linkreach/internal/outreach"
	"github.com/kalambet/linkreach/internal/storage"
)

const statusResourceURI = "linkreach://status"

// profileArgs are the generate_message arguments copied into the profile.
var profileArgs = []string{
	outreach.KeyName,
	outreach.KeyTitle,
	outreach.KeyCompany,
	outreach.KeySchool,
	outreach.KeyIndustry,
	outreach.KeyYourRole,
}

// NewMCPServer creates an MCP server exposing message drafting, the
// connection log and collected profiles to MCP clients.
func NewMCPServer(deps Deps) *server.MCPServer {
	deps.setDefaults()

	s := server.NewMCPServer(
		"linkreach",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("linkreach drafts LinkedIn connection notes and tracks sent connection requests."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_message",
			mcp.WithDescription("Draft a short LinkedIn connection note for a profile. Pass profile_url to use a collected profile; other fields override or replace it."),
			mcp.WithString("profile_url", mcp.Description("URL of a previously collected profile")),
			mcp.WithString(outreach.KeyName, mcp.Description("Recipient's name")),
			mcp.WithString(outreach.KeyTitle, mcp.Description("Recipient's job title")),
			mcp.WithString(outreach.KeyCompany, mcp.Description("Recipient's company")),
			mcp.WithString(outreach.KeySchool, mcp.Description("Recipient's school; marks them as alumni")),
			mcp.WithString(outreach.KeyIndustry, mcp.Description("Industry")),
			mcp.WithString(outreach.KeyYourRole, mcp.Description("Your own role, e.g. software engineering student")),
		),
		mcpGenerateMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("record_connection",
			mcp.WithDescription("Log a sent connection request. Fails when the hourly connection limit is reached."),
			mcp.WithString("profile_url", mcp.Description("LinkedIn profile URL"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The note that was sent")),
		),
		mcpRecordConnection(deps),
	)

	s.AddTool(
		mcp.NewTool("list_profiles",
			mcp.WithDescription("List collected profiles as JSON."),
			mcp.WithString("status", mcp.Description("Only profiles with this status, e.g. connected")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of profiles (default 20)")),
		),
		mcpListProfiles(deps),
	)

	s.AddResource(
		mcp.NewResource(
			statusResourceURI,
			"Outreach Status",
			mcp.WithResourceDescription("Profile and connection counts and the remaining hourly budget"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpGenerateMessage(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p := outreach.Profile{}

		if url := req.GetString("profile_url", ""); url != "" {
			stored, err := deps.Store.GetProfile(url)
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("profile %s not found", url)), nil
			}
			if err != nil {
				return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
			}
			for k, v := range stored.Data {
				p[k] = v
			}
		}
		for _, key := range profileArgs {
			if v := req.GetString(key, ""); v != "" {
				p[key] = v
			}
		}

		msg, err := safeGenerate(ctx, deps.Generator, p)
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		return mcpText(msg), nil
	}
}

func mcpRecordConnection(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("profile_url")
		if err != nil || url == "" {
			return mcpError("profile_url is required"), nil
		}

		c := storage.Connection{ProfileURL: url}
		if msg := req.GetString("message", ""); msg != "" {
			c.MessageUsed = &msg
		}

		_, dec, err := recordConnection(ctx, deps, c)
		if errors.Is(err, ErrRateLimited) {
			return mcpError(fmt.Sprintf("Maximum of %d connections per hour allowed; retry in %s",
				deps.Window.Limit(), dec.RetryAfter.Round(time.Second))), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record connection: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Recorded connection to %s (%d remaining this hour)", url, dec.Remaining)), nil
	}
}

func mcpListProfiles(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > maxBatchSize {
			limit = maxBatchSize
		}

		profiles, err := deps.Store.ListProfiles(req.GetString("status", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list profiles: %v", err)), nil
		}
		if len(profiles) > limit {
			profiles = profiles[:limit]
		}

		b, err := json.Marshal(profileDocs(profiles))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profiles: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStatus(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := collectStatus(ctx, deps)
		if err != nil {
			return nil, err
		}

		b, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
