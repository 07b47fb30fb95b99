package core

import "context"

// InsightProvider supplies tool-derived text to add to a prompt. An error
// or an empty string both mean "no insights".
type InsightProvider interface {
	ToolInsights(ctx context.Context, query string) (string, error)
}

// PlaceholderInsights stands in for a Model Context Protocol tool server
// until real tools are connected.
type PlaceholderInsights struct{}

func (PlaceholderInsights) ToolInsights(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "MCP tools ready. In future iterations this will include ClickHouse search results " +
		"and generated analytics for the prompt: " + query, nil
}
