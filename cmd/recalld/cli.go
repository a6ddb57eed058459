// Package main defines the recalld CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP memory service"`
	MCP     MCPCmd     `cmd:"" name:"mcp" help:"Run the MCP server for AI clients"`
	Version VersionCmd `cmd:"" help:"Show version information"`

	Config string `short:"c" help:"Config file path" type:"path" default:"recall.yaml"`
}

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides config)"`
}

// MCPCmd runs the MCP server.
type MCPCmd struct {
	Transport string `default:"stdio" enum:"stdio,sse" help:"Transport: stdio or sse"`
	Addr      string `default:":8766" help:"Listen address for the sse transport"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
