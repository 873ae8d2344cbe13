package fileops

import (
	"encoding/json"

	"github.com/shaharia-lab/fsmcp"
)

const (
	ToolListDirectory  = "list_directory"
	ToolReadFile       = "read_file"
	ToolSearchFiles    = "search_files"
	ToolGetFileInfo    = "get_file_info"
	ToolFindLargeFiles = "find_large_files"
	ToolGetDriveInfo   = "get_drive_info"
)

var (
	listDirectorySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Directory to list"},
		"show_hidden": {"type": "boolean", "description": "Include hidden entries", "default": false},
		"recursive": {"type": "boolean", "description": "Descend into subdirectories", "default": false},
		"max_depth": {"type": "integer", "description": "Maximum recursion depth", "minimum": 1, "maximum": 20, "default": 3}
	},
	"required": ["path"]
}`)

	readFileSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "File to read"},
		"encoding": {"type": "string", "description": "Text encoding, e.g. utf-8, ascii, latin-1, windows-1252, utf-16", "default": "utf-8"},
		"max_lines": {"type": "integer", "description": "Return at most this many lines; 0 means all", "minimum": 0, "default": 0}
	},
	"required": ["path"]
}`)

	searchFilesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"pattern": {"type": "string", "minLength": 1, "description": "Case-insensitive glob matched against entry names; plain text matches as a substring"},
		"root_path": {"type": "string", "description": "Directory to search from"},
		"file_types": {"type": "array", "items": {"type": "string"}, "description": "Only files with these extensions, e.g. [\"go\", \".md\"]"},
		"max_results": {"type": "integer", "minimum": 1, "default": 100, "description": "Stop after this many matches"}
	},
	"required": ["pattern", "root_path"]
}`)

	getFileInfoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "File or directory to describe"}
	},
	"required": ["path"]
}`)

	findLargeFilesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"root_path": {"type": "string", "description": "Directory to scan"},
		"min_size_mb": {"type": "number", "minimum": 0, "default": 100, "description": "Minimum file size in MB"},
		"max_results": {"type": "integer", "minimum": 1, "default": 50, "description": "Report at most this many files"}
	},
	"required": ["root_path"]
}`)

	getDriveInfoSchema = json.RawMessage(`{"type": "object", "properties": {}}`)
)

// Tools returns the tool definitions backed by s, ready for a ToolRegistry.
func (s *Service) Tools() []fsmcp.Tool {
	return []fsmcp.Tool{
		{
			Name:        ToolListDirectory,
			Description: "List the entries of a directory with sizes and types, optionally recursing into subdirectories.",
			InputSchema: listDirectorySchema,
			Handler:     s.ListDirectory,
		},
		{
			Name:        ToolReadFile,
			Description: "Read a text file in the given encoding, optionally limited to the first lines.",
			InputSchema: readFileSchema,
			Handler:     s.ReadFile,
		},
		{
			Name:        ToolSearchFiles,
			Description: "Recursively search a directory for entries whose names match a glob pattern.",
			InputSchema: searchFilesSchema,
			Handler:     s.SearchFiles,
		},
		{
			Name:        ToolGetFileInfo,
			Description: "Show size, timestamps, type and permissions of a file or directory.",
			InputSchema: getFileInfoSchema,
			Handler:     s.GetFileInfo,
		},
		{
			Name:        ToolFindLargeFiles,
			Description: "Find the largest files under a directory, largest first.",
			InputSchema: findLargeFilesSchema,
			Handler:     s.FindLargeFiles,
		},
		{
			Name:        ToolGetDriveInfo,
			Description: "Report total, used and free space for every allowed root.",
			InputSchema: getDriveInfoSchema,
			Handler:     s.GetDriveInfo,
		},
	}
}
