package fsmcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type registeredTool struct {
	Tool
	schema *gojsonschema.Schema
}

// ToolRegistry maps tool names to handlers. tools/list and tools/call read
// the same map, so every listed tool is dispatchable and vice versa.
type ToolRegistry struct {
	logger Logger

	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewToolRegistry creates an empty registry. A nil logger discards output.
func NewToolRegistry(logger Logger) *ToolRegistry {
	if logger == nil {
		logger = NewNullLogger()
	}
	return &ToolRegistry{
		logger: logger,
		tools:  make(map[string]registeredTool),
	}
}

// Register adds each tool that passes validation. Invalid or duplicate tools
// are logged and skipped; the returned error joins every rejection.
func (r *ToolRegistry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, tool := range tools {
		if _, exists := r.tools[tool.Name]; exists {
			err := fmt.Errorf("duplicate tool: %s", tool.Name)
			r.logger.WithFields(map[string]interface{}{"tool": tool.Name}).WithErr(err).Error("Tool registration rejected")
			errs = append(errs, err)
			continue
		}

		schema, err := validateTool(tool)
		if err != nil {
			err = fmt.Errorf("invalid tool %q: %w", tool.Name, err)
			r.logger.WithFields(map[string]interface{}{"tool": tool.Name}).WithErr(err).Error("Tool registration rejected")
			errs = append(errs, err)
			continue
		}

		r.tools[tool.Name] = registeredTool{Tool: tool, schema: schema}
		r.logger.WithFields(map[string]interface{}{"tool": tool.Name}).Debug("Tool registered")
	}

	return errors.Join(errs...)
}

// List returns the registered definitions sorted by name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t.Tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Names returns the sorted tool names.
func (r *ToolRegistry) Names() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func (r *ToolRegistry) lookup(name string) (registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func validateTool(tool Tool) (*gojsonschema.Schema, error) {
	if tool.Name == "" {
		return nil, fmt.Errorf("tool name cannot be empty")
	}

	if tool.Description == "" {
		return nil, fmt.Errorf("tool description cannot be empty")
	}

	if len(bytes.TrimSpace(tool.InputSchema)) == 0 {
		return nil, fmt.Errorf("tool input schema cannot be empty")
	}

	var schemaDoc map[string]interface{}
	if err := json.Unmarshal(tool.InputSchema, &schemaDoc); err != nil {
		return nil, fmt.Errorf("input schema must be a JSON object: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.InputSchema))
	if err != nil {
		return nil, fmt.Errorf("invalid input schema: %w", err)
	}

	if tool.Handler == nil {
		return nil, fmt.Errorf("tool handler cannot be nil")
	}

	return schema, nil
}

// validateArguments checks args against the tool's schema and returns the
// violations, if any.
func (t registeredTool) validateArguments(args json.RawMessage) ([]string, error) {
	result, err := t.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return msgs, nil
}
