package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrToolGroupExists  = errors.New("tool group already registered")
	ErrUnknownToolGroup = errors.New("unknown tool group")
)

// ToolGroups maps tool-group identifiers to the name of their active
// tool. Entries live until Destroy is called for the group; destroy hooks
// let other components drop state keyed by the group.
type ToolGroups struct {
	mu        sync.Mutex
	active    map[string]string
	onDestroy []func(groupID string)
}

// NewToolGroups returns an empty registry.
func NewToolGroups() *ToolGroups {
	return &ToolGroups{active: make(map[string]string)}
}

// Register adds a group with no active tool.
func (g *ToolGroups) Register(groupID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[groupID]; ok {
		return fmt.Errorf("%w: %s", ErrToolGroupExists, groupID)
	}
	g.active[groupID] = ""
	return nil
}

// SetActiveTool records tool as the group's active tool.
func (g *ToolGroups) SetActiveTool(groupID, tool string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[groupID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToolGroup, groupID)
	}
	g.active[groupID] = tool
	return nil
}

// ActiveTool returns the group's active tool. ok is false when the group
// is unknown or has no active tool.
func (g *ToolGroups) ActiveTool(groupID string) (tool string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tool = g.active[groupID]
	return tool, tool != ""
}

// Groups lists registered group identifiers in sorted order.
func (g *ToolGroups) Groups() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.active))
	for id := range g.active {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// OnDestroy registers a hook called with the id of each destroyed group.
func (g *ToolGroups) OnDestroy(fn func(groupID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDestroy = append(g.onDestroy, fn)
}

// Destroy removes the group and runs the destroy hooks. Destroying an
// unknown group is a no-op.
func (g *ToolGroups) Destroy(groupID string) {
	g.mu.Lock()
	if _, ok := g.active[groupID]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.active, groupID)
	hooks := slices.Clone(g.onDestroy)
	g.mu.Unlock()

	for _, fn := range hooks {
		fn(groupID)
	}
}

// DestroyAll destroys every group.
func (g *ToolGroups) DestroyAll() {
	for _, id := range g.Groups() {
		g.Destroy(id)
	}
}
