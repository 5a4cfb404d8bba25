package session

import "sync"

// ScrapedContext is the process-wide registry of last-known-good scraped
// page state: problem title, description, and the candidate's editor
// content. It is a single slot shared across sessions: the service assumes
// one interview per process, and "the current session" is resolved through
// Store.MostRecentActiveUpstream. It is not a per-session mapping.
type ScrapedContext struct {
	mu            sync.RWMutex
	title         string
	description   string
	editorCode    string
	codeTimestamp string
}

// ScrapedSnapshot is a point-in-time copy of the scraped state.
type ScrapedSnapshot struct {
	Title         string
	Description   string
	EditorCode    string
	CodeTimestamp string
}

// NewScrapedContext creates an empty scraped-context registry.
func NewScrapedContext() *ScrapedContext {
	return &ScrapedContext{}
}

// SetTitle stores the problem title.
func (c *ScrapedContext) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
}

// SetDescription stores the problem description.
func (c *ScrapedContext) SetDescription(description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.description = description
}

// SetEditorCode stores the editor content together with the scrape timestamp
// reported by the extension.
func (c *ScrapedContext) SetEditorCode(code, timestamp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editorCode = code
	c.codeTimestamp = timestamp
}

// Snapshot returns a copy of the current scraped state.
func (c *ScrapedContext) Snapshot() ScrapedSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ScrapedSnapshot{
		Title:         c.title,
		Description:   c.description,
		EditorCode:    c.editorCode,
		CodeTimestamp: c.codeTimestamp,
	}
}
