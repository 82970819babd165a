// Package prompt implements the Prompt Assembler: composes a model-ready
// system prompt from an agent's identity and soul files, its own
// instructions, its active goals, the current time, and the tool schema
// available to it, in a fixed priority order, joining sections and
// measuring the result. Identity and soul file reads are cached with a
// 60-second TTL. The tool-schema section is rendered from the already-built
// tools package rather than duplicating its types.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conclave-run/conclave/internal/tools"
)

const sectionSeparator = "\n\n---\n\n"

// FileTTL is how long a cached identity/soul file read is reused before
// the file is read again.
const FileTTL = 60 * time.Second

// section priorities, highest rendered first.
const (
	priorityIdentity = 100
	prioritySoul     = 90
	priorityAgent    = 80
	priorityGoals    = 70
	priorityTime     = 60
	priorityTools    = 50
)

// Agent is the subset of agent configuration the assembler needs. It is
// intentionally narrow so callers don't have to depend on pkg/models just
// to assemble a prompt.
type Agent struct {
	ID               string
	IdentityFilePath string
	SoulFilePath     string
	Instructions     string
}

// Goal is one active goal rendered into the goals section.
type Goal struct {
	Description string
}

// Flags controls which dynamic sections are considered for caching and
// inclusion.
type Flags struct {
	IncludeTools bool
	IncludeGoals bool
	Override     string
}

// Result is the assembler's return value.
type Result struct {
	Prompt       string
	SectionNames []string
	CharCount    int
	Cached       bool
}

// FileReader abstracts identity/soul file access so tests can supply an
// in-memory filesystem without touching disk.
type FileReader interface {
	ReadFile(path string) (string, error)
}

type fileCacheEntry struct {
	content string
	readAt  time.Time
}

type assemblyCacheKey struct {
	agentID      string
	includeTools bool
	includeGoals bool
}

// Assembler builds system prompts for agents, caching file reads and,
// where safe, whole assemblies.
type Assembler struct {
	reader FileReader

	mu        sync.Mutex
	files     map[string]fileCacheEntry
	assembled map[assemblyCacheKey]Result

	now func() time.Time
}

// New returns an Assembler that reads identity/soul files through reader.
func New(reader FileReader) *Assembler {
	return &Assembler{
		reader:    reader,
		files:     make(map[string]fileCacheEntry),
		assembled: make(map[assemblyCacheKey]Result),
		now:       time.Now,
	}
}

// Assemble builds the system prompt for an agent. tools may be
// nil when include_tools is false; goals may be nil when include_goals is
// false.
func (a *Assembler) Assemble(agent Agent, toolDefs []tools.Definition, goals []Goal, flags Flags) Result {
	if flags.Override != "" {
		return Result{
			Prompt:       flags.Override,
			SectionNames: []string{"override"},
			CharCount:    len([]rune(flags.Override)),
		}
	}

	dynamic := flags.IncludeTools || flags.IncludeGoals
	key := assemblyCacheKey{agentID: agent.ID, includeTools: flags.IncludeTools, includeGoals: flags.IncludeGoals}
	if !dynamic {
		if cached, ok := a.lookupAssembly(key); ok {
			cached.Cached = true
			return cached
		}
	}

	type namedSection struct {
		name     string
		priority int
		body     string
	}
	var sections []namedSection

	if identity := a.readCached(agent.IdentityFilePath); identity != "" {
		sections = append(sections, namedSection{"identity", priorityIdentity, identity})
	}
	if soul := a.readCached(agent.SoulFilePath); soul != "" {
		sections = append(sections, namedSection{"soul", prioritySoul, soul})
	}
	if strings.TrimSpace(agent.Instructions) != "" {
		sections = append(sections, namedSection{"agent_instructions", priorityAgent, agent.Instructions})
	}
	if flags.IncludeGoals && len(goals) > 0 {
		sections = append(sections, namedSection{"goals", priorityGoals, renderGoals(goals)})
	}
	sections = append(sections, namedSection{"time_context", priorityTime, renderTimeContext(a.now())})
	if flags.IncludeTools && len(toolDefs) > 0 {
		sections = append(sections, namedSection{"tools", priorityTools, renderTools(toolDefs)})
	}

	sort.SliceStable(sections, func(i, j int) bool { return sections[i].priority > sections[j].priority })

	names := make([]string, 0, len(sections))
	bodies := make([]string, 0, len(sections))
	for _, s := range sections {
		names = append(names, s.name)
		bodies = append(bodies, s.body)
	}

	result := Result{
		Prompt:       strings.Join(bodies, sectionSeparator),
		SectionNames: names,
	}
	result.CharCount = len([]rune(result.Prompt))

	if !dynamic {
		a.storeAssembly(key, result)
	}
	return result
}

func (a *Assembler) lookupAssembly(key assemblyCacheKey) (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.assembled[key]
	return r, ok
}

func (a *Assembler) storeAssembly(key assemblyCacheKey, r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assembled[key] = r
}

// readCached returns a file's contents, re-reading it once FileTTL has
// elapsed since the last read. An empty path or a read error yields "",
// which the caller treats as "section absent" rather than failing the
// whole assembly.
func (a *Assembler) readCached(path string) string {
	if path == "" || a.reader == nil {
		return ""
	}

	a.mu.Lock()
	entry, ok := a.files[path]
	a.mu.Unlock()
	if ok && a.now().Sub(entry.readAt) < FileTTL {
		return entry.content
	}

	content, err := a.reader.ReadFile(path)
	if err != nil {
		return ""
	}

	a.mu.Lock()
	a.files[path] = fileCacheEntry{content: content, readAt: a.now()}
	a.mu.Unlock()
	return content
}

// InvalidateAssemblies drops every cached full assembly, forcing the next
// Assemble call for any agent to recompute. Used when an agent's static
// config (instructions) changes.
func (a *Assembler) InvalidateAssemblies() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assembled = make(map[assemblyCacheKey]Result)
}

func renderGoals(goals []Goal) string {
	var b strings.Builder
	b.WriteString("Active goals:\n")
	for i, g := range goals {
		fmt.Fprintf(&b, "%d. %s\n", i+1, g.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTimeContext(t time.Time) string {
	return fmt.Sprintf(
		"Current time: %s, %s, %s (%s)",
		t.Weekday(), t.Format("2006-01-02"), t.Format("15:04:05"), t.Location(),
	)
}
