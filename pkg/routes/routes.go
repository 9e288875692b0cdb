// Package routes loads declarative route tables from YAML and compiles them
// into routers.
//
// A table lists rules in evaluation order. Each rule has a `when` condition
// and one action: an inline reply, a mounted table or a context group.
//
//	name: sms
//	prerequisites:
//	  - channel: telegram
//	rules:
//	  - when: ping
//	    reply: pong
//	  - when: {regex: '^hi (\w+)'}
//	    reply: hello $1
//	  - when: [stop, quit]
//	    mount: unsubscribe.yaml
//	  - when: {regex: '^order (\d+)'}
//	    context:
//	      - when: {regex: 'cancel$'}
//	        reply: order ${ctx.1} cancelled
//	  - ask: true
//
// Conditions use the same grammar as router.ToCondition: booleans, text
// (strings and numbers), lists (any of) and field maps. A map whose only key
// is `regex` is a pattern and a map whose only key is `helper` names a
// registered capability. A rule without `when` always matches; an explicit
// null never does.
package routes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// ReplyField is the message field inline actions write their reply to.
	ReplyField = "reply"

	// AssistantCapability is the capability `ask` actions call.
	AssistantCapability = "assistant"
)

var (
	// ErrNoAssistant is returned when a table uses `ask` but no assistant
	// capability is registered.
	ErrNoAssistant = errors.New("ask requires an assistant capability")

	// ErrMountCycle is returned when mounted table files include each other.
	ErrMountCycle = errors.New("route table mounts itself")
)

// Table is a parsed route table.
type Table struct {
	Name             string      `yaml:"name"`
	DefaultAttribute string      `yaml:"default_attribute"`
	CopyMessage      bool        `yaml:"copy_message"`
	Prerequisites    []yaml.Node `yaml:"prerequisites"`
	Rules            []Rule      `yaml:"rules"`

	// path is the file the table came from; relative mounts resolve against
	// its directory.
	path string
}

// Rule is one declared rule. Mount and Context exclude every other action.
type Rule struct {
	When        yaml.Node         `yaml:"when"`
	Reply       string            `yaml:"reply"`
	Set         Assignments       `yaml:"set"`
	Halt        bool              `yaml:"halt"`
	Fallthrough bool              `yaml:"fallthrough"`
	Ask         bool              `yaml:"ask"`
	Mount       yaml.Node         `yaml:"mount"`
	Context     []Rule            `yaml:"context"`
}

// Assignment is one `set:` entry.
type Assignment struct {
	Field string
	Value string
}

// Assignments are `set:` entries in document order. Later values may read
// earlier ones through ${field}.
type Assignments []Assignment

// UnmarshalYAML keeps the mapping's key order.
func (a *Assignments) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: set must be a mapping", node.Line)
	}

	out := make(Assignments, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var entry Assignment
		if err := node.Content[i].Decode(&entry.Field); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&entry.Value); err != nil {
			return fmt.Errorf("set %q: %w", entry.Field, err)
		}
		out = append(out, entry)
	}

	*a = out
	return nil
}

// Path returns the file the table was loaded from, if any.
func (t *Table) Path() string {
	return t.path
}

// Parse decodes a route table from YAML.
func Parse(data []byte) (*Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}

	return &table, nil
}

// LoadFile reads and parses the route table at path.
func LoadFile(path string) (*Table, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve route table path: %w", err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read route table: %w", err)
	}

	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	table.path = abs

	return table, nil
}
