// Package command tokenizes query cargo into an action plus arguments and
// dispatches it through a closed, case-insensitive action table. Grounded
// on original_source/src/command.c and command.h.
package command

import (
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"
)

// MaxArguments bounds how many arguments a command retains; overflow is
// discarded with a warning.
const MaxArguments = 5

// Command is a parsed action with its tokenized arguments.
type Command struct {
	Action string
	Args   []string
}

// Handler executes a parsed command against session context ctx.
type Handler func(ctx any, cmd Command)

// Table is an immutable action-name-to-handler map, built once at startup
// (Design Note, "Static global singletons" — dispatch tables become
// immutable maps from action text to function values carrying context).
type Table map[string]Handler

// NewTable builds the closed dispatch table from the given handlers, keyed
// by the canonical uppercase action names.
func NewTable(handlers map[string]Handler) Table {
	t := make(Table, len(handlers))
	for name, h := range handlers {
		t[strings.ToUpper(name)] = h
	}
	return t
}

// Parse tokenizes cargo into an action (a maximal run of [A-Za-z_]) and its
// arguments (brace-quoted or whitespace-terminated), and looks the action
// up in table. ok is false if the action is not in the closed table.
func (t Table) Parse(cargo string) (Command, Handler, bool) {
	pos := 0
	actionStart := pos
	for pos < len(cargo) && isActionChar(cargo[pos]) {
		pos++
	}
	action := cargo[actionStart:pos]

	handler, known := t[strings.ToUpper(action)]
	if !known {
		log.Infof("luk: unknown action: %s. discarding...", action)
		return Command{}, nil, false
	}

	args := parseArguments(cargo[pos:], action)
	return Command{Action: action, Args: args}, handler, true
}

func isActionChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '_'
}

func parseArguments(rest string, action string) []string {
	var args []string
	pos := 0

	for pos < len(rest) {
		c := rest[pos]
		if unicode.IsSpace(rune(c)) {
			pos++
			continue
		}

		var arg string
		if c == '{' {
			pos++
			start := pos
			for pos < len(rest) && rest[pos] != '}' {
				pos++
			}
			arg = rest[start:pos]
			if pos < len(rest) {
				pos++ // consume the closing brace
			} else {
				log.Warnf("luk: brace argument for statement %s was not closed properly", action)
			}
		} else {
			start := pos
			for pos < len(rest) && !unicode.IsSpace(rune(rest[pos])) {
				pos++
			}
			arg = rest[start:pos]
		}

		if len(args) < MaxArguments {
			args = append(args, arg)
		} else {
			log.Warnf("luk: maximum arguments (%d) reached for command: %s. skipping the rest...", MaxArguments, action)
			break
		}
	}

	return args
}
