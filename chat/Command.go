/*
File Name:  Command.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Slash-command parsing for the chat input line. Grounded on the teacher's
CLI command table (Commands.go: a name-keyed map of handlers looked up
from one input line) generalized from shell commands to chat commands.
*/

package chat

import (
	"errors"
	"strings"
)

// CommandKind identifies a parsed slash command.
type CommandKind int

const (
	CommandJoin CommandKind = iota
	CommandMessage
	CommandWho
	CommandBlock
	CommandUnblock
	CommandFavorite
)

// Command is a parsed slash command and its arguments.
type Command struct {
	Kind    CommandKind
	Channel string // /j
	Target  string // /msg, /block, /unblock, /fav: nickname or fingerprint
	Text    string // /msg: message body
}

// ErrNotACommand is returned by ParseCommand when the line does not
// begin with '/'.
var ErrNotACommand = errors.New("chat: not a command")

// ErrUnknownCommand is returned for an unrecognized slash command.
var ErrUnknownCommand = errors.New("chat: unknown command")

// ErrMissingArgument is returned when a command is missing a required
// argument.
var ErrMissingArgument = errors.New("chat: missing argument")

// ParseCommand parses a raw input line into a Command. Lines not
// starting with '/' return ErrNotACommand so the caller can treat them
// as plain chat content instead.
func ParseCommand(line string) (Command, error) {
	if !strings.HasPrefix(line, "/") {
		return Command{}, ErrNotACommand
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrUnknownCommand
	}

	switch fields[0] {
	case "/j":
		if len(fields) < 2 {
			return Command{}, ErrMissingArgument
		}
		channel := fields[1]
		if !strings.HasPrefix(channel, "#") {
			channel = "#" + channel
		}
		return Command{Kind: CommandJoin, Channel: channel}, nil

	case "/msg":
		if len(fields) < 3 {
			return Command{}, ErrMissingArgument
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, fields[0]+" "+fields[1]))
		return Command{Kind: CommandMessage, Target: fields[1], Text: text}, nil

	case "/who":
		return Command{Kind: CommandWho}, nil

	case "/block":
		if len(fields) < 2 {
			return Command{}, ErrMissingArgument
		}
		return Command{Kind: CommandBlock, Target: fields[1]}, nil

	case "/unblock":
		if len(fields) < 2 {
			return Command{}, ErrMissingArgument
		}
		return Command{Kind: CommandUnblock, Target: fields[1]}, nil

	case "/fav":
		if len(fields) < 2 {
			return Command{}, ErrMissingArgument
		}
		return Command{Kind: CommandFavorite, Target: fields[1]}, nil

	default:
		return Command{}, ErrUnknownCommand
	}
}
