package orchestrator

import "github.com/MrBloodrune/tuit/internal/events"

// Command is the outer application's one-way message into the
// orchestrator (spec.md §6). Exactly one of the typed fields is set,
// matching the command named by Kind.
type Command struct {
	Kind CommandKind

	// Send
	ID             string
	Paths          []string
	FollowSymlinks bool

	// Receive
	Ticket    string
	OutputDir string

	// ResolveConflict
	Resolution events.Resolution
}

// CommandKind enumerates the command variants of spec.md §6.
type CommandKind int

const (
	CmdSend CommandKind = iota
	CmdReceive
	CmdResolveConflict
	CmdCancel
	CmdShutdown
)

// SendCommand builds a Send{id, paths, follow_symlinks} command.
func SendCommand(id string, paths []string, followSymlinks bool) Command {
	return Command{Kind: CmdSend, ID: id, Paths: paths, FollowSymlinks: followSymlinks}
}

// ReceiveCommand builds a Receive{id, ticket, output_dir} command.
func ReceiveCommand(id, ticket, outputDir string) Command {
	return Command{Kind: CmdReceive, ID: id, Ticket: ticket, OutputDir: outputDir}
}

// ResolveConflictCommand builds a ResolveConflict{id, resolution} command.
func ResolveConflictCommand(id string, resolution events.Resolution) Command {
	return Command{Kind: CmdResolveConflict, ID: id, Resolution: resolution}
}

// CancelCommand builds a Cancel{id} command.
func CancelCommand(id string) Command {
	return Command{Kind: CmdCancel, ID: id}
}

// ShutdownCommand builds the Shutdown command.
func ShutdownCommand() Command {
	return Command{Kind: CmdShutdown}
}
