// Package events defines the orchestrator's typed progress stream and the
// conflict-resolution reply (spec.md §4.6, §6), shared by internal/sendtask,
// internal/receivetask, and internal/orchestrator so none of them need to
// import each other.
package events

import "time"

// Kind discriminates an Event's variant.
type Kind int

const (
	KindPreparing Kind = iota
	KindConnecting
	KindConnected
	KindStarted
	KindProgress
	KindTicketReady
	KindFileList
	KindFileConflicts
	KindQueued
	KindCompleted
	KindFailed
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindPreparing:
		return "Preparing"
	case KindConnecting:
		return "Connecting"
	case KindConnected:
		return "Connected"
	case KindStarted:
		return "Started"
	case KindProgress:
		return "Progress"
	case KindTicketReady:
		return "TicketReady"
	case KindFileList:
		return "FileList"
	case KindFileConflicts:
		return "FileConflicts"
	case KindQueued:
		return "Queued"
	case KindCompleted:
		return "Completed"
	case KindFailed:
		return "Failed"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// FileEntry is one member of a FileList event.
type FileEntry struct {
	Name string
	Size int64
}

// Conflict is one member of a FileConflicts event.
type Conflict struct {
	Name         string
	ExistingPath string
}

// Event is the orchestrator's single progress event type; every variant
// described in spec.md §4.6 is a Kind plus the fields relevant to it.
// Unused fields are left zero-valued.
type Event struct {
	ID   string
	Kind Kind

	Status string // Preparing

	IsRelay bool // Connected

	Name       string // Started
	TotalBytes int64  // Started, Completed

	TransferredBytes int64 // Progress
	SpeedBPS         int64 // Progress

	Ticket string // TicketReady

	Files     []FileEntry // FileList
	Conflicts []Conflict  // FileConflicts

	Position int // Queued

	DurationSecs float64 // Completed

	Err error // Failed
}

func Preparing(id, status string) Event { return Event{ID: id, Kind: KindPreparing, Status: status} }
func Connecting(id string) Event         { return Event{ID: id, Kind: KindConnecting} }
func Connected(id string, isRelay bool) Event {
	return Event{ID: id, Kind: KindConnected, IsRelay: isRelay}
}
func Started(id, name string, totalBytes int64) Event {
	return Event{ID: id, Kind: KindStarted, Name: name, TotalBytes: totalBytes}
}
func Progress(id string, transferred, speed int64) Event {
	return Event{ID: id, Kind: KindProgress, TransferredBytes: transferred, SpeedBPS: speed}
}
func TicketReady(id, ticket string) Event {
	return Event{ID: id, Kind: KindTicketReady, Ticket: ticket}
}
func FileList(id string, files []FileEntry) Event {
	return Event{ID: id, Kind: KindFileList, Files: files}
}
func FileConflicts(id string, conflicts []Conflict, totalBytes int64) Event {
	return Event{ID: id, Kind: KindFileConflicts, Conflicts: conflicts, TotalBytes: totalBytes}
}
func Queued(id string, position int) Event {
	return Event{ID: id, Kind: KindQueued, Position: position}
}
func Completed(id string, totalBytes int64, duration time.Duration) Event {
	return Event{ID: id, Kind: KindCompleted, TotalBytes: totalBytes, DurationSecs: duration.Seconds()}
}
func Failed(id string, err error) Event { return Event{ID: id, Kind: KindFailed, Err: err} }
func Cancelled(id string) Event         { return Event{ID: id, Kind: KindCancelled} }

// Resolution is the UI's reply to a FileConflicts event.
type Resolution int

const (
	ResolveRename Resolution = iota
	ResolveOverwrite
	ResolveSkip
	ResolveCancel
)
