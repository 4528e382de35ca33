package voxmesh

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// CommandListState is the lifecycle tag of a command list.
type CommandListState int

const (
	// CommandListInit: ready to be prepared and submitted.
	CommandListInit CommandListState = iota

	// CommandListBusy: submitted to the device, work in flight.
	CommandListBusy

	// CommandListMapping: all passes and copies submitted, waiting for
	// every command's asynchronous completion.
	CommandListMapping

	// CommandListDone: every command has reported completion.
	CommandListDone
)

func (s CommandListState) String() string {
	switch s {
	case CommandListInit:
		return "Init"
	case CommandListBusy:
		return "Busy"
	case CommandListMapping:
		return "Mapping"
	case CommandListDone:
		return "Done"
	}
	return "Unknown"
}

// commandListData is the shared core behind CommandList handles.
//
// Lock order: commandsMu, then stateMu. Always. The state lock is released
// before calling any command's AsyncFinish because the completion callback
// reacquires it, possibly from a device thread.
type commandListData struct {
	id string

	commandsMu sync.Mutex
	commands   []VoxelCommand

	stateMu sync.Mutex
	state   CommandListState
}

// CommandList is a handle to an ordered list of commands the pipeline runs
// on the GPU. Copies of the handle share the same list and state.
type CommandList struct {
	data *commandListData
}

// NewCommandList creates a list in the Init state.
func NewCommandList(commands ...VoxelCommand) CommandList {
	return CommandList{data: &commandListData{
		id:       uuid.NewString(),
		commands: commands,
	}}
}

// Id identifies the list in log output.
func (l CommandList) Id() string {
	return l.data.id
}

// State returns the current lifecycle state.
func (l CommandList) State() CommandListState {
	l.data.stateMu.Lock()
	defer l.data.stateMu.Unlock()
	return l.data.state
}

// Edit grants fn mutable access to the command sequence and returns true.
// It returns false without calling fn unless the list is Init (fresh) or
// Done (results consumed, ready to refill): once a run starts the sequence
// is frozen until it completes.
func (l CommandList) Edit(fn func(commands *[]VoxelCommand)) bool {
	l.data.commandsMu.Lock()
	defer l.data.commandsMu.Unlock()
	l.data.stateMu.Lock()
	state := l.data.state
	l.data.stateMu.Unlock()
	if state != CommandListInit && state != CommandListDone {
		return false
	}
	fn(&l.data.commands)
	return true
}

// Len returns the number of commands in the list.
func (l CommandList) Len() int {
	l.data.commandsMu.Lock()
	defer l.data.commandsMu.Unlock()
	return len(l.data.commands)
}

// RunAgain resets a Done list to Init and returns true so it runs once
// more. It is refused, with no state change, in any other state.
func (l CommandList) RunAgain() bool {
	l.data.stateMu.Lock()
	defer l.data.stateMu.Unlock()
	if l.data.state != CommandListDone {
		return false
	}
	l.data.state = CommandListInit
	return true
}

// finish flips a Busy list to Mapping and fans AsyncFinish out over its
// commands. The thread whose completion decrements the countdown to zero
// performs the Mapping to Done transition; arrival order is unconstrained.
func (d *commandListData) finish(log Logger) {
	d.commandsMu.Lock()
	defer d.commandsMu.Unlock()

	d.stateMu.Lock()
	if d.state != CommandListBusy {
		d.stateMu.Unlock()
		return
	}
	d.state = CommandListMapping

	if len(d.commands) == 0 {
		d.state = CommandListDone
		d.stateMu.Unlock()
		return
	}
	// Release before AsyncFinish; a completion may fire inline and needs
	// the state lock.
	d.stateMu.Unlock()

	var remaining atomic.Int64
	remaining.Store(int64(len(d.commands)))
	done := func(err error) {
		if err != nil {
			log.Errorf("command list %s: async finish: %v", d.id, err)
		}
		if remaining.Add(-1) == 0 {
			d.stateMu.Lock()
			d.state = CommandListDone
			d.stateMu.Unlock()
		}
	}
	for _, command := range d.commands {
		command.AsyncFinish(done)
	}
}
