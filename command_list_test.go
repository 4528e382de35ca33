package voxmesh

import (
	"errors"
	"sync"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCommand records the lifecycle calls and lets the test decide when, and
// in what order, completions arrive.
type fakeCommand struct {
	mu       sync.Mutex
	prepared int
	passes   int
	copies   int
	dones    []DoneFunc
	failWith error
	inline   bool // complete inside AsyncFinish, like commands with no copy
}

func (c *fakeCommand) Prepare(_ *wgpu.Device, _ LayoutLookup) {
	c.mu.Lock()
	c.prepared++
	c.mu.Unlock()
}

func (c *fakeCommand) AddPass(_ *wgpu.CommandEncoder, _ PipelineLookup) {
	c.mu.Lock()
	c.passes++
	c.mu.Unlock()
}

func (c *fakeCommand) AddCopy(_ *wgpu.CommandEncoder) {
	c.mu.Lock()
	c.copies++
	c.mu.Unlock()
}

func (c *fakeCommand) AsyncFinish(done DoneFunc) {
	if c.inline {
		done(c.failWith)
		return
	}
	c.mu.Lock()
	c.dones = append(c.dones, done)
	c.mu.Unlock()
}

// complete fires the captured done callbacks in the given order.
func (c *fakeCommand) complete() {
	c.mu.Lock()
	dones := c.dones
	c.dones = nil
	c.mu.Unlock()
	for _, done := range dones {
		done(c.failWith)
	}
}

func testPipeline() *CommandPipeline {
	return &CommandPipeline{
		log:     NewNopLogger(),
		entries: map[string]layoutAndPipeline{},
	}
}

func TestCommandList_StartsInInit(t *testing.T) {
	list := NewCommandList(&fakeCommand{})
	assert.Equal(t, CommandListInit, list.State())
	assert.Equal(t, 1, list.Len())
	assert.NotEmpty(t, list.Id())
}

func TestCommandList_HandlesShareState(t *testing.T) {
	list := NewCommandList()
	other := list
	require.True(t, other.Edit(func(commands *[]VoxelCommand) {
		*commands = append(*commands, &fakeCommand{})
	}))
	assert.Equal(t, 1, list.Len())
	assert.Equal(t, list.Id(), other.Id())
}

func TestCommandList_FullLifecycle(t *testing.T) {
	p := testPipeline()
	first := &fakeCommand{}
	second := &fakeCommand{}
	list := NewCommandList(first, second)

	p.PrepareCommandLists(list)
	assert.Equal(t, CommandListBusy, list.State())
	assert.Equal(t, 1, first.prepared)
	assert.Equal(t, 1, second.prepared)

	p.EncodeCommandLists(nil)
	assert.Equal(t, 1, first.passes)
	assert.Equal(t, 1, first.copies)
	assert.Equal(t, 1, second.passes)

	p.FinishCommandLists()
	assert.Equal(t, CommandListMapping, list.State())

	// Completions may arrive in any order; the last one flips to Done.
	second.complete()
	assert.Equal(t, CommandListMapping, list.State())
	first.complete()
	assert.Equal(t, CommandListDone, list.State())
}

func TestCommandList_EmptyListCompletesImmediately(t *testing.T) {
	p := testPipeline()
	list := NewCommandList()

	p.PrepareCommandLists(list)
	p.EncodeCommandLists(nil)
	p.FinishCommandLists()
	assert.Equal(t, CommandListDone, list.State())
}

func TestCommandList_InlineCompletion(t *testing.T) {
	p := testPipeline()
	list := NewCommandList(&fakeCommand{inline: true}, &fakeCommand{inline: true})

	p.PrepareCommandLists(list)
	p.EncodeCommandLists(nil)
	p.FinishCommandLists()
	assert.Equal(t, CommandListDone, list.State())
}

func TestCommandList_FailedCommandStillCompletes(t *testing.T) {
	p := testPipeline()
	failing := &fakeCommand{inline: true, failWith: errors.New("map failed")}
	list := NewCommandList(failing, &fakeCommand{inline: true})

	p.PrepareCommandLists(list)
	p.EncodeCommandLists(nil)
	p.FinishCommandLists()
	assert.Equal(t, CommandListDone, list.State())
}

func TestCommandList_EditOnlyWhenIdle(t *testing.T) {
	p := testPipeline()
	cmd := &fakeCommand{}
	list := NewCommandList(cmd)

	edit := func() bool {
		return list.Edit(func(commands *[]VoxelCommand) {
			*commands = append(*commands, &fakeCommand{inline: true})
		})
	}

	require.True(t, edit(), "Init list must accept edits")
	require.Equal(t, 2, list.Len())

	p.PrepareCommandLists(list)
	assert.False(t, edit(), "Busy list must refuse edits")

	p.EncodeCommandLists(nil)
	p.FinishCommandLists()
	require.Equal(t, CommandListMapping, list.State())
	assert.False(t, edit(), "Mapping list must refuse edits")
	assert.Equal(t, 2, list.Len())

	cmd.complete()
	require.Equal(t, CommandListDone, list.State())
	assert.True(t, edit(), "Done list must accept edits")
}

func TestCommandList_RunAgain(t *testing.T) {
	p := testPipeline()
	cmd := &fakeCommand{}
	list := NewCommandList(cmd)

	assert.False(t, list.RunAgain(), "Init list is not rerunnable")

	p.PrepareCommandLists(list)
	assert.False(t, list.RunAgain(), "Busy list is not rerunnable")

	p.EncodeCommandLists(nil)
	p.FinishCommandLists()
	assert.False(t, list.RunAgain(), "Mapping list is not rerunnable")

	cmd.complete()
	require.Equal(t, CommandListDone, list.State())
	require.True(t, list.RunAgain())
	assert.Equal(t, CommandListInit, list.State())

	// Second run prepares the command again.
	p.PrepareCommandLists(list)
	assert.Equal(t, 2, cmd.prepared)
}

func TestCommandList_PrepareSkipsNonInitLists(t *testing.T) {
	p := testPipeline()
	cmd := &fakeCommand{}
	list := NewCommandList(cmd)

	p.PrepareCommandLists(list)
	p.PrepareCommandLists(list)
	assert.Equal(t, 1, cmd.prepared, "Busy list must not be prepared twice")
}

func TestCommandListState_String(t *testing.T) {
	assert.Equal(t, "Init", CommandListInit.String())
	assert.Equal(t, "Busy", CommandListBusy.String())
	assert.Equal(t, "Mapping", CommandListMapping.String())
	assert.Equal(t, "Done", CommandListDone.String())
	assert.Equal(t, "Unknown", CommandListState(42).String())
}
