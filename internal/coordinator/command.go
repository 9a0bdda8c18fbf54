package coordinator

import (
	"context"
	"fmt"
)

type commandKind int

const (
	cmdStartDiscovery commandKind = iota
	cmdEndDiscovery
	cmdUserInfo
	cmdKill
)

type command struct {
	kind     commandKind
	entities int
}

// submit hands cmd to the event loop. It blocks until the loop accepts it,
// ctx is done, or Run has returned.
func (c *Coordinator) submit(ctx context.Context, cmd command) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) apply(cmd command) error {
	switch cmd.kind {
	case cmdStartDiscovery:
		c.startDiscovery()
	case cmdEndDiscovery:
		return c.endDiscovery()
	case cmdUserInfo:
		return c.userInfo(cmd.entities)
	case cmdKill:
		c.kill()
	}
	return nil
}

// StartDiscovery pings for routers.
func (c *Coordinator) StartDiscovery(ctx context.Context) error {
	return c.submit(ctx, command{kind: cmdStartDiscovery})
}

// EndDiscovery closes discovery. With no workers found the coordinator
// pings again instead.
func (c *Coordinator) EndDiscovery(ctx context.Context) error {
	return c.submit(ctx, command{kind: cmdEndDiscovery})
}

// SetEntityCount supplies the number of entities to simulate. Supplied
// before discovery ends it is held until then.
func (c *Coordinator) SetEntityCount(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("coordinator: negative entity count %d", n)
	}
	return c.submit(ctx, command{kind: cmdUserInfo, entities: n})
}

// Kill broadcasts a kill and stops the coordinator.
func (c *Coordinator) Kill(ctx context.Context) error {
	return c.submit(ctx, command{kind: cmdKill})
}
