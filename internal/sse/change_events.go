package sse

import (
	"context"
	"sync"

	"ms-tourbooking/internal/models"
)

// ChangeEmitter fans row change events out to SSE clients subscribed to a
// table.
type ChangeEmitter struct {
	clients     map[string][]chan models.ChangeEvent
	clientMutex sync.RWMutex
}

func NewChangeEmitter() *ChangeEmitter {
	return &ChangeEmitter{
		clients: make(map[string][]chan models.ChangeEvent),
	}
}

// Subscribe registers a client for a table's changes. The channel is closed
// once ctx is done.
func (e *ChangeEmitter) Subscribe(ctx context.Context, table string) <-chan models.ChangeEvent {
	clientChan := make(chan models.ChangeEvent, 10)

	e.clientMutex.Lock()
	e.clients[table] = append(e.clients[table], clientChan)
	e.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(table, clientChan)
	}()

	return clientChan
}

// Emit broadcasts an event to the table's subscribers. Slow clients miss
// events rather than stall the feed.
func (e *ChangeEmitter) Emit(event models.ChangeEvent) {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()

	for _, clientChan := range e.clients[event.Table] {
		select {
		case clientChan <- event:
		default:
		}
	}
}

// PublishChange lets the emitter stand in for the Kafka producer when the
// feed is local.
func (e *ChangeEmitter) PublishChange(ctx context.Context, event models.ChangeEvent) error {
	e.Emit(event)
	return nil
}

func (e *ChangeEmitter) removeClient(table string, clientChan chan models.ChangeEvent) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	clients := e.clients[table]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[table] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.clients[table]) == 0 {
		delete(e.clients, table)
	}
}

func (e *ChangeEmitter) ClientCount(table string) int {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return len(e.clients[table])
}
