package roadhazard

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned when getting a net from a closed pool
var ErrPoolClosed = errors.New("pool is closed")

// Pool is a simple pool of the same Model loaded multiple times so frames
// from several streams can be inferenced in parallel
type Pool struct {
	// pool of nets
	nets chan *Net
	// size of pool
	size int
	// mu guards closed so a net handed back after Close is released instead
	// of sent on the closed channel
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new pool of size instances of the model file
func NewPool(size int, modelFile string, device Device) (*Pool, error) {

	if size < 1 {
		size = 1
	}

	p := &Pool{
		nets: make(chan *Net, size),
		size: size,
	}

	for i := 0; i < size; i++ {
		net, err := NewNet(modelFile, device)

		if err != nil {
			// close any instances that may have been created before receiving
			// the error
			p.Close()
			return nil, err
		}

		p.Return(net)
	}

	return p, nil
}

// Get a net from the pool, blocking until one is free or ctx is done
func (p *Pool) Get(ctx context.Context) (*Net, error) {

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case net, ok := <-p.nets:
		if !ok {
			return nil, ErrPoolClosed
		}
		return net, nil
	}
}

// Return a net to the pool
func (p *Pool) Return(net *Net) {

	if net == nil {
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		_ = net.Close()
		return
	}

	select {
	case p.nets <- net:
	default:
		// pool is full
		_ = net.Close()
	}
}

// Size returns the number of nets held by the pool
func (p *Pool) Size() int {
	return p.size
}

// Close the pool and all idle nets in it, nets currently checked out are
// closed when returned
func (p *Pool) Close() {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.nets)

	for next := range p.nets {
		_ = next.Close()
	}
}
