package host

import "sync"

// MessagePort is one end of a message channel. A message posted on one port
// is delivered to the other port's handler as a port-message macrotask.
type MessagePort struct {
	loop  *Loop
	other *MessagePort

	mu        sync.Mutex
	onMessage func(any)
	closed    bool
}

// NewMessageChannel returns two entangled ports.
func (l *Loop) NewMessageChannel() (*MessagePort, *MessagePort, error) {
	if l.opts.DisableMessageChannel {
		return nil, nil, ErrUnsupported
	}
	a, b := l.newPortPair()
	return a, b, nil
}

func (l *Loop) newPortPair() (*MessagePort, *MessagePort) {
	a := &MessagePort{loop: l}
	b := &MessagePort{loop: l}
	a.other, b.other = b, a
	return a, b
}

// SetOnMessage installs the handler for messages arriving on p.
// Messages delivered while no handler is set are dropped.
func (p *MessagePort) SetOnMessage(fn func(any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = fn
}

// PostMessage queues v for delivery to the other port.
func (p *MessagePort) PostMessage(v any) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPortClosed
	}

	target := p.other
	if !p.loop.push(sourcePort, func() { target.deliver(v) }) {
		return ErrLoopClosed
	}
	return nil
}

func (p *MessagePort) deliver(v any) {
	p.mu.Lock()
	fn := p.onMessage
	closed := p.closed
	p.mu.Unlock()

	if closed || fn == nil {
		return
	}
	fn(v)
}

// Close detaches p. Messages already queued for it are dropped on delivery.
func (p *MessagePort) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.onMessage = nil
}
