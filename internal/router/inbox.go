package router

import "strings"

// Delivery is a message forwarded from one service to another.
type Delivery struct {
	From    string
	Message string
}

// Inbox receives deliveries addressed to one service name.
type Inbox struct {
	name string
	ch   chan Delivery
	r    *Router
}

// C returns the delivery channel. It is never closed.
func (i *Inbox) C() <-chan Delivery { return i.ch }

// Close detaches the inbox from the router.
func (i *Inbox) Close() {
	i.r.inboxMu.Lock()
	defer i.r.inboxMu.Unlock()

	set := i.r.inboxes[i.name]
	delete(set, i)
	if len(set) == 0 {
		delete(i.r.inboxes, i.name)
	}
}

// OpenInbox registers an inbox for serviceName with the given buffer size.
func (r *Router) OpenInbox(serviceName string, buffer int) *Inbox {
	if buffer < 1 {
		buffer = 1
	}
	in := &Inbox{name: serviceName, ch: make(chan Delivery, buffer), r: r}

	r.inboxMu.Lock()
	defer r.inboxMu.Unlock()

	set := r.inboxes[serviceName]
	if set == nil {
		set = make(map[*Inbox]struct{})
		r.inboxes[serviceName] = set
	}
	set[in] = struct{}{}
	return in
}

// Deliver forwards message from one service to the inboxes of another. Full
// inboxes drop the delivery. It returns how many inboxes accepted it.
func (r *Router) Deliver(from, to, message string) int {
	if strings.TrimSpace(to) == "" {
		return 0
	}

	r.inboxMu.RLock()
	defer r.inboxMu.RUnlock()

	accepted := 0
	for in := range r.inboxes[to] {
		select {
		case in.ch <- Delivery{From: from, Message: message}:
			accepted++
		default:
		}
	}
	return accepted
}
