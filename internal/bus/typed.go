package bus

import (
	"errors"
	"fmt"

	"netcluster/internal/future"
)

// ErrUnexpectedPayload is returned by the typed helpers when a response
// decodes to a different type than the caller asked for.
var ErrUnexpectedPayload = errors.New("unexpected payload type")

// Request is SendRequest with a typed response. R must be a struct value
// type implementing Payload.
func Request[R Payload](b *Bus, to Address, req Payload) *future.Future[R] {
	var zero R
	return future.Map(b.SendRequest(to, req, zero), func(p Payload) (R, error) {
		r, ok := p.(R)
		if !ok {
			return zero, fmt.Errorf("%w: want %s, got %T", ErrUnexpectedPayload, zero.PayloadType(), p)
		}
		return r, nil
	})
}

// GlobalRequest is SendGlobalRequest with typed responses. Responses of any
// other type are dropped.
func GlobalRequest[R Payload](b *Bus, req Payload) *future.Future[[]R] {
	var zero R
	return future.Map(b.SendGlobalRequest(req, zero), func(ps []Payload) ([]R, error) {
		out := make([]R, 0, len(ps))
		for _, p := range ps {
			if r, ok := p.(R); ok {
				out = append(out, r)
			}
		}
		return out, nil
	})
}

// Handle registers a typed request handler.
func Handle[Req Payload](b *Bus, fn func(Req) Payload) error {
	var zero Req
	return b.RegisterHandler(zero, func(p Payload) Payload {
		req, ok := p.(Req)
		if !ok {
			return nil
		}
		return fn(req)
	})
}

// OnMessage registers a typed message handler.
func OnMessage[M Payload](b *Bus, fn func(M)) error {
	var zero M
	return b.RegisterMessageHandler(zero, func(p Payload) {
		if msg, ok := p.(M); ok {
			fn(msg)
		}
	})
}
