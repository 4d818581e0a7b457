package bus

import (
	"errors"

	"netcluster/internal/future"
	"netcluster/internal/metrics"

	"go.uber.org/zap"
)

// receive is the transport handler for both service-messages topics.
func (b *Bus) receive(topic string, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		b.metrics.Inc(metrics.BusEnvelopesIgnoredTotal)
		b.logger.Warn("dropping malformed envelope", zap.String("topic", topic), zap.Error(err))
		return
	}
	b.dispatch(env)
}

// dispatch routes one envelope:
//  1. envelopes addressed to another node are ignored;
//  2. a pending unicast request with this correlation id is resolved, unless
//     the envelope is that request looping back to its own sender;
//  3. broadcast envelopes go straight to the handlers, since responses are
//     always addressed back to the requester;
//  4. a pending broadcast request with this correlation id collects it;
//  5. otherwise a request handler, then a message handler, is tried.
//
// Matching runs on the receive goroutine; handlers do not.
func (b *Bus) dispatch(env Envelope) {
	target := env.Target()
	if !target.IsBroadcast() && target.ID() != b.id {
		b.metrics.Inc(metrics.BusEnvelopesIgnoredTotal)
		return
	}

	if v, ok := b.pending.Load(env.CorrelationID); ok {
		p := v.(*pendingRequest)
		if env.SenderID == b.id && p.loopback.CompareAndSwap(true, false) {
			b.handle(env)
			return
		}
		if _, ok := b.pending.LoadAndDelete(env.CorrelationID); ok {
			b.resolve(p.result, env)
			return
		}
	}

	if !target.IsBroadcast() {
		if c, ok := b.broadcasts.Load(env.CorrelationID); ok {
			b.collect(c.(*collector), env)
			return
		}
	}

	b.handle(env)
}

func (b *Bus) resolve(f *future.Future[Payload], env Envelope) {
	resp, err := b.registry.Decode(env.PayloadType, env.PayloadJSON)
	if err != nil {
		b.reject(env, err)
		f.Fail(err)
		return
	}
	b.metrics.Inc(metrics.BusResponsesReceivedTotal)
	f.Complete(resp)
}

func (b *Bus) collect(c *collector, env Envelope) {
	resp, err := b.registry.Decode(env.PayloadType, env.PayloadJSON)
	if err != nil {
		b.reject(env, err)
		return
	}
	if !c.add(resp) {
		b.metrics.Inc(metrics.BusLateResponsesTotal)
		return
	}
	b.metrics.Inc(metrics.BusResponsesReceivedTotal)
}

func (b *Bus) handle(env Envelope) {
	if h, ok := b.requestHandlers.Load(env.PayloadType); ok {
		req, err := b.registry.Decode(env.PayloadType, env.PayloadJSON)
		if err != nil {
			b.reject(env, err)
			return
		}
		b.metrics.Inc(metrics.BusEnvelopesDispatchedTotal)
		go b.serve(h.(RequestHandler), req, env)
		return
	}

	if h, ok := b.messageHandlers.Load(env.PayloadType); ok {
		msg, err := b.registry.Decode(env.PayloadType, env.PayloadJSON)
		if err != nil {
			b.reject(env, err)
			return
		}
		b.metrics.Inc(metrics.BusEnvelopesDispatchedTotal)
		go b.invokeMessage(h.(MessageHandler), msg, env)
		return
	}

	// Also where late responses to already-resolved requests end up.
	b.metrics.Inc(metrics.BusEnvelopesIgnoredTotal)
	b.logger.Debug("no handler for envelope",
		zap.String("payload_type", env.PayloadType),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("sender", env.SenderID),
	)
}

// serve runs a request handler and answers with its result, if any.
func (b *Bus) serve(h RequestHandler, req Payload, env Envelope) {
	if resp := b.invokeRequest(h, req, env); resp != nil {
		b.reply(env, resp)
	}
}

// reply publishes resp back to the requester under the request's
// correlation id.
func (b *Bus) reply(req Envelope, resp Payload) {
	if err := b.registry.Register(resp); err != nil {
		b.logger.Error("cannot send response", zap.String("payload_type", resp.PayloadType()), zap.Error(err))
		return
	}
	to := Unicast(req.SenderID)
	if !to.Valid() {
		b.logger.Warn("request has no valid sender, response dropped", zap.String("correlation_id", req.CorrelationID))
		return
	}
	env, err := newEnvelope(req.CorrelationID, b.id, to, resp)
	if err != nil {
		b.logger.Error("cannot encode response", zap.Error(err))
		return
	}
	b.metrics.Inc(metrics.BusResponsesSentTotal)
	b.publish(to, env)
}

func (b *Bus) invokeRequest(h RequestHandler, req Payload, env Envelope) (resp Payload) {
	defer b.recoverHandler(env)
	return h(req)
}

func (b *Bus) invokeMessage(h MessageHandler, msg Payload, env Envelope) {
	defer b.recoverHandler(env)
	h(msg)
}

func (b *Bus) recoverHandler(env Envelope) {
	if r := recover(); r != nil {
		b.metrics.Inc(metrics.BusHandlerPanicsTotal)
		b.logger.Error("panic recovered in bus handler",
			zap.String("payload_type", env.PayloadType),
			zap.String("sender", env.SenderID),
			zap.Any("panic", r),
		)
	}
}

// reject records an envelope whose payload could not be decoded. Every path
// reports it the same way; only a waiting unicast caller additionally sees
// the error through its future.
func (b *Bus) reject(env Envelope, err error) {
	if errors.Is(err, ErrUnregisteredType) {
		b.metrics.Inc(metrics.BusUnregisteredTotal)
	}
	b.logger.Warn("rejected envelope payload",
		zap.String("payload_type", env.PayloadType),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("sender", env.SenderID),
		zap.Error(err),
	)
}
