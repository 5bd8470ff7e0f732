package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sbp-dev/blackboard/internal/blackboard"
)

// CoreOps is the subset of *blackboard.Engine the dispatcher calls
// through. Declared as an interface so handlers can be exercised
// against a fake in tests without a real engine.
type CoreOps interface {
	Emit(ctx context.Context, p blackboard.EmitParams) (blackboard.EmitResult, error)
	Sniff(ctx context.Context, p blackboard.SniffParams) (blackboard.SniffResult, error)
	RegisterScent(ctx context.Context, p blackboard.RegisterScentParams) (blackboard.RegisterScentResult, error)
	DeregisterScent(ctx context.Context, scentID string) (blackboard.DeregisterScentResult, error)
	Evaporate(ctx context.Context, p blackboard.EvaporateParams) (blackboard.EvaporateResult, error)
	Inspect(ctx context.Context, p blackboard.InspectParams) (blackboard.InspectResult, error)
	DiagnosePheromone(ctx context.Context, id string) (blackboard.DiagnosePheromoneResult, error)
}

// SessionOps binds/unbinds a scent to the calling session; the
// transport layer implements this since sessions and SSE subscriber
// routing are its concern, not the core's.
type SessionOps interface {
	Subscribe(sessionID, scentID string) error
	Unsubscribe(sessionID, scentID string) error
}

// Dispatcher routes a validated JSON-RPC request to a core operation
// and shapes the result (or error) back into a Response.
type Dispatcher struct {
	core     CoreOps
	sessions SessionOps
}

// NewDispatcher constructs a Dispatcher over core and sessions.
func NewDispatcher(core CoreOps, sessions SessionOps) *Dispatcher {
	return &Dispatcher{core: core, sessions: sessions}
}

// Handle dispatches req, returning the Response to write back (for a
// request) — callers MUST NOT write a response for a notification
// (req.IsNotification()); invoke Handle anyway since notifications
// still produce engine side effects, and simply discard the result.
func (d *Dispatcher) Handle(ctx context.Context, sessionID string, req *Request) Response {
	if verr := req.Validate(); verr != nil {
		return ErrorResponse(req.ID, verr)
	}

	result, rerr := d.invoke(ctx, sessionID, req.Method, req.Params)
	if rerr != nil {
		return ErrorResponse(req.ID, rerr)
	}
	return SuccessResponse(req.ID, result)
}

func (d *Dispatcher) invoke(ctx context.Context, sessionID, method string, params json.RawMessage) (interface{}, *Error) {
	switch method {
	case MethodEmit:
		var p blackboard.EmitParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		res, e := d.core.Emit(ctx, p)
		return res, translateError(e)

	case MethodSniff:
		var p blackboard.SniffParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		res, e := d.core.Sniff(ctx, p)
		return res, translateError(e)

	case MethodRegisterScent:
		var p blackboard.RegisterScentParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		res, e := d.core.RegisterScent(ctx, p)
		return res, translateError(e)

	case MethodDeregisterScent:
		var p struct {
			ScentID string `json:"scent_id"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		res, e := d.core.DeregisterScent(ctx, p.ScentID)
		return res, translateError(e)

	case MethodEvaporate:
		var p blackboard.EvaporateParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		res, e := d.core.Evaporate(ctx, p)
		return res, translateError(e)

	case MethodInspect:
		var p blackboard.InspectParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		res, e := d.core.Inspect(ctx, p)
		return res, translateError(e)

	case MethodDiagnosePheromone:
		var p struct {
			ID string `json:"id"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		res, e := d.core.DiagnosePheromone(ctx, p.ID)
		return res, translateError(e)

	case MethodSubscribe:
		var p struct {
			ScentID string `json:"scent_id"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if d.sessions == nil {
			return nil, NewError(CodeInternal, "subscriptions are not supported on this transport", nil)
		}
		if err := d.sessions.Subscribe(sessionID, p.ScentID); err != nil {
			return nil, NewError(CodeInternal, err.Error(), nil)
		}
		return map[string]string{"status": "subscribed", "scent_id": p.ScentID}, nil

	case MethodUnsubscribe:
		var p struct {
			ScentID string `json:"scent_id"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if d.sessions == nil {
			return nil, NewError(CodeInternal, "subscriptions are not supported on this transport", nil)
		}
		if err := d.sessions.Unsubscribe(sessionID, p.ScentID); err != nil {
			return nil, NewError(CodeInternal, err.Error(), nil)
		}
		return map[string]string{"status": "unsubscribed", "scent_id": p.ScentID}, nil

	default:
		return nil, NewError(CodeMethodNotFound, fmt.Sprintf("unknown method %q", method), nil)
	}
}

func unmarshalParams(params json.RawMessage, dst interface{}) *Error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return NewError(CodeInvalidParams, fmt.Sprintf("invalid params: %v", err), nil)
	}
	return nil
}

// translateError maps a core-layer error to a JSON-RPC error,
// choosing a specific code when the error is a recognized sentinel
// and falling back to -32603 for anything unexpected — stack details
// never leak to the client.
func translateError(err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, blackboard.ErrInvalidCondition):
		return NewError(CodeInvalidCondition, err.Error(), nil)
	case errors.Is(err, blackboard.ErrInvalidPayload), errors.Is(err, blackboard.ErrReservedTrail):
		return NewError(CodePayloadValidation, err.Error(), nil)
	case errors.Is(err, blackboard.ErrPheromoneNotFound):
		return NewError(CodeTrailNotFound, err.Error(), nil)
	default:
		return NewError(CodeInternal, "internal error", nil)
	}
}
