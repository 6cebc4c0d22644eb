package ipcserver

import (
	"context"
	"time"

	"github.com/kiebor81/mudis"
)

// request is one line of the wire protocol (§6). Fields not used by a
// given cmd are simply omitted by the client.
type request struct {
	Cmd       string `json:"cmd"`
	Key       string `json:"key,omitempty"`
	Value     any    `json:"value,omitempty"`
	TTL       *int64 `json:"ttl,omitempty"` // seconds
	Namespace string `json:"namespace,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Fallback  any    `json:"fallback,omitempty"`
}

// response is one line of the wire protocol's reply.
type response struct {
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

func errResp(err error) response { return response{OK: false, Error: err.Error()} }

func (req request) options() []mudis.Option {
	var opts []mudis.Option
	if req.Namespace != "" {
		opts = append(opts, mudis.InNamespace(req.Namespace))
	}
	if req.TTL != nil {
		opts = append(opts, mudis.WithTTL(time.Duration(*req.TTL)*time.Second))
	}
	return opts
}

// dispatch runs one request against the Server's Cache and produces the
// response line. Unknown commands are a protocol error, not a panic.
func (s *Server) dispatch(ctx context.Context, req request) response {
	switch req.Cmd {
	case "read":
		val, ok, err := s.cache.Read(ctx, req.Key, req.options()...)
		if err != nil {
			return errResp(err)
		}
		if !ok {
			return response{OK: true, Value: nil}
		}
		return response{OK: true, Value: val}

	case "write":
		if err := s.cache.Write(ctx, req.Key, req.Value, req.options()...); err != nil {
			return errResp(err)
		}
		return response{OK: true}

	case "delete":
		if err := s.cache.Delete(ctx, req.Key, req.options()...); err != nil {
			return errResp(err)
		}
		return response{OK: true}

	case "exists":
		ok, err := s.cache.Exists(ctx, req.Key, req.options()...)
		if err != nil {
			return errResp(err)
		}
		return response{OK: true, Value: ok}

	case "fetch":
		val, err := s.cache.Fetch(ctx, req.Key, func(context.Context) (any, error) {
			return req.Fallback, nil
		}, req.options()...)
		if err != nil {
			return errResp(err)
		}
		return response{OK: true, Value: val}

	case "inspect":
		res, ok, err := s.cache.Inspect(ctx, req.Key, req.options()...)
		if err != nil {
			return errResp(err)
		}
		if !ok {
			return response{OK: true, Value: nil}
		}
		return response{OK: true, Value: res}

	case "keys":
		keys, err := s.cache.Keys(req.Namespace)
		if err != nil {
			return errResp(err)
		}
		return response{OK: true, Value: keys}

	case "clear_namespace":
		if err := s.cache.ClearNamespace(req.Namespace); err != nil {
			return errResp(err)
		}
		return response{OK: true}

	case "least_touched":
		return response{OK: true, Value: s.cache.LeastTouched(req.Limit)}

	case "all_keys":
		return response{OK: true, Value: s.cache.AllKeys()}

	case "current_memory_bytes":
		return response{OK: true, Value: s.cache.CurrentMemoryBytes()}

	case "max_memory_bytes":
		return response{OK: true, Value: s.cache.MaxMemoryBytes()}

	case "metrics":
		if req.Namespace != "" {
			counters, ok := s.cache.NamespaceMetrics(req.Namespace)
			if !ok {
				return response{OK: false, Error: "unknown namespace"}
			}
			return response{OK: true, Value: counters}
		}
		return response{OK: true, Value: s.cache.Metrics()}

	default:
		return response{OK: false, Error: "unknown command: " + req.Cmd}
	}
}
