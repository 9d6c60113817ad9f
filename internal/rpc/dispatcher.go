package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BlueBrain/veeone-veedrive/internal/content"
	"github.com/BlueBrain/veeone-veedrive/internal/logging"
	"github.com/BlueBrain/veeone-veedrive/internal/metrics"
	"github.com/BlueBrain/veeone-veedrive/internal/sandbox"
	"github.com/BlueBrain/veeone-veedrive/internal/search"
)

// requiredParams lists, per method, the parameter keys that must be present
// before the handler runs.
var requiredParams = map[string][]string{
	"RequestFile":   {"path"},
	"RequestImage":  {"path"},
	"ListDirectory": {"path"},
	"Search":        {"name"},
	"SearchResult":  {"searchId"},
}

// Dispatcher routes protocol requests to the content resolver and the
// search crawler.
type Dispatcher struct {
	resolver *content.Resolver
	crawler  *search.Crawler
}

func NewDispatcher(resolver *content.Resolver, crawler *search.Crawler) *Dispatcher {
	return &Dispatcher{resolver: resolver, crawler: crawler}
}

// Dispatch handles a single protocol request. It never panics outward; any
// unclassified failure comes back as a generic internal error so the
// connection survives.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("panic in protocol handler",
				zap.String("method", req.Method),
				zap.Any("panic", r),
			)
			resp = errorResponse(req.ID, CodeInternal, "internal error")
		}
		metrics.RecordRPCRequest(req.Method, resp.Error == nil)
	}()

	required, known := requiredParams[req.Method]
	if !known {
		return errorResponse(req.ID, CodeMethodNotFound, "Method not defined")
	}
	for _, key := range required {
		if _, ok := req.Params[key]; !ok {
			return errorResponse(req.ID, CodeMalformedRequest, fmt.Sprintf("required parameter missing: %s", key))
		}
	}

	result, err := d.invoke(ctx, req)
	if err != nil {
		return errorResponse(req.ID, codeFor(err), err.Error())
	}
	return resultResponse(req.ID, result)
}

func (d *Dispatcher) invoke(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case "RequestFile":
		path, err := stringParam(req.Params, "path")
		if err != nil {
			return nil, err
		}
		return d.resolver.DescribeFile(path)

	case "RequestImage":
		path, err := stringParam(req.Params, "path")
		if err != nil {
			return nil, err
		}
		var size *content.ClientSize
		if raw, ok := req.Params["clientSize"]; ok {
			size = &content.ClientSize{}
			if err := json.Unmarshal(raw, size); err != nil {
				return nil, fmt.Errorf("%w: clientSize", content.ErrBadRequest)
			}
		}
		return d.resolver.DescribeImage(path, size)

	case "ListDirectory":
		path, err := stringParam(req.Params, "path")
		if err != nil {
			return nil, err
		}
		return d.resolver.ListDirectory(path)

	case "Search":
		name, err := stringParam(req.Params, "name")
		if err != nil {
			return nil, err
		}
		startingPath := ""
		if _, ok := req.Params["starting_path"]; ok {
			if startingPath, err = stringParam(req.Params, "starting_path"); err != nil {
				return nil, err
			}
		}
		id, err := d.crawler.Start(ctx, name, startingPath)
		if err != nil {
			return nil, err
		}
		return map[string]string{"searchId": id}, nil

	case "SearchResult":
		id, err := stringParam(req.Params, "searchId")
		if err != nil {
			return nil, err
		}
		return d.crawler.Fetch(id)

	default:
		// Unreachable, the method table gates above.
		return nil, fmt.Errorf("method not defined")
	}
}

// codeFor maps domain errors to the protocol error taxonomy.
func codeFor(err error) int {
	switch {
	case errors.Is(err, content.ErrBadRequest):
		return CodeMalformedRequest
	case errors.Is(err, sandbox.ErrOutsideSandbox), errors.Is(err, sandbox.ErrPermission):
		return CodePermissionDenied
	case errors.Is(err, sandbox.ErrNotFound):
		return CodePathNotFound
	case errors.Is(err, sandbox.ErrWrongType):
		return CodeWrongType
	default:
		return CodeInternal
	}
}

func stringParam(params map[string]json.RawMessage, key string) (string, error) {
	var s string
	if err := json.Unmarshal(params[key], &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", content.ErrBadRequest, key)
	}
	return s, nil
}
