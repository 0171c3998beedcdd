package gateway

import (
	"github.com/veyra/stitchd/errors"
)

// Envelope is the uniform response wrapper shared by every transport:
// {ok:true, ...result fields} or {ok:false, kind, error:{code, message}}.
type Envelope map[string]interface{}

// OK builds a success envelope. Result fields are inlined next to ok.
func OK(requestID string, fields map[string]interface{}) Envelope {
	env := Envelope{"ok": true}
	if requestID != "" {
		env["request_id"] = requestID
	}
	for k, v := range fields {
		env[k] = v
	}
	return env
}

// Fail recovers any error from the taxonomy into a failure envelope.
func Fail(requestID string, err error) Envelope {
	kind, body := classify(err)
	env := Envelope{
		"ok":    false,
		"kind":  kind,
		"error": body,
	}
	if requestID != "" {
		env["request_id"] = requestID
	}
	return env
}

func classify(err error) (string, map[string]interface{}) {
	body := map[string]interface{}{"message": err.Error()}

	if fe, ok := errors.AsFetchError(err); ok {
		body["code"] = "fetch_error"
		body["range"] = map[string]string{"from": fe.From, "to": fe.To}
		return "FetchError", body
	}
	if le, ok := errors.AsLoadError(err); ok {
		switch le.Reason {
		case errors.LoadNotFound:
			body["code"] = "not_found"
		case errors.LoadAttributeError:
			body["code"] = "attribute_error"
		default:
			body["code"] = "instantiation_error"
		}
		return "LoadError", body
	}

	switch {
	case errors.IsUnauthorized(err):
		body["code"] = "unauthorized"
		return "Unauthorized", body
	case errors.IsNotFound(err):
		body["code"] = "not_found"
		return "NotFound", body
	case errors.IsValidation(err):
		body["code"] = "validation_error"
		return "ValidationError", body
	case errors.Is(err, errors.ErrAlreadyInitialized):
		body["code"] = "already_initialized"
		return "AlreadyInitialized", body
	case errors.Is(err, errors.ErrNotSupported):
		body["code"] = "not_supported"
		return "NotSupported", body
	case errors.IsStorage(err):
		body["code"] = "storage_error"
		return "StorageError", body
	}
	body["code"] = "internal_error"
	return "InternalError", body
}
