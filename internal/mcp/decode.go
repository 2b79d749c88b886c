package mcp

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wallcrawler78/arenadocs/internal/errors"
)

// decode maps tool arguments onto T. A wrongly typed argument is reported as
// INVALID_REQUEST naming the argument.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, errors.NewInternal(err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && typeErr.Field != "" {
			return out, errors.NewInvalidRequest(fmt.Sprintf("%s must be a %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value))
		}
		return out, errors.NewInvalidRequest("invalid arguments: " + err.Error())
	}
	return out, nil
}
