package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/rtdb/internal/tree"
)

func ListenRequest(path string, q *tree.Query, hash string, tag int) Request {
	body := RequestBody{
		Path: tree.ParsePath(path).String(),
		Hash: hash,
		Tag:  NewTag(tag),
	}
	if q != nil && !q.IsDefault() {
		body.Query = q.Params()
	}
	return Request{Action: ActionListen, Body: body}
}

func UnlistenRequest(path string, q *tree.Query, tag int) Request {
	body := RequestBody{
		Path: tree.ParsePath(path).String(),
		Tag:  NewTag(tag),
	}
	if q != nil && !q.IsDefault() {
		body.Query = q.Params()
	}
	return Request{Action: ActionUnlisten, Body: body}
}

func PutRequest(path string, value any, hash string, writeID int64) (Request, error) {
	return writeRequest(ActionPut, path, value, hash, writeID)
}

func MergeRequest(path string, children map[string]any, hash string, writeID int64) (Request, error) {
	if children == nil {
		children = map[string]any{}
	}
	return writeRequest(ActionMerge, path, children, hash, writeID)
}

func OnDisconnectPutRequest(path string, value any) (Request, error) {
	return writeRequest(ActionOnDisconnectPut, path, value, "", 0)
}

func OnDisconnectMergeRequest(path string, children map[string]any) (Request, error) {
	if children == nil {
		children = map[string]any{}
	}
	return writeRequest(ActionOnDisconnectMerge, path, children, "", 0)
}

func OnDisconnectCancelRequest(path string) Request {
	return Request{
		Action: ActionOnDisconnectCancel,
		Body:   RequestBody{Path: tree.ParsePath(path).String()},
	}
}

func AuthRequest(token string) Request {
	return Request{Action: ActionAuth, Body: RequestBody{Cred: token}}
}

func UnauthRequest() Request {
	return Request{Action: ActionUnauth}
}

// StatsRequest reports client counters to the server.
func StatsRequest(counters map[string]int) Request {
	return Request{Action: ActionStats, Body: RequestBody{Stats: counters}}
}

func writeRequest(action, path string, value any, hash string, writeID int64) (Request, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Request{}, fmt.Errorf("%w: encode %s data: %v", ErrInvalidRequest, action, err)
	}
	req := Request{
		Action: action,
		Body: RequestBody{
			Path: tree.ParsePath(path).String(),
			Data: data,
			Hash: hash,
		},
		WriteID: writeID,
	}
	return req, req.Validate()
}
