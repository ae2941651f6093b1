package protocol

import "encoding/json"

// UserLike is the engine's partial view of a user record.
type UserLike struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// UserJoined announces a user connecting to the session.
type UserJoined struct {
	User UserLike `json:"user"`
}

func (*UserJoined) PayloadType() string { return TypeUserJoined }

// UserLeft announces a user leaving the session.
type UserLeft struct {
	UserID string `json:"userId"`
}

func (*UserLeft) PayloadType() string { return TypeUserLeft }

// UserUpdate patches a user record.
type UserUpdate struct {
	User UserLike `json:"user"`
}

func (*UserUpdate) PayloadType() string { return TypeUserUpdate }

// PerformAction reports a user interaction (grab, button, hover) on a
// target actor.
type PerformAction struct {
	UserID      string          `json:"userId"`
	TargetID    string          `json:"targetId"`
	ActionName  string          `json:"actionName"`
	ActionState string          `json:"actionState"`
	ActionData  json.RawMessage `json:"actionData,omitempty"`
}

func (*PerformAction) PayloadType() string { return TypePerformAction }

// Operation result codes.
const (
	ResultSuccess = "success"
	ResultWarning = "warning"
	ResultError   = "error"
)

// OperationResultBody is the shared shape of one operation outcome.
type OperationResultBody struct {
	ResultCode string `json:"resultCode"`
	Message    string `json:"message,omitempty"`
}

// OperationResult reports the outcome of a single requested operation.
// Always a reply; a non-success code rejects whatever completion handle is
// awaiting that operation.
type OperationResult struct {
	OperationResultBody
	Traces []Trace `json:"traces,omitempty"`
}

func (*OperationResult) PayloadType() string { return TypeOperationResult }

// MultiOperationResult reports the outcomes of a batched request.
type MultiOperationResult struct {
	Successes int                   `json:"successCount"`
	Failures  int                   `json:"failureCount"`
	Results   []OperationResultBody `json:"results,omitempty"`
}

func (*MultiOperationResult) PayloadType() string { return TypeMultiOperationResult }

// Trace is one diagnostic line from the app or a client.
type Trace struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Traces forwards diagnostics for logging on the receiving side.
type Traces struct {
	Traces []Trace `json:"traces"`
}

func (*Traces) PayloadType() string { return TypeTraces }

// ShowDialog asks a specific user's client to present a dialog.
type ShowDialog struct {
	UserID      string `json:"userId"`
	Text        string `json:"text"`
	AcceptInput bool   `json:"acceptInput,omitempty"`
}

func (*ShowDialog) PayloadType() string { return TypeShowDialog }

// DialogResponse is the reply to ShowDialog.
type DialogResponse struct {
	Submitted bool   `json:"submitted"`
	Text      string `json:"text,omitempty"`
}

func (*DialogResponse) PayloadType() string { return TypeDialogResponse }

// AppToEngineRPC carries an application-defined call to clients, optionally
// scoped to one user.
type AppToEngineRPC struct {
	ChannelName string          `json:"channelName,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
}

func (*AppToEngineRPC) PayloadType() string { return TypeAppToEngineRPC }

// EngineToAppRPC carries a client-defined call up to the application.
type EngineToAppRPC struct {
	ChannelName string          `json:"channelName,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
}

func (*EngineToAppRPC) PayloadType() string { return TypeEngineToAppRPC }
