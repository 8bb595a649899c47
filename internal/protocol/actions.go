package protocol

// Outbound request actions.
const (
	ActionListen             = "q"
	ActionUnlisten           = "n"
	ActionPut                = "p"
	ActionMerge              = "m"
	ActionAuth               = "auth"
	ActionUnauth             = "unauth"
	ActionOnDisconnectPut    = "o"
	ActionOnDisconnectMerge  = "om"
	ActionOnDisconnectCancel = "oc"
	ActionStats              = "s"
)

// Inbound push actions.
const (
	PushSet           = "d"
	PushMerge         = "m"
	PushListenRevoked = "c"
	PushAuthRevoked   = "ac"
	PushSecurityDebug = "sd"
)

// Envelope and control frame types.
const (
	frameTypeData    = "d"
	frameTypeControl = "c"

	ControlHandshake = "h"
	ControlRedirect  = "r"
	ControlShutdown  = "s"
	ControlError     = "e"
	ControlPing      = "p"
	ControlPong      = "o"
)

// StatusOK is the response status of an accepted request.
const StatusOK = "ok"

// ProtocolVersion is the wire version announced when connecting.
const ProtocolVersion = "5"
