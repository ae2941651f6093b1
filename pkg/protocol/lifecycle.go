package protocol

// OperatingModel describes how write authority is distributed across peers.
type OperatingModel string

const (
	// ServerAuthoritative means only app-originated state is trusted.
	ServerAuthoritative OperatingModel = "server-authoritative"

	// PeerAuthoritative means one elected peer may push physics and
	// animation corrections back into the shared state.
	PeerAuthoritative OperatingModel = "peer-authoritative"
)

// Handshake opens the per-connection negotiation. Sent by the initiating
// side immediately after the transport connects.
type Handshake struct{}

func (*Handshake) PayloadType() string { return TypeHandshake }

// HandshakeReply answers a Handshake with the session identity and the
// operating model in force for that session.
type HandshakeReply struct {
	SessionID      string         `json:"sessionId"`
	OperatingModel OperatingModel `json:"operatingModel"`
}

func (*HandshakeReply) PayloadType() string { return TypeHandshakeReply }

// HandshakeComplete closes the handshake round trip.
type HandshakeComplete struct{}

func (*HandshakeComplete) PayloadType() string { return TypeHandshakeComplete }

// Heartbeat is a latency probe. ServerTime is the sender's wall clock in
// Unix milliseconds; the round trip is measured when the reply arrives.
type Heartbeat struct {
	ServerTime int64 `json:"serverTime"`
}

func (*Heartbeat) PayloadType() string { return TypeHeartbeat }

// HeartbeatReply answers a Heartbeat, echoing the responder's clock.
type HeartbeatReply struct {
	ServerTime int64 `json:"serverTime"`
}

func (*HeartbeatReply) PayloadType() string { return TypeHeartbeatReply }

// SyncRequest asks the peer for a fresh full-state synchronization. Received
// mid-execution it suspends the execution protocol until sync completes.
type SyncRequest struct{}

func (*SyncRequest) PayloadType() string { return TypeSyncRequest }

// SyncComplete signals the end of a synchronization sequence.
type SyncComplete struct{}

func (*SyncComplete) PayloadType() string { return TypeSyncComplete }
