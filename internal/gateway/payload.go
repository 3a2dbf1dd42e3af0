package gateway

import (
	json "github.com/goccy/go-json"
)

// Gateway opcodes (send and receive directions mixed, as on the wire).
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opPresenceUpdate = 3
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Intent bits requested at identify time. Guilds covers the guild and
// channel lifecycle dispatches this process mirrors.
const (
	IntentGuilds = 1 << 0
)

// payload is the envelope every gateway frame uses.
type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// helloData arrives in op 10 immediately after the socket opens.
type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// identifyData is sent as op 2 to authenticate a fresh session.
type identifyData struct {
	Token      string             `json:"token"`
	Properties identifyProperties `json:"properties"`
	Intents    int                `json:"intents"`
	Shard      [2]int             `json:"shard"`
	Presence   *Presence          `json:"presence,omitempty"`
	Compress   bool               `json:"compress"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// resumeData is sent as op 6 to continue an interrupted session.
type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// readyData is the op 0 READY dispatch payload.
type readyData struct {
	Version          int    `json:"v"`
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	Guilds           []struct {
		ID          string `json:"id"`
		Unavailable bool   `json:"unavailable"`
	} `json:"guilds"`
}

// Presence is the optional presence block sent with identify.
type Presence struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

// Activity is a single presence activity entry.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

func marshalPayload(op int, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload{Op: op, D: raw})
}
