// Package handshake implements the connection state machine: challenge
// negotiation, stufftext-driven configstring/baseline fetch, the
// reliable command queue, and the reconnect policy. The transport
// (netchan, the OOB socket) is owned by the caller; Machine only decides
// what to send and when, returning plain strings and durations for the
// caller's timer loop to act on.
package handshake

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"q2mon-go/internal/oob"
	"q2mon-go/internal/protocol"
	"q2mon-go/internal/q2err"
)

// State is one node of the handshake lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateChallenging
	StateConnecting
	StateConnected
	StateHandshaking
	StatePendingBegin
	StateSpawned
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateChallenging:
		return "challenging"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateHandshaking:
		return "handshaking"
	case StatePendingBegin:
		return "pending_begin"
	case StateSpawned:
		return "spawned"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ServerDataInfo is the subset of a decoded SERVERDATA message the
// handshake machine needs; it is deliberately decoupled from
// internal/decoder's type so the two packages don't import each other.
type ServerDataInfo struct {
	Version protocol.Version
	MapName string
}

// Machine owns the handshake lifecycle for one connection.
type Machine struct {
	state State

	playerName  string
	passiveMode bool
	qport       uint16

	version   protocol.Version
	challenge int32
	spawnCount int32
	currentMap string

	respondedVersion  bool
	respondedActoken  bool
	sentConfigstrings map[int]bool
	sentBaselines     map[int]bool

	reconnectAttempts    int
	maxReconnectAttempts int
}

// New returns a Machine in StateDisconnected. qport is the client's
// stable per-connection port-shadow identifier, chosen once at startup
// and reused across reconnects.
func New(playerName string, passiveMode bool, qport uint16, maxReconnectAttempts int) *Machine {
	return &Machine{
		playerName:            playerName,
		passiveMode:           passiveMode,
		qport:                 qport,
		maxReconnectAttempts:  maxReconnectAttempts,
		sentConfigstrings:     make(map[int]bool),
		sentBaselines:         make(map[int]bool),
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Version returns the protocol negotiated during the challenge exchange.
func (m *Machine) Version() protocol.Version { return m.version }

// Connect begins the handshake: DISCONNECTED -> CHALLENGING, returning
// the OOB `getchallenge` packet to send.
func (m *Machine) Connect() []byte {
	m.state = StateChallenging
	return oob.Build("getchallenge\n")
}

// HandleChallenge consumes an OOB `challenge N [p=list]` packet,
// transitions CHALLENGING -> CONNECTING, and returns the OOB `connect`
// packet to send.
func (m *Machine) HandleChallenge(text string) ([]byte, error) {
	if m.state != StateChallenging {
		return nil, fmt.Errorf("handshake: unexpected challenge in state %s", m.state)
	}
	number, offered, err := oob.ParseChallenge(text)
	if err != nil {
		return nil, err
	}
	kind, err := protocol.SelectBest(offered)
	if err != nil {
		return nil, err
	}
	m.version = protocol.Version{Kind: kind}
	m.challenge = number
	m.state = StateConnecting

	userinfo := BuildUserinfo(m.playerName)
	cmd := fmt.Sprintf("connect %d %d %d \"%s\"", kind.Wire(), m.qport, number, userinfo)
	if kind != protocol.KindVanilla {
		cmd += " 0" // requested minor protocol version
	}
	return oob.Build(cmd + "\n"), nil
}

// HandleClientConnect consumes an OOB `client_connect` packet,
// transitioning CONNECTING -> CONNECTED, and returns the reliable `new`
// command that must be scheduled the moment the netchan opens — the
// server withholds SERVERDATA/GAMESTATE until it sees it.
func (m *Machine) HandleClientConnect() (string, error) {
	if m.state != StateConnecting {
		return "", fmt.Errorf("handshake: unexpected client_connect in state %s", m.state)
	}
	m.state = StateConnected
	return "new", nil
}

// ServerDataResult reports what HandleServerData decided about one
// SERVERDATA message.
type ServerDataResult struct {
	// MapChanged is true when this SERVERDATA arrived while SPAWNED and
	// named a different map than the one currently loaded.
	MapChanged bool
	// PreviousMap is the map name that was active before this one, set
	// only when MapChanged is true.
	PreviousMap string
}

// HandleServerData records the negotiated version and map name. The
// first SERVERDATA always arrives while CONNECTED or HANDSHAKING; a
// later one with a different map name while SPAWNED is a map change,
// which re-enters HANDSHAKING, clears the per-map handshake flags, and
// requires the `new` command to be re-sent (the server re-handshakes
// configstrings/baselines for the new map the same way it did the
// first time).
func (m *Machine) HandleServerData(sd ServerDataInfo) ServerDataResult {
	var res ServerDataResult
	m.version = sd.Version
	if m.state == StateSpawned && sd.MapName != m.currentMap {
		res.MapChanged = true
		res.PreviousMap = m.currentMap
		m.state = StateHandshaking
		m.sentConfigstrings = make(map[int]bool)
		m.sentBaselines = make(map[int]bool)
	} else if m.state == StateConnected {
		m.state = StateHandshaking
	}
	m.currentMap = sd.MapName
	return res
}

// StuffTextResult reports what a stufftext command produced.
type StuffTextResult struct {
	// Enqueued are reliable command bodies (without the CLC_STRINGCMD
	// opcode byte) ready to send immediately, in order.
	Enqueued []string
	// BeginAfter is non-zero when a `begin` command must be sent after
	// this delay, once Enqueued (and anything queued earlier) has
	// drained; call Begin() when the timer fires.
	BeginAfter time.Duration
	// SpawnedImmediately is true in passive mode: precache jumps
	// straight to SPAWNED without ever sending `begin`.
	SpawnedImmediately bool
	// Reconnect is true when this stufftext was `reconnect`.
	Reconnect bool
	ReconnectAfter time.Duration
}

// HandleStuffText dispatches one decoded STUFFTEXT command string.
func (m *Machine) HandleStuffText(text string) (StuffTextResult, error) {
	text = strings.TrimRight(text, "\x00\n")
	var res StuffTextResult

	switch {
	case strings.HasPrefix(text, "cmd configstrings "):
		k := fieldInt(text, 2)
		if !m.sentConfigstrings[k] {
			m.sentConfigstrings[k] = true
			res.Enqueued = append(res.Enqueued, fmt.Sprintf("configstrings %d", k))
		}
		m.state = StateHandshaking

	case strings.HasPrefix(text, "cmd baselines "):
		k := fieldInt(text, 2)
		if !m.sentBaselines[k] {
			m.sentBaselines[k] = true
			res.Enqueued = append(res.Enqueued, fmt.Sprintf("baselines %d", k))
		}
		m.state = StateHandshaking

	case strings.Contains(text, "\x7fc version $version"):
		if !m.respondedVersion {
			m.respondedVersion = true
			res.Enqueued = append(res.Enqueued, "\x7fc version q2mon-go 1.0")
		}

	case strings.Contains(text, "\x7fc actoken $actoken"):
		if !m.respondedActoken {
			m.respondedActoken = true
			res.Enqueued = append(res.Enqueued, "\x7fc actoken 0")
		}

	case strings.HasPrefix(text, "precache") || strings.HasPrefix(text, "skins"):
		m.spawnCount = int32(fieldInt(text, 1))
		if m.passiveMode {
			m.state = StateSpawned
			res.SpawnedImmediately = true
		} else {
			m.state = StatePendingBegin
			res.BeginAfter = 500 * time.Millisecond
		}

	case text == "reconnect":
		m.state = StateReconnecting
		res.Reconnect = true
		res.ReconnectAfter = 500 * time.Millisecond

	default:
		// Unrecognized stufftext commands are ignored, not an error:
		// servers send many client-console commands this monitor has
		// no use for (e.g. "changing\n", "echo ..." ).
	}
	return res, nil
}

// Begin returns the reliable `begin <spawn_count>` command body and
// transitions PENDING_BEGIN -> SPAWNED. Call only after BeginAfter has
// elapsed and any earlier Enqueued commands have been sent.
func (m *Machine) Begin() string {
	m.state = StateSpawned
	return fmt.Sprintf("begin %d", m.spawnCount)
}

// HandleDisconnect processes a server-initiated OOB `disconnect` or
// SVC_DISCONNECT. Within the attempt budget it returns the reconnect
// backoff together with a *q2err.HandshakeRejected; once the budget is
// exhausted it returns zero and a *q2err.ReconnectExhausted.
func (m *Machine) HandleDisconnect(reason string) (time.Duration, error) {
	m.state = StateReconnecting
	m.reconnectAttempts++
	if m.reconnectAttempts > m.maxReconnectAttempts {
		return 0, &q2err.ReconnectExhausted{Attempts: m.reconnectAttempts - 1}
	}
	delay := 5 * time.Second * time.Duration(m.reconnectAttempts)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay, &q2err.HandshakeRejected{Reason: reason}
}

// ResetForReconnect clears per-connection handshake flags ahead of a
// fresh Connect() call, preserving the reconnect attempt counter and the
// stable qport.
func (m *Machine) ResetForReconnect() {
	m.state = StateDisconnected
	m.respondedVersion = false
	m.respondedActoken = false
	m.sentConfigstrings = make(map[int]bool)
	m.sentBaselines = make(map[int]bool)
	m.currentMap = ""
}

// Disconnect performs a consumer-initiated shutdown: DISCONNECTED from
// any state, with no reconnect scheduled.
func (m *Machine) Disconnect() {
	m.state = StateDisconnected
	m.reconnectAttempts = 0
}

// HeartbeatInterval returns the cadence of the state-dependent heartbeat
// packet: 300ms while CONNECTED but not SPAWNED, 100ms once SPAWNED, and
// zero before a netchan connection exists.
func (m *Machine) HeartbeatInterval() time.Duration {
	switch m.state {
	case StateSpawned:
		return 100 * time.Millisecond
	case StateConnected, StateHandshaking, StatePendingBegin:
		return 300 * time.Millisecond
	default:
		return 0
	}
}

func fieldInt(s string, idx int) int {
	fields := strings.Fields(s)
	if idx >= len(fields) {
		return 0
	}
	n, _ := strconv.Atoi(fields[idx])
	return n
}
