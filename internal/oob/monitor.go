package oob

import (
	"fmt"

	"github.com/rs/xid"

	"q2mon-go/internal/events"
	"q2mon-go/internal/q2err"
)

// Monitor drives the OOB status-poll loop used in monitor mode: send
// `status\n` on an interval, diff consecutive responses, and emit
// player_join/player_leave/map_change events. It owns no socket and no
// timer; the caller's timer loop decides when Poll and CheckTimeout run.
type Monitor struct {
	sink  *events.Dispatcher
	nowMS func() int64

	awaiting   bool
	sentAtMS   int64
	lastPollID string
	last       *Status
}

// NewMonitor returns a Monitor that emits to sink, using nowMS for event
// timestamps and timeout accounting.
func NewMonitor(sink *events.Dispatcher, nowMS func() int64) *Monitor {
	return &Monitor{sink: sink, nowMS: nowMS}
}

// Poll returns the OOB `status\n` datagram to send and marks a response
// as outstanding. A fresh per-poll xid correlates this query's log lines
// and any timeout it produces.
func (m *Monitor) Poll() []byte {
	m.awaiting = true
	m.sentAtMS = m.nowMS()
	m.lastPollID = xid.New().String()
	return Build("status\n")
}

// LastPollID returns the correlation id of the most recent Poll call.
func (m *Monitor) LastPollID() string { return m.lastPollID }

// LastPlayers returns the player list from the most recently handled
// status response, or nil if none has arrived yet.
func (m *Monitor) LastPlayers() []Player {
	if m.last == nil {
		return nil
	}
	return m.last.Players
}

// CheckTimeout reports a *q2err.MonitorTimeout if a poll has been
// outstanding for more than timeoutMS. Non-fatal: the next Poll retries.
func (m *Monitor) CheckTimeout(timeoutMS int64) error {
	if !m.awaiting {
		return nil
	}
	if elapsed := m.nowMS() - m.sentAtMS; elapsed > timeoutMS {
		m.awaiting = false
		return &q2err.MonitorTimeout{Elapsed: fmt.Sprintf("%dms", elapsed)}
	}
	return nil
}

// HandleResponse parses an incoming OOB datagram as a status response,
// diffs it against the previous response, and emits server_info events
// for any map change and any player that joined or left.
func (m *Monitor) HandleResponse(datagram []byte) error {
	pkt, err := Parse(datagram)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	st, err := ParseStatusResponse(pkt.Text)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	m.awaiting = false

	prev := m.last
	m.last = &st

	if prev == nil {
		m.emit("map_change", st, "", nil)
		for _, p := range st.Players {
			m.emit("player_join", st, p.Name, &p)
		}
		return nil
	}

	if prev.Info["mapname"] != st.Info["mapname"] {
		m.emit("map_change", st, prev.Info["mapname"], nil)
	}

	prevByName := make(map[string]Player, len(prev.Players))
	for _, p := range prev.Players {
		prevByName[p.Name] = p
	}
	curByName := make(map[string]Player, len(st.Players))
	for _, p := range st.Players {
		curByName[p.Name] = p
	}

	for name, p := range curByName {
		if _, ok := prevByName[name]; !ok {
			pp := p
			m.emit("player_join", st, name, &pp)
		}
	}
	for name, p := range prevByName {
		if _, ok := curByName[name]; !ok {
			pp := p
			m.emit("player_leave", st, name, &pp)
		}
	}
	return nil
}

func (m *Monitor) emit(kind string, st Status, previousMap string, p *Player) {
	info := events.ServerInfo{
		Event:       kind,
		Map:         st.Info["mapname"],
		PreviousMap: previousMap,
		GameDir:     st.Info["game"],
	}
	if p != nil {
		info.PlayerName = p.Name
		info.Ping = p.Ping
		info.Score = p.Score
	}
	m.sink.Emit(events.Event{Kind: events.KindServerInfo, TimestampMS: m.nowMS(), Payload: info})
}
