package client

import (
	"context"
	"time"

	"q2mon-go/internal/decoder"
	"q2mon-go/internal/events"
	"q2mon-go/internal/handshake"
	"q2mon-go/internal/netchan"
	"q2mon-go/internal/oob"
	"q2mon-go/internal/q2err"
)

// receiveLoop reads datagrams until ctx is cancelled, routing each one
// through the OOB classifier or the netchan/decoder pipeline.
func (c *Client) receiveLoop(ctx context.Context) error {
	buf := make([]byte, receiveBufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				continue
			}
			return &q2err.TransportError{Op: "read", Err: err}
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		if oob.IsOOB(datagram) {
			if err := c.handleOOB(datagram); err != nil {
				c.log.Warn("oob handling: %v", err)
			}
			continue
		}
		if err := c.handleSequenced(datagram); err != nil {
			c.log.Warn("sequenced packet handling: %v", err)
		}
	}
}

func (c *Client) handleOOB(datagram []byte) error {
	pkt, err := oob.Parse(datagram)
	if err != nil {
		return err
	}

	switch pkt.Kind {
	case oob.KindChallenge:
		c.mu.Lock()
		connectPkt, err := c.hs.HandleChallenge(pkt.Text)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return c.send(connectPkt)

	case oob.KindClientConnect:
		c.mu.Lock()
		newCmd, err := c.hs.HandleClientConnect()
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.nc = netchan.New(c.hs.Version(), c.qport)
		connectDone := c.connectDone
		if connectDone != nil {
			close(connectDone)
			c.connectDone = nil
		}
		c.mu.Unlock()
		// The server withholds SERVERDATA/GAMESTATE until it sees this,
		// so it must go out immediately, not wait on the next decode.
		return c.sendReliable(newCmd)

	case oob.KindDisconnect, oob.KindPrint:
		// In monitor mode a `print` reply is the answer to a status poll.
		if pkt.Kind == oob.KindPrint && c.cfg.MonitorMode {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.monitor.HandleResponse(datagram)
		}
		reason := oob.ParseDisconnectReason(pkt.Text)
		c.mu.Lock()
		_, herr := c.hs.HandleDisconnect(reason)
		c.mu.Unlock()
		return herr

	case oob.KindStatusResponse:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.monitor.HandleResponse(datagram)

	default:
		return nil
	}
}

func (c *Client) handleSequenced(datagram []byte) error {
	c.mu.Lock()
	if c.nc == nil {
		c.mu.Unlock()
		return nil
	}
	recv, err := c.nc.Process(datagram)
	if err != nil {
		c.mu.Unlock()
		return &q2err.ProtocolDecodeError{Context: "netchan", Err: err}
	}
	if recv.Dropped || recv.Payload == nil {
		c.mu.Unlock()
		return nil
	}

	payload := decoder.MaybeInflate(recv.Payload)
	res, decErr := c.dec.Decode(payload)
	c.mu.Unlock()

	if decErr != nil {
		c.log.Warn("decode: %v", decErr)
	}
	return c.handleDecodeResult(res)
}

// handleDecodeResult reacts to one decoded message batch. Every command
// it needs to send is collected while c.mu is held, then sent afterward,
// so it never calls sendReliable (which takes c.mu itself) while locked.
func (c *Client) handleDecodeResult(res decoder.Result) error {
	var toSend []string
	var beginAfter time.Duration
	var reconnecting bool
	var serverInfo *events.ServerInfo

	c.mu.Lock()
	if res.ServerData != nil {
		sdRes := c.hs.HandleServerData(handshake.ServerDataInfo{
			Version: res.ServerData.Version,
			MapName: res.ServerData.MapName,
		})
		si := events.ServerInfo{
			Map:      res.ServerData.MapName,
			GameDir:  res.ServerData.GameDir,
			Protocol: res.ServerData.Version.Kind.Wire(),
		}
		if sdRes.MapChanged {
			si.Event = "map_change"
			si.PreviousMap = sdRes.PreviousMap
			// A map change re-enters HANDSHAKING the same way the first
			// connect did, so the server needs `new` again before it
			// will resend configstrings/baselines.
			toSend = append(toSend, "new")
		} else {
			si.Event = "connected"
		}
		serverInfo = &si
	}
	for _, stuff := range res.StuffTexts {
		sres, err := c.hs.HandleStuffText(stuff)
		if err != nil {
			c.log.Warn("stufftext: %v", err)
			continue
		}
		toSend = append(toSend, sres.Enqueued...)
		if sres.BeginAfter > 0 {
			beginAfter = sres.BeginAfter
		}
		if sres.Reconnect {
			reconnecting = true
		}
	}
	if res.Disconnected {
		if _, herr := c.hs.HandleDisconnect("server closed connection"); herr != nil {
			c.log.Warn("handshake disconnect: %v", herr)
		}
	}
	c.mu.Unlock()

	if serverInfo != nil {
		c.dispatch.Emit(events.Event{Kind: events.KindServerInfo, Payload: *serverInfo})
	}
	for _, cmd := range toSend {
		if err := c.sendReliable(cmd); err != nil {
			c.log.Warn("send reliable: %v", err)
		}
	}
	if beginAfter > 0 {
		c.scheduleBegin(beginAfter)
	}
	if reconnecting {
		c.dispatch.Emit(events.Event{Kind: events.KindConnection, Payload: events.Connection{Status: "reconnecting"}})
	}
	return nil
}

func (c *Client) scheduleBegin(delay time.Duration) {
	if c.beginTimer != nil {
		c.beginTimer.Stop()
	}
	c.beginTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		cmd := c.hs.Begin()
		c.mu.Unlock()
		if err := c.sendReliable(cmd); err != nil {
			c.log.Warn("send begin: %v", err)
		}
	})
}

// timerLoop drives the state-dependent heartbeat (paced at the
// HeartbeatInterval granularity, backed by a 10s backup NOP that fires
// regardless of cadence) and, in monitor mode, the periodic OOB status
// poll and its 1s response timeout.
func (c *Client) timerLoop(ctx context.Context) error {
	pace := time.NewTicker(100 * time.Millisecond)
	defer pace.Stop()

	backup := time.NewTicker(10 * time.Second)
	defer backup.Stop()

	var monitorTicker *time.Ticker
	if c.cfg.MonitorMode {
		interval := c.cfg.MonitorInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		monitorTicker = time.NewTicker(interval)
		defer monitorTicker.Stop()
	}

	statusCheck := time.NewTicker(100 * time.Millisecond)
	defer statusCheck.Stop()

	var monitorChan <-chan time.Time
	if monitorTicker != nil {
		monitorChan = monitorTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-pace.C:
			if err := c.sendHeartbeat(false); err != nil {
				c.log.Warn("heartbeat: %v", err)
			}

		case <-backup.C:
			if err := c.sendHeartbeat(true); err != nil {
				c.log.Warn("backup heartbeat: %v", err)
			}

		case <-monitorChan:
			c.mu.Lock()
			pkt := c.monitor.Poll()
			c.mu.Unlock()
			if err := c.send(pkt); err != nil {
				c.log.Warn("monitor poll: %v", err)
			}

		case <-statusCheck.C:
			c.mu.Lock()
			err := c.monitor.CheckTimeout(int64(statusQueryTimeout / time.Millisecond))
			c.mu.Unlock()
			if err != nil {
				c.log.Debug("monitor timeout: %v", err)
			}
		}
	}
}
