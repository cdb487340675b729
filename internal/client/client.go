// Package client drives the luk event loop: connecting and logging in to
// the RCON server, then cooperatively pacing keepalives against receiving
// and dispatching messages. Grounded on original_source/src/luk.c.
package client

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"lukagent/internal/command"
	"lukagent/internal/database"
	"lukagent/internal/handler"
	"lukagent/internal/query"
	"lukagent/internal/rcon"
	"lukagent/internal/reply"
)

// DefaultReceiveTimeout is how long a single receive poll blocks, the Go
// analog of the original's select()-based LUK_REPLAY_WAIT_TIME. Treated as
// a resolved Open Question (see the project's design notes) since the
// original constant was not available to ground it precisely.
const DefaultReceiveTimeout = 1 * time.Second

// DefaultLoginRetries bounds how many times Connect retries a timed-out
// login before giving up, the Go analog of LUK_SERVER_CONNECTION_RETRIES.
const DefaultLoginRetries = 3

// keepaliveInterval is KEEP_ALIVE_REBROADCAST_TIME: a PONG is sent at most
// once per this interval.
const keepaliveInterval = 5 * time.Second

// Client owns the live session plus every piece of per-connection state the
// original kept as file-scope statics: query ID tracking, the pending
// reply, and the save-on-store policy.
type Client struct {
	session *rcon.Session
	db      *database.Database
	queries *query.State
	table   command.Table
	reply   *reply.Reply

	saveOnStore    bool
	receiveTimeout time.Duration
	nextPong       time.Time
	saveHook       SaveFunc

	running *atomic.Bool
}

// SaveFunc is the concrete persistence call the entrypoint installs (e.g.
// internal/database.Save bound to the configured path), or leaves nil in
// skip mode.
type SaveFunc func(db *database.Database) error

// New builds a client around an already-dialed session and an initialized
// database. saveOnStore mirrors the database_save_on_store config option.
func New(session *rcon.Session, db *database.Database, saveOnStore bool, running *atomic.Bool) *Client {
	r := &reply.Reply{}
	handlers := handler.NewSet(db)

	return &Client{
		session:        session,
		db:             db,
		queries:        query.NewState(),
		table:          handlers.Table(r),
		reply:          r,
		saveOnStore:    saveOnStore,
		receiveTimeout: DefaultReceiveTimeout,
		running:        running,
	}
}

// Connect performs the login handshake, retrying up to retries times on a
// plain timeout, and applies the server's initial state (its current map)
// on success. It matches LukInitServer's retry loop.
func (c *Client) Connect(password string, retries int) error {
	var lastErr error

	for tries := retries; tries > 0 && c.running.Load(); tries-- {
		log.Info("luk: logging in to RCON server")

		body, err := c.session.Login(password, c.receiveTimeout)
		if err == nil {
			log.Info("luk: successfully logged in to RCON server")
			return c.processInitialResponse(body)
		}

		if err != rcon.ErrTimeout {
			return err
		}

		lastErr = err
		log.Info("luk:    - no reply from RCON server. retrying...")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("rcon: login aborted")
	}
	return lastErr
}

// processInitialResponse walks the SVRC_LOGGEDIN body — protocol byte,
// NUL-terminated hostname, then a count-prefixed list of updates — keeping
// only the map update, matching LukProcessInitialReponse.
func (c *Client) processInitialResponse(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("rcon: initial response too short")
	}

	protocol := body[0]
	pos := 1

	hostname, n := readNulString(body[pos:])
	pos += n

	if pos >= len(body) {
		return fmt.Errorf("rcon: initial response truncated before update count")
	}
	totalUpdates := int(body[pos])
	pos++

	var mapName string
	for i := 0; i < totalUpdates && pos < len(body); i++ {
		updateType := body[pos]
		pos++

		switch updateType {
		case rcon.UpdateMap:
			var n int
			mapName, n = readNulString(body[pos:])
			pos += n

		case rcon.UpdatePlayerData:
			if pos >= len(body) {
				break
			}
			totalPlayers := int(body[pos])
			pos++
			seen := 0
			for seen < totalPlayers && pos < len(body) {
				if body[pos] == 0 {
					seen++
				}
				pos++
			}

		case rcon.UpdateAdminCount:
			pos++
		}
	}

	log.Info("luk: RCON server: ")
	log.Infof("luk:    - protocol: %d", protocol)
	log.Infof("luk:    - hostname: %s", hostname)

	if mapName != "" {
		c.db.ChangeMap(mapName)
	}
	c.printCurrentMap()

	return nil
}

func readNulString(b []byte) (string, int) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1
		}
	}
	return string(b), len(b)
}

func (c *Client) printCurrentMap() {
	log.Infof("luk: ===== %s =====", c.db.CurrentMapName())
}

// Run is the cooperative event loop: pace keepalives, poll for a message,
// dispatch it, repeat until running goes false, then send the shutdown
// notice and an RCON disconnect. Matches main()'s while loop in luk.c.
func (c *Client) Run() {
	if err := c.session.SendCommand("set luk_system 1"); err != nil {
		log.Warnf("luk: failed to send startup notice: %v", err)
	}

	for c.running.Load() {
		c.maybeSendPong()

		header, body, ok, err := c.session.Receive(c.receiveTimeout)
		if err != nil {
			log.Warnf("luk: receive error: %v", err)
			continue
		}
		if ok {
			c.processResponse(header, body)
		}
	}

	log.Info("luk: shutting down")
	if err := c.session.SendCommand("set luk_system 0"); err != nil {
		log.Warnf("luk: failed to send shutdown notice: %v", err)
	}
	if err := c.session.Disconnect(); err != nil {
		log.Warnf("luk: failed to send disconnect: %v", err)
	}
}

func (c *Client) maybeSendPong() {
	now := time.Now()
	if now.Before(c.nextPong) {
		return
	}
	c.nextPong = now.Add(keepaliveInterval)
	if err := c.session.Send(rcon.HeaderPong, nil); err != nil {
		log.Warnf("luk: failed to send keepalive: %v", err)
	}
}

// processResponse dispatches a decoded message by header, matching
// LukProcessResponse.
func (c *Client) processResponse(header byte, body []byte) {
	if len(body) == 0 {
		return
	}

	// The trailing byte of body is the NUL sentinel the sender appended;
	// drop it before trimming, matching response->bodyLength - 1.
	text := strings.TrimSpace(string(body[:len(body)-1]))

	switch header {
	case rcon.HeaderMessage:
		c.processMessage(text)

	case rcon.HeaderUpdate:
		if len(text) == 0 {
			return
		}
		if text[0] == rcon.UpdateMap {
			c.changeMap(text[1:])
		}
	}
}

// processMessage runs a luk query capsule through the full query -> command
// -> handler -> reply pipeline, matching LukProcessMessageResponse.
func (c *Client) processMessage(message string) {
	raw := []byte(message)
	if !query.IsValidCapsule(raw) {
		return
	}
	q, ok := c.queries.Unpack(raw)
	if !ok {
		return
	}

	c.reply.Reset()
	c.reply.QueryID = q.ID

	cmd, h, ok := c.table.Parse(q.Cargo)
	if !ok {
		return
	}
	h(nil, cmd)

	if c.saveOnStore {
		c.Save()
	}

	if c.reply.DataSize() > 0 {
		if err := c.session.SendCommand(c.reply.BuildCommand()); err != nil {
			log.Warnf("luk: failed to send reply: %v", err)
		}
	}
}

// changeMap resets the query ID sequence, saves the database, and switches
// to newMap, matching LukChangeMap.
func (c *Client) changeMap(newMap string) {
	c.queries.ResetID()
	c.Save()
	c.db.ChangeMap(newMap)
	c.printCurrentMap()
}

// Save persists the database if it needs saving and a save hook was
// installed, matching LukSaveDatabase. A successful hook call clears the
// dirty counter.
func (c *Client) Save() {
	if c.saveHook == nil {
		return
	}
	if !c.db.IsSaveNeeded() {
		return
	}
	if err := c.saveHook(c.db); err != nil {
		log.Warnf("luk: failed to save database: %v", err)
		return
	}
	c.db.ResetDirtyCounter()
}

// SetSaveHook installs the persistence callback Save invokes.
func (c *Client) SetSaveHook(fn SaveFunc) {
	c.saveHook = fn
}
