// Package rcon implements the client side of the Skulltag RCON UDP
// protocol luk speaks to the game server: Huffman-encoded datagrams
// carrying a one-byte header plus a body. Grounded on
// original_source/src/server.c and server.h, with the packet layout
// following vendor/github.com/gwest/go-sol's header-struct-plus-pack()
// idiom and connection setup following sol.go's Config/New/Connect shape.
package rcon

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"lukagent/internal/huffman"
)

// Client message headers (ClientMessageHeader in the original).
const (
	HeaderBeginConnection byte = 52
	HeaderPassword        byte = 53
	HeaderCommand         byte = 54
	HeaderPong            byte = 55
	HeaderDisconnect      byte = 56
)

// Server message headers (ServerMessageHeader in the original).
const (
	HeaderOldProtocol     byte = 32
	HeaderBanned          byte = 33
	HeaderSalt            byte = 34
	HeaderLoggedIn        byte = 35
	HeaderInvalidPassword byte = 36
	HeaderMessage         byte = 37
	HeaderUpdate          byte = 38
)

// Update sub-kinds carried in the first byte of an UPDATE message body
// (ServerUpdateMessageHeader in the original).
const (
	UpdatePlayerData byte = 0
	UpdateAdminCount byte = 1
	UpdateMap        byte = 2
)

// ProtocolVersion is the RCON_VERSION_SUPPORTED value luk advertises on
// connect.
const ProtocolVersion = 3

// MaxResponseLength bounds a single decoded message, matching
// MAX_RESPONSE_LENGTH.
const MaxResponseLength = 8192

// Errors returned by Login, mirroring the SV_ERR_* enum.
var (
	ErrAlreadyLoggedIn = errors.New("rcon: already logged in")
	ErrInvalidPassword = errors.New("rcon: incorrect password for RCON server given")
	ErrBanned          = errors.New("rcon: this host has been banned from the server")
	ErrOldProtocol     = errors.New("rcon: the server RCON protocol version is newer")
	ErrTimeout         = errors.New("rcon: no reply from RCON server")
	ErrUnknown         = errors.New("rcon: unexpected response during login")
)

// Session is a connected RCON client. It is not safe for concurrent use —
// luk drives it from a single cooperative loop.
type Session struct {
	conn     net.Conn
	loggedIn bool
}

// Dial resolves and connects a UDP socket to addr ("host:port"). Because
// UDP has no handshake, this only fails if the address cannot be resolved
// or the local socket cannot be created.
func Dial(addr string) (*Session, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rcon: dialing %s: %w", addr, err)
	}
	return &Session{conn: conn}, nil
}

// Close releases the underlying socket.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Send Huffman-encodes header and body together (as one contiguous byte
// run, matching the original's encoding of the RconResponse struct's first
// bodyLength+1 bytes) and writes the datagram.
func (s *Session) Send(header byte, body []byte) error {
	raw := make([]byte, 1+len(body))
	raw[0] = header
	copy(raw[1:], body)

	encoded := huffman.Encode(raw)
	_, err := s.conn.Write(encoded)
	return err
}

// SendCommand sends a CLRC_COMMAND message carrying command as a
// NUL-terminated body, matching ServerSendCommand.
func (s *Session) SendCommand(command string) error {
	body := append([]byte(command), 0)
	if err := s.Send(HeaderCommand, body); err != nil {
		return err
	}
	log.Infof("luk:    -> %s", command)
	return nil
}

// Receive waits up to timeout for one datagram and Huffman-decodes it. ok
// is false (with a nil error) on a plain timeout, matching
// ServerWaitForReply's boolean result.
func (s *Session) Receive(timeout time.Duration) (header byte, body []byte, ok bool, err error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, false, err
	}

	buf := make([]byte, MaxResponseLength*2)
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, isNetErr := err.(net.Error); isNetErr && ne.Timeout() {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}

	decoded, err := huffman.Decode(buf[:n], MaxResponseLength)
	if err != nil || len(decoded) == 0 {
		return 0, nil, false, nil
	}

	header = decoded[0]
	body = decoded[1:]
	return header, body, true, nil
}

// Disconnect sends the CLRC_DISCONNECT message with an empty body.
func (s *Session) Disconnect() error {
	return s.Send(HeaderDisconnect, nil)
}

// Login performs the two-message handshake (begin connection, then
// password) against timeout, matching ServerLogin. On success it returns
// the body of the SVRC_LOGGEDIN response, which carries the server's
// initial state blob.
func (s *Session) Login(password string, timeout time.Duration) ([]byte, error) {
	if s.loggedIn {
		return nil, ErrAlreadyLoggedIn
	}

	if err := s.Send(HeaderBeginConnection, []byte{ProtocolVersion}); err != nil {
		return nil, err
	}
	header, body, ok, err := s.Receive(timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTimeout
	}

	switch header {
	case HeaderOldProtocol:
		return nil, ErrOldProtocol
	case HeaderBanned:
		return nil, ErrBanned
	}

	salt := nulTerminated(body)
	hash := hashPassword(salt, password)

	passwordBody := append([]byte(hash), 0)
	if err := s.Send(HeaderPassword, passwordBody); err != nil {
		return nil, err
	}

	header, body, ok, err = s.Receive(timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTimeout
	}

	switch header {
	case HeaderLoggedIn:
		s.loggedIn = true
		return body, nil
	case HeaderInvalidPassword:
		return nil, ErrInvalidPassword
	default:
		return nil, ErrUnknown
	}
}

// hashPassword combines salt and password and returns their lowercase hex
// MD5 digest, matching ServerGeneratePasswordHash.
func hashPassword(salt, password string) string {
	sum := md5.Sum([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// nulTerminated reads a C-style NUL-terminated string out of a byte slice.
func nulTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
