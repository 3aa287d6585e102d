// Package imaptest provides a scripted IMAP server for tests.
package imaptest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
)

// Server is the server side of an in-memory connection. Scripts drive it
// line by line.
type Server struct {
	t    testing.TB
	conn net.Conn
	br   *bufio.Reader
}

// NewPipe creates an in-memory connection. The client side is returned along
// with the scripted server. Both ends are closed when the test completes.
func NewPipe(t testing.TB) (net.Conn, *Server) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})
	return clientConn, &Server{
		t:    t,
		conn: serverConn,
		br:   bufio.NewReader(serverConn),
	}
}

// Run executes script in a new goroutine. The returned channel is closed
// when the script returns.
func (s *Server) Run(script func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		script()
	}()
	return done
}

// Writef writes a line. The CRLF is appended.
func (s *Server) Writef(format string, args ...interface{}) {
	if _, err := io.WriteString(s.conn, fmt.Sprintf(format, args...)+"\r\n"); err != nil {
		s.t.Errorf("imaptest: write failed: %v", err)
	}
}

// WriteRaw writes data as-is.
func (s *Server) WriteRaw(data string) {
	if _, err := io.WriteString(s.conn, data); err != nil {
		s.t.Errorf("imaptest: write failed: %v", err)
	}
}

// Greet sends an OK greeting advertising caps.
func (s *Server) Greet(caps ...string) {
	s.Writef("* OK [CAPABILITY %v] test server ready", strings.Join(caps, " "))
}

// ReadLine reads a line sent by the client, without the CRLF.
func (s *Server) ReadLine() string {
	line, err := s.br.ReadString('\n')
	if err != nil {
		s.t.Errorf("imaptest: read failed: %v", err)
		return ""
	}
	return strings.TrimRight(line, "\r\n")
}

// ReadFull reads exactly n bytes sent by the client.
func (s *Server) ReadFull(n int) string {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.br, b); err != nil {
		s.t.Errorf("imaptest: read failed: %v", err)
	}
	return string(b)
}

// Expect reads a command and checks that it matches want once the tag is
// stripped. The tag is returned.
func (s *Server) Expect(want string) string {
	line := s.ReadLine()
	tag, cmd, _ := strings.Cut(line, " ")
	if cmd != want {
		s.t.Errorf("imaptest: got command %q, want %q", cmd, want)
	}
	return tag
}

// ExpectOK reads a command, checks it and sends a tagged OK.
func (s *Server) ExpectOK(want string) {
	tag := s.Expect(want)
	s.Writef("%v OK %v completed", tag, strings.Fields(want)[0])
}

// ExpectEOF checks that the client closed the connection.
func (s *Server) ExpectEOF() {
	if line, err := s.br.ReadString('\n'); err == nil {
		s.t.Errorf("imaptest: got %q, want EOF", line)
	}
}

// Close closes the server side of the connection.
func (s *Server) Close() error {
	return s.conn.Close()
}
