package imapclient_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/imapclient"
	"github.com/emersion/go-imap-idle/internal/imaptest"
)

func TestClient_login(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1", "LITERAL+")
		srv.ExpectOK(`LOGIN "alice" "secret"`)
	})

	client := imapclient.New(clientConn, nil)
	require.NoError(t, client.Login("alice", "secret"))
	assert.Equal(t, imap.ConnStateAuthenticated, client.State())
	assert.True(t, client.IsConnected())
	<-done
}

func TestClient_loginRejected(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		tag := srv.Expect(`LOGIN "alice" "wrong"`)
		srv.Writef("%v NO [AUTHENTICATIONFAILED] invalid credentials", tag)
		srv.ExpectOK("NOOP")
	})

	client := imapclient.New(clientConn, nil)
	err := client.Login("alice", "wrong")
	var imapErr *imap.Error
	require.True(t, errors.As(err, &imapErr), "got %v", err)
	assert.Equal(t, imap.StatusResponseTypeNo, imapErr.Type)
	assert.Equal(t, imap.ResponseCodeAuthenticationFailed, imapErr.Code)
	assert.Equal(t, imap.ConnStateNotAuthenticated, client.State())

	// NO responses don't break the connection
	require.NoError(t, client.Noop())
	<-done
}

func TestClient_greetingBye(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Writef("* BYE too many connections")
	})

	client := imapclient.New(clientConn, nil)
	err := client.WaitGreeting()
	var imapErr *imap.Error
	require.True(t, errors.As(err, &imapErr), "got %v", err)
	assert.Equal(t, imap.StatusResponseTypeBye, imapErr.Type)
	assert.False(t, client.IsConnected())
	<-done
}

func TestClient_preauth(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Writef("* PREAUTH [CAPABILITY IMAP4rev2] welcome back")
	})

	client := imapclient.New(clientConn, nil)
	require.NoError(t, client.WaitGreeting())
	assert.Equal(t, imap.ConnStateAuthenticated, client.State())

	caps, err := client.Caps()
	require.NoError(t, err)
	assert.True(t, caps.Has(imap.CapIdle))
	<-done
}

func TestClient_capability(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Writef("* OK hello")
		tag := srv.Expect("CAPABILITY")
		srv.Writef("* CAPABILITY IMAP4rev1 IDLE AUTH=PLAIN AUTH=XOAUTH2")
		srv.Writef("%v OK CAPABILITY completed", tag)
	})

	client := imapclient.New(clientConn, nil)
	caps, err := client.Caps()
	require.NoError(t, err)
	assert.True(t, caps.Has(imap.CapIdle))
	assert.Equal(t, []string{"PLAIN", "XOAUTH2"}, caps.AuthMechanisms())
	<-done

	// Cached, no I/O
	caps, err = client.Caps()
	require.NoError(t, err)
	assert.True(t, caps.Has(imap.CapIMAP4rev1))
}

func TestClient_select(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		tag := srv.Expect("SELECT INBOX")
		srv.Writef(`* FLAGS (\Answered \Seen)`)
		srv.Writef("* 3 EXISTS")
		srv.Writef("* 0 RECENT")
		srv.Writef("* OK [UIDVALIDITY 42] UIDs valid")
		srv.Writef("* OK [UIDNEXT 4] predicted next UID")
		srv.Writef(`* OK [PERMANENTFLAGS (\Seen \*)] limited`)
		srv.Writef("%v OK [READ-WRITE] SELECT completed", tag)
	})

	client := imapclient.New(clientConn, nil)
	data, err := client.Select("inbox", nil)
	require.NoError(t, err)
	<-done

	assert.Equal(t, uint32(3), data.NumMessages)
	assert.Equal(t, uint32(42), data.UIDValidity)
	assert.Equal(t, imap.UID(4), data.UIDNext)
	assert.Equal(t, []imap.Flag{imap.FlagAnswered, imap.FlagSeen}, data.Flags)
	assert.Equal(t, []imap.Flag{imap.FlagSeen, imap.FlagWildcard}, data.PermanentFlags)
	assert.False(t, data.ReadOnly)

	assert.Equal(t, imap.ConnStateSelected, client.State())
	mbox := client.Mailbox()
	require.NotNil(t, mbox)
	assert.Equal(t, "inbox", mbox.Name)
	assert.Equal(t, uint32(3), mbox.NumMessages)
}

func TestClient_examineEncodesName(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		tag := srv.Expect(`EXAMINE "Entw&APw-rfe"`)
		srv.Writef("%v OK [READ-ONLY] EXAMINE completed", tag)
	})

	client := imapclient.New(clientConn, nil)
	data, err := client.Select("Entwürfe", &imap.SelectOptions{ReadOnly: true})
	require.NoError(t, err)
	assert.True(t, data.ReadOnly)
	<-done
}

func TestClient_selectFailed(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		srv.ExpectOK("SELECT INBOX")
		tag := srv.Expect(`SELECT "Missing"`)
		srv.Writef("%v NO [NONEXISTENT] no such mailbox", tag)
	})

	client := imapclient.New(clientConn, nil)
	_, err := client.Select("INBOX", nil)
	require.NoError(t, err)
	_, err = client.Select("Missing", nil)
	require.Error(t, err)
	assert.Equal(t, imap.ConnStateAuthenticated, client.State())
	assert.Nil(t, client.Mailbox())
	<-done
}

func TestClient_unilateralQueue(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		srv.ExpectOK("SELECT INBOX")
		tag := srv.Expect("NOOP")
		srv.Writef("* 4 EXISTS")
		srv.Writef(`* 2 FETCH (FLAGS (\Seen))`)
		srv.Writef("%v OK NOOP completed", tag)
	})

	client := imapclient.New(clientConn, nil)
	_, err := client.Select("INBOX", nil)
	require.NoError(t, err)
	require.NoError(t, client.Noop())
	<-done

	assert.Equal(t, uint32(4), client.Mailbox().NumMessages)

	line, err := client.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "* 4 EXISTS", line)
	line, err = client.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, `* 2 FETCH (FLAGS (\Seen))`, line)
}

func TestClient_unilateralQueueLimit(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		tag := srv.Expect("NOOP")
		srv.Writef("* 1 EXISTS")
		srv.Writef("* 2 EXISTS")
		srv.Writef("* 3 EXISTS")
		srv.Writef("%v OK NOOP completed", tag)
	})

	client := imapclient.New(clientConn, &imapclient.Options{MaxUnilateral: 2})
	require.NoError(t, client.Noop())
	<-done

	for _, want := range []string{"* 2 EXISTS", "* 3 EXISTS"} {
		line, err := client.ReadLine(time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := client.ReadLine(10 * time.Millisecond)
	assert.ErrorIs(t, err, imapclient.ErrTimeout)
}

func TestClient_logout(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		tag := srv.Expect("LOGOUT")
		srv.Writef("* BYE logging out")
		srv.Writef("%v OK LOGOUT completed", tag)
	})

	client := imapclient.New(clientConn, nil)
	require.NoError(t, client.Logout())
	assert.Equal(t, imap.ConnStateLogout, client.State())
	assert.False(t, client.IsConnected())
	<-done

	assert.ErrorIs(t, client.Noop(), imapclient.ErrClosed)
}

func TestClient_commandTimeout(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	release := make(chan struct{})
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		srv.Expect("NOOP")
		<-release
	})

	client := imapclient.New(clientConn, &imapclient.Options{CommandTimeout: 50 * time.Millisecond})
	err := client.Noop()
	require.Error(t, err)
	close(release)
	<-done

	assert.True(t, client.StreamHealth().TimedOut)
	assert.False(t, client.StreamHealth().EOF)
}

func TestClient_eof(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		srv.Close()
	})

	client := imapclient.New(clientConn, nil)
	require.NoError(t, client.WaitGreeting())
	<-done

	_, err := client.ReadLine(time.Second)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, client.StreamHealth().EOF)
	assert.True(t, client.IsConnected())
}

func TestClient_closeInterruptsRead(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
	})

	client := imapclient.New(clientConn, nil)
	require.NoError(t, client.WaitGreeting())
	<-done

	go func() {
		time.Sleep(20 * time.Millisecond)
		client.Close()
	}()
	_, err := client.ReadLine(0)
	assert.Error(t, err)
	assert.False(t, client.IsConnected())
}

func TestClient_debugWriter(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1")
		srv.ExpectOK("NOOP")
	})

	var debug bytes.Buffer
	client := imapclient.New(clientConn, &imapclient.Options{DebugWriter: &debug})
	require.NoError(t, client.Noop())
	<-done

	assert.Contains(t, debug.String(), "T1 NOOP\r\n")
	assert.Contains(t, debug.String(), "T1 OK NOOP completed\r\n")
}
