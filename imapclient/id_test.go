package imapclient_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imap-idle/imapclient"
	"github.com/emersion/go-imap-idle/internal/imaptest"
)

func TestClient_id(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1", "ID")
		tag := srv.Expect(`ID ("name" "imapidle" "version" "1.0")`)
		srv.Writef(`* ID ("name" "Dovecot" "os" NIL)`)
		srv.Writef("%v OK ID completed", tag)
		tag = srv.Expect("ID NIL")
		srv.Writef("* ID NIL")
		srv.Writef("%v OK ID completed", tag)
	})

	client := imapclient.New(clientConn, nil)
	fields, err := client.ID(map[string]string{"version": "1.0", "name": "imapidle"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Dovecot", "os": ""}, fields)

	fields, err = client.ID(nil)
	require.NoError(t, err)
	assert.Nil(t, fields)
	<-done
}

func TestDialer_id(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Greet("IMAP4rev1", "ID")
		tag := srv.Expect(`LOGIN "alice" "secret"`)
		srv.Writef("%v OK [CAPABILITY IMAP4rev1 IDLE ID] logged in", tag)
		tag = srv.Expect(`ID ("name" "imapidle")`)
		srv.Writef(`* ID ("name" "Dovecot")`)
		srv.Writef("%v OK ID completed", tag)
	})

	dialer := pipeDialer(clientConn)
	dialer.ID = map[string]string{"name": "imapidle"}
	_, err := dialer.Dial()
	require.NoError(t, err)
	<-done
}

func TestDialer_idUnsupported(t *testing.T) {
	clientConn, srv := imaptest.NewPipe(t)
	done := srv.Run(func() {
		srv.Writef("* PREAUTH [CAPABILITY IMAP4rev1 IDLE] welcome")
	})

	dialer := pipeDialer(clientConn)
	dialer.ID = map[string]string{"name": "imapidle"}
	_, err := dialer.Dial()
	require.NoError(t, err)
	<-done
}
