package fakechat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nugget/netcore/internal/chat"
)

type recordingListener struct {
	alerts     chan []string
	incoming   chan chat.Request
	disconnect chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		alerts:     make(chan []string, 4),
		incoming:   make(chan chat.Request, 4),
		disconnect: make(chan struct{}),
	}
}

func (l *recordingListener) OnIncomingRequest(req chat.Request) { l.incoming <- req }
func (l *recordingListener) OnAlerts(alerts []string)           { l.alerts <- alerts }
func (l *recordingListener) OnDisconnect()                      { close(l.disconnect) }

func TestLocalSendReceivesRemoteResponse(t *testing.T) {
	t.Parallel()
	local, remote := New(nil)

	done := make(chan struct{})
	var resp chat.Response
	var err error
	go func() {
		resp, err = local.Send(context.Background(), chat.Request{Verb: "GET", Path: "/v1/ping"}, time.Second)
		close(done)
	}()

	req, ok := remote.ReceiveRequest(context.Background())
	if !ok {
		t.Fatalf("ReceiveRequest: did not get request")
	}
	if req.Verb != "GET" || req.Path != "/v1/ping" {
		t.Fatalf("got req %+v", req)
	}
	remote.SendResponse(chat.Response{Status: 200, ID: req.ID})

	<-done
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("resp.Status = %d, want 200", resp.Status)
	}
}

func TestLocalSendTimesOut(t *testing.T) {
	t.Parallel()
	local, _ := New(nil)
	_, err := local.Send(context.Background(), chat.Request{Verb: "GET", Path: "/x"}, 10*time.Millisecond)
	if !errors.Is(err, chat.ErrRequestTimedOut) {
		t.Fatalf("err = %v, want ErrRequestTimedOut", err)
	}
}

func TestRemoteSendRequestDeliversToListener(t *testing.T) {
	t.Parallel()
	listener := newRecordingListener()
	_, remote := New(listener)

	remote.SendRequest(chat.Request{Verb: "PUT", Path: "/v1/push"})

	select {
	case req := <-listener.incoming:
		if req.Path != "/v1/push" {
			t.Fatalf("got %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnIncomingRequest")
	}
}

func TestRemoteSendAlertsDeliversToListener(t *testing.T) {
	t.Parallel()
	listener := newRecordingListener()
	_, remote := New(listener)

	remote.SendAlerts([]string{"disk-full", "battery-low"})

	select {
	case alerts := <-listener.alerts:
		if len(alerts) != 2 || alerts[0] != "disk-full" || alerts[1] != "battery-low" {
			t.Fatalf("got %v", alerts)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnAlerts")
	}
}

func TestRemoteSendCloseDisconnectsLocal(t *testing.T) {
	t.Parallel()
	listener := newRecordingListener()
	local, remote := New(listener)

	resultCh := make(chan error, 1)
	go func() {
		_, err := local.Send(context.Background(), chat.Request{Verb: "GET", Path: "/x"}, time.Second)
		resultCh <- err
	}()

	// Let the request reach the in-flight table before closing.
	<-remote.out

	remote.SendClose(PolicyViolationCode)

	select {
	case err := <-resultCh:
		if !errors.Is(err, chat.ErrDisconnected) {
			t.Fatalf("err = %v, want ErrDisconnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Send to resolve")
	}

	select {
	case <-listener.disconnect:
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect was not called")
	}
}

func TestLocalDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()
	local, _ := New(nil)
	if err := local.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := local.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}
