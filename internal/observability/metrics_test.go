package observability

import (
	"testing"
	"time"

	"github.com/danmuck/wifikey/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordFrameSent("mouse_move", false)
	RecordFrameReceived("control_switch")
	RecordFrameRejected()
	RecordHandshake("accepted", 3*time.Millisecond)
	RecordHeartbeat("sent")
	RecordSendFailure("not_connected")
	RecordDiscoveryBroadcast("sent")
	RecordDiscoveryResponse("valid")
	RecordBytesSent(33)

	SetSessionConnected(true)
	if got := testutil.ToFloat64(sessionConnected); got != 1 {
		t.Fatalf("connected gauge=%v", got)
	}
	SetSessionConnected(false)
	if got := testutil.ToFloat64(sessionConnected); got != 0 {
		t.Fatalf("connected gauge=%v", got)
	}
	if got := testutil.ToFloat64(bytesSent); got < 33 {
		t.Fatalf("bytes sent=%v", got)
	}
}
