package matrix

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// pipeConn pairs a tcpLineConn with the far end of a net.Pipe acting
// as the device.
func pipeConn(t *testing.T) (*tcpLineConn, net.Conn) {
	t.Helper()
	client, device := net.Pipe()
	lc := newTCPLineConn(client)
	t.Cleanup(func() {
		//nolint:errcheck // teardown
		lc.Close()
		//nolint:errcheck // teardown
		device.Close()
	})
	return lc, device
}

// deviceWrite writes raw bytes from the device side. net.Pipe writes
// block until the reader consumes them, so this runs in a goroutine.
func deviceWrite(device net.Conn, data string) {
	go func() {
		//nolint:errcheck // scripted device
		device.Write([]byte(data))
	}()
}

// TestTCPLineConn_SendAndReceive verifies the round trip: commands go
// out CRLF-terminated and response lines come back stripped.
func TestTCPLineConn_SendAndReceive(t *testing.T) {
	lc, device := pipeConn(t)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := device.Read(buf)
		got <- string(buf[:n])
		//nolint:errcheck // scripted device
		device.Write([]byte("power on\r\n"))
	}()

	if err := lc.SendLine(context.Background(), "r power!"); err != nil {
		t.Fatalf("SendLine: %v", err)
	}
	if frame := <-got; frame != "r power!\r\n" {
		t.Errorf("frame = %q, want CRLF-terminated command", frame)
	}

	line, err := lc.ReceiveLine(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ReceiveLine: %v", err)
	}
	if line != "power on" {
		t.Errorf("line = %q, want %q", line, "power on")
	}
}

// TestTCPLineConn_PartialLineSurvivesTimeout verifies a line split
// across a read deadline is completed by the next read instead of the
// consumed bytes being discarded.
func TestTCPLineConn_PartialLineSurvivesTimeout(t *testing.T) {
	lc, device := pipeConn(t)

	deviceWrite(device, "output1->input2")

	if _, err := lc.ReceiveLine(context.Background(), 100*time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("err = %v, want ErrReadTimeout", err)
	}

	deviceWrite(device, "\r\n")

	line, err := lc.ReceiveLine(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ReceiveLine after timeout: %v", err)
	}
	if line != "output1->input2" {
		t.Errorf("line = %q, want %q", line, "output1->input2")
	}
}

// TestTCPLineConn_PartialAcrossMultipleTimeouts verifies accumulation
// holds across more than one deadline before the terminator arrives.
func TestTCPLineConn_PartialAcrossMultipleTimeouts(t *testing.T) {
	lc, device := pipeConn(t)

	deviceWrite(device, "output3->")
	if _, err := lc.ReceiveLine(context.Background(), 50*time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("first err = %v, want ErrReadTimeout", err)
	}

	deviceWrite(device, "input7")
	if _, err := lc.ReceiveLine(context.Background(), 50*time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("second err = %v, want ErrReadTimeout", err)
	}

	deviceWrite(device, "\r\n")
	line, err := lc.ReceiveLine(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ReceiveLine: %v", err)
	}
	if line != "output3->input7" {
		t.Errorf("line = %q, want %q", line, "output3->input7")
	}
}

// TestTCPLineConn_ClosedConn verifies operations on a closed
// connection fail fast with ErrNotConnected.
func TestTCPLineConn_ClosedConn(t *testing.T) {
	lc, _ := pipeConn(t)

	if err := lc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := lc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := lc.SendLine(context.Background(), "r power!"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendLine err = %v, want ErrNotConnected", err)
	}
	if _, err := lc.ReceiveLine(context.Background(), time.Second); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReceiveLine err = %v, want ErrNotConnected", err)
	}
}
