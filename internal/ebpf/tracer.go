package ebpf

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf/ringbuf"
)

// TraceProgram is the pre-built skeleton the host scanner loads for
// exec/connect tracing. Its ring buffer map emits fixed-layout records
// distinguished by a leading event-type byte.
var TraceProgram = ProgramSpec{
	Name:       "hosttrace",
	Category:   "security",
	ObjectFile: "internal/ebpf/bpf/hosttrace.o",
	MapNames:   []string{"events"},
	AttachTo:   "sys_enter_execve",
	Section:    "tracepoint/syscalls/sys_enter_execve",
}

const (
	eventTypeExec = 1
	eventTypeConn = 2
)

// ExecEvent mirrors the kernel-side exec_event struct.
type ExecEvent struct {
	PID  uint32
	Comm string
}

// ConnEvent mirrors the kernel-side conn_event struct.
type ConnEvent struct {
	PID     uint32
	Comm    string
	DAddr   uint32
	DAddr6  [4]uint32
	DPort   uint16
	IsIPv6  bool
}

// PollRingBuffer reads the loaded program's "events" map as a ring
// buffer for up to duration, invoking onExec/onConn per decoded
// record. It returns on first read error (other than timeout) so the
// caller can emit a single structured error rather than looping
// forever against a broken ring buffer.
func PollRingBuffer(ctx context.Context, p *LoadedProgram, duration time.Duration, onExec func(ExecEvent), onConn func(ConnEvent)) error {
	m, ok := p.Collection.Maps["events"]
	if !ok {
		return fmt.Errorf("ebpf: events map not found in collection")
	}
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		return fmt.Errorf("ebpf: ring buffer create: %w", err)
	}
	defer rd.Close()

	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		rd.SetDeadline(time.Now().Add(200 * time.Millisecond))
		record, err := rd.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Deadline exceeded per poll tick is expected; keep polling
				// until the overall duration elapses.
				continue
			}
			return fmt.Errorf("ebpf: ring buffer read: %w", err)
		}
		decodeRecord(record.RawSample, onExec, onConn)
	}
	return nil
}

func decodeRecord(raw []byte, onExec func(ExecEvent), onConn func(ConnEvent)) {
	if len(raw) < 1 {
		return
	}
	switch raw[0] {
	case eventTypeExec:
		if len(raw) < 5+16 {
			return
		}
		pid := binary.LittleEndian.Uint32(raw[1:5])
		comm := cString(raw[5:21])
		onExec(ExecEvent{PID: pid, Comm: comm})
	case eventTypeConn:
		if len(raw) < 1+4+16+4+16+2+1 {
			return
		}
		off := 1
		pid := binary.LittleEndian.Uint32(raw[off : off+4])
		off += 4
		comm := cString(raw[off : off+16])
		off += 16
		daddr := binary.LittleEndian.Uint32(raw[off : off+4])
		off += 4
		var daddr6 [4]uint32
		for i := 0; i < 4; i++ {
			daddr6[i] = binary.LittleEndian.Uint32(raw[off : off+4])
			off += 4
		}
		dport := binary.LittleEndian.Uint16(raw[off : off+2])
		off += 2
		isIPv6 := raw[off] != 0
		onConn(ConnEvent{PID: pid, Comm: comm, DAddr: daddr, DAddr6: daddr6, DPort: dport, IsIPv6: isIPv6})
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
