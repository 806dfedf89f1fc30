package scanner

import (
	"net"
	"strconv"
	"time"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/ebpf"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

const defaultExecTraceSeconds = 3

// EbpfTraceScanner loads a pre-built exec/connect tracing skeleton and
// polls its ring buffer for a bounded window, emitting one finding per
// captured event (§4.W). Any load/attach/poll failure degrades to a
// single structured error rather than aborting the run. It runs only
// when IOCExecTrace is set and fast-scan is off.
type EbpfTraceScanner struct {
	loader *ebpf.Loader
}

func NewEbpfTraceScanner() *EbpfTraceScanner {
	return &EbpfTraceScanner{loader: ebpf.NewLoader(false)}
}

func (s *EbpfTraceScanner) Name() string        { return "ebpf_trace" }
func (s *EbpfTraceScanner) Description() string { return "traces exec and outbound connect events via eBPF" }

func (s *EbpfTraceScanner) Scan(sc *scanctx.ScanContext) error {
	cfg := sc.Config
	if !cfg.IOCExecTrace || cfg.HeavyScannersDisabled() {
		return nil
	}

	seconds := cfg.IOCExecTraceSeconds
	if seconds <= 0 {
		seconds = defaultExecTraceSeconds
	}

	prog, err := s.loader.TryLoad(sc.Ctx, &ebpf.TraceProgram)
	if err != nil {
		decision := ebpf.DecideTier(ebpf.TraceProgram.Name, s.loader)
		detail := "load/attach failed: " + err.Error()
		if decision.Reason != "" {
			detail += " (" + decision.Reason + ")"
		}
		sc.AddError(s.Name(), model.UnknownWarning, detail)
		return nil
	}
	defer prog.Close()

	pollErr := ebpf.PollRingBuffer(sc.Ctx, prog, time.Duration(seconds)*time.Second,
		func(e ebpf.ExecEvent) {
			f := model.NewFinding("exec.trace:"+strconv.Itoa(int(e.PID))+":"+e.Comm, "Traced exec event", model.Info, "process exec captured by the live tracer")
			f.Metadata.Set("pid", strconv.Itoa(int(e.PID)))
			f.Metadata.Set("comm", e.Comm)
			f.Metadata.Set("source", "ebpf")
			f.Metadata.Set("collector", "exec")
			sc.AddFinding(s.Name(), f)
		},
		func(c ebpf.ConnEvent) {
			dst := formatDst(c)
			f := model.NewFinding("net.connect:"+strconv.Itoa(int(c.PID))+":"+dst, "Traced outbound connect", model.Info, "outbound TCP connect captured by the live tracer")
			f.Metadata.Set("pid", strconv.Itoa(int(c.PID)))
			f.Metadata.Set("comm", c.Comm)
			f.Metadata.Set("dst_ip", dst)
			f.Metadata.Set("dst_port", strconv.Itoa(int(c.DPort)))
			f.Metadata.Set("source", "ebpf")
			f.Metadata.Set("collector", "tcp_v4_connect")
			sc.AddFinding(s.Name(), f)
		},
	)
	if pollErr != nil {
		sc.AddError(s.Name(), model.UnknownWarning, "ring buffer poll failed: "+pollErr.Error())
	}
	return nil
}

func formatDst(c ebpf.ConnEvent) string {
	if !c.IsIPv6 {
		b := make([]byte, 4)
		b[0] = byte(c.DAddr)
		b[1] = byte(c.DAddr >> 8)
		b[2] = byte(c.DAddr >> 16)
		b[3] = byte(c.DAddr >> 24)
		return net.IP(b).String()
	}
	b := make([]byte, 16)
	for i, word := range c.DAddr6 {
		b[i*4] = byte(word)
		b[i*4+1] = byte(word >> 8)
		b[i*4+2] = byte(word >> 16)
		b[i*4+3] = byte(word >> 24)
	}
	return net.IP(b).String()
}
