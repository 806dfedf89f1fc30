package ebpf

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// ProgramSpec describes a pre-compiled eBPF program and where to attach it.
type ProgramSpec struct {
	Name       string
	Category   string
	ObjectFile string // path to the compiled .o, relative to the process cwd
	MapNames   []string
	AttachTo   string // kprobe/tracepoint target
	Section    string // ELF section name the program lives under in the .o
}

// LoadedProgram is a program loaded into the kernel and attached, ready
// to be polled and eventually closed.
type LoadedProgram struct {
	Spec       *ProgramSpec
	Collection *ebpf.Collection
	Link       link.Link
}

// Close detaches the program and releases its kernel-side maps/programs.
func (p *LoadedProgram) Close() error {
	if p.Link != nil {
		p.Link.Close()
	}
	if p.Collection != nil {
		p.Collection.Close()
	}
	return nil
}

// Loader loads native eBPF programs when the host's BTF/CO-RE posture
// allows it, and fails closed with a LoadError otherwise.
type Loader struct {
	btfInfo *BTFInfo
	verbose bool
}

// NewLoader builds a Loader, detecting BTF support immediately so
// CanLoad is cheap to call repeatedly.
func NewLoader(verbose bool) *Loader {
	return &Loader{btfInfo: DetectBTF(), verbose: verbose}
}

// CanLoad reports whether the host supports native CO-RE eBPF loading.
func (l *Loader) CanLoad() bool {
	return l.btfInfo.Available && l.btfInfo.CORESupport
}

// LoadError wraps a program-load failure with the program name that
// failed, so a caller can report it without re-deriving context.
type LoadError struct {
	Program string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("BPF program %q: %v", e.Program, e.Err)
}

// TryLoad loads spec's object file, instantiates it in the kernel, and
// attaches it: as a tracepoint when Section has the form
// "tracepoint/<group>/<name>", else as a kprobe on AttachTo. Every failure mode —
// missing CO-RE support, a bad object file, a missing program, a failed
// attach — returns a *LoadError rather than panicking, so scanners can
// degrade to a single structured error.
func (l *Loader) TryLoad(ctx context.Context, spec *ProgramSpec) (*LoadedProgram, error) {
	if !l.CanLoad() {
		return nil, &LoadError{
			Program: spec.Name,
			Err:     fmt.Errorf("BTF/CO-RE not available (kernel %s)", l.btfInfo.KernelVersion),
		}
	}

	collSpec, err := ebpf.LoadCollectionSpec(spec.ObjectFile)
	if err != nil {
		return nil, &LoadError{Program: spec.Name, Err: fmt.Errorf("load spec: %w", err)}
	}

	coll, err := ebpf.NewCollection(collSpec)
	if err != nil {
		return nil, &LoadError{Program: spec.Name, Err: fmt.Errorf("load collection: %w", err)}
	}

	prog, err := resolveProgram(coll, spec.Section)
	if err != nil {
		coll.Close()
		return nil, &LoadError{Program: spec.Name, Err: err}
	}

	var kp link.Link
	if tp, ok := strings.CutPrefix(spec.Section, "tracepoint/"); ok {
		group, name, _ := strings.Cut(tp, "/")
		kp, err = link.Tracepoint(group, name, prog, nil)
	} else {
		kp, err = link.Kprobe(spec.AttachTo, prog, nil)
	}
	if err != nil {
		coll.Close()
		return nil, &LoadError{Program: spec.Name, Err: fmt.Errorf("attach %s: %w", spec.AttachTo, err)}
	}

	if l.verbose {
		log.Printf("ebpf: loaded %s (attach=%s)", spec.Name, spec.AttachTo)
	}
	return &LoadedProgram{Spec: spec, Collection: coll, Link: kp}, nil
}

// resolveProgram finds the program named by section in coll. When the
// named section isn't present but the collection holds exactly one
// program, that program is used — ambiguous collections with more than
// one candidate are rejected rather than guessed at.
func resolveProgram(coll *ebpf.Collection, section string) (*ebpf.Program, error) {
	if prog, ok := coll.Programs[section]; ok {
		return prog, nil
	}
	if len(coll.Programs) == 1 {
		for _, p := range coll.Programs {
			return p, nil
		}
	}
	return nil, fmt.Errorf("program %q not found and collection is ambiguous (%d candidates)", section, len(coll.Programs))
}

// TierDecision records whether a collector can use native tier-3 eBPF
// tracing on this host, and why not when it can't.
type TierDecision struct {
	Collector string
	UseTier3  bool
	Reason    string
}

// DecideTier reports whether loader l can attempt tier-3 native eBPF
// tracing for the named collector. Scanners fold the reason into their
// degrade-path error detail instead of surfacing a bare LoadError.
func DecideTier(collector string, l *Loader) TierDecision {
	if l.CanLoad() {
		return TierDecision{Collector: collector, UseTier3: true}
	}
	reason := fmt.Sprintf("BTF/CO-RE unavailable (kernel %s)", l.btfInfo.KernelVersion)
	if !l.btfInfo.Available {
		reason = "no /sys/kernel/btf/vmlinux exposed on this host"
	}
	return TierDecision{Collector: collector, UseTier3: false, Reason: reason}
}

// NativePrograms lists the tracer skeletons this build ships with.
var NativePrograms = []ProgramSpec{TraceProgram}
