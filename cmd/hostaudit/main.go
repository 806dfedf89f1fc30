// hostaudit — Linux host security posture enumerator.
//
// Walks /proc, /sys, and on-disk configuration to surface
// misconfigurations, indicators of compromise, and hardening gaps as a
// structured finding report.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/output"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/progress"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/rules"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanner"
)

var version = "0.1.0"

func main() {
	cfg := config.Default()
	var outputFile string
	var enableCSV, disableCSV string
	var networkStatesCSV, iocAllowCSV, suidExpectedAddCSV string
	var worldWritableDirsCSV, worldWritableExcludeCSV string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:     "hostaudit",
		Short:   "Linux host security posture enumerator",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.EnableScanners = splitCSV(enableCSV)
			cfg.DisableScanners = splitCSV(disableCSV)
			cfg.NetworkStates = splitCSV(networkStatesCSV)
			cfg.IOCAllow = splitCSV(iocAllowCSV)
			cfg.SUIDExpectedAdd = splitCSV(suidExpectedAddCSV)
			cfg.WorldWritableDirs = splitCSV(worldWritableDirsCSV)
			cfg.WorldWritableExclude = splitCSV(worldWritableExcludeCSV)

			return run(cfg, outputFile, verbose)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&enableCSV, "enable", "", "comma-separated scanner names to enable exclusively")
	flags.StringVar(&disableCSV, "disable", "", "comma-separated scanner names to disable")
	flags.StringVar(&cfg.MinSeverity, "min-severity", cfg.MinSeverity, "floor severity for findings")
	flags.StringVar(&cfg.FailOnSeverity, "fail-on", cfg.FailOnSeverity, "exit non-zero at or above this severity")
	flags.IntVar(&cfg.FailOnCount, "fail-on-count", cfg.FailOnCount, "exit non-zero at or above this finding count (-1 = unlimited)")
	flags.BoolVar(&cfg.AllProcesses, "all-processes", cfg.AllProcesses, "include processes with empty cmdline")
	flags.BoolVar(&cfg.ProcessHash, "process-hash", cfg.ProcessHash, "hash process executables")
	flags.BoolVar(&cfg.ProcessInventory, "process-inventory", cfg.ProcessInventory, "emit a finding per process")
	flags.IntVar(&cfg.MaxProcesses, "max-processes", cfg.MaxProcesses, "cap processes inspected (-1 = unlimited)")
	flags.IntVar(&cfg.MaxSockets, "max-sockets", cfg.MaxSockets, "cap sockets inspected (-1 = unlimited)")
	flags.BoolVar(&cfg.ModulesSummaryOnly, "modules-summary-only", cfg.ModulesSummaryOnly, "emit one module summary finding")
	flags.BoolVar(&cfg.ModulesAnomaliesOnly, "modules-anomalies-only", cfg.ModulesAnomaliesOnly, "emit only anomalous module findings")
	flags.BoolVar(&cfg.ModulesHash, "modules-hash", cfg.ModulesHash, "hash loaded kernel module files")
	flags.BoolVar(&cfg.NetworkListenOnly, "network-listen-only", cfg.NetworkListenOnly, "restrict network scan to listening sockets")
	flags.StringVar(&cfg.NetworkProto, "network-proto", cfg.NetworkProto, "comma-separated protocols (tcp,tcp6,udp,udp6)")
	flags.StringVar(&networkStatesCSV, "network-states", "", "comma-separated TCP states to include")
	flags.BoolVar(&cfg.NetworkAdvanced, "network-advanced", cfg.NetworkAdvanced, "enable fanout analytics")
	flags.IntVar(&cfg.NetworkFanoutThreshold, "network-fanout", cfg.NetworkFanoutThreshold, "fanout total-connection threshold")
	flags.IntVar(&cfg.NetworkFanoutUniqueThreshold, "network-fanout-unique", cfg.NetworkFanoutUniqueThreshold, "fanout unique-remote threshold")
	flags.BoolVar(&cfg.NetworkDebug, "network-debug", cfg.NetworkDebug, "verbose network scan diagnostics")
	flags.StringVar(&iocAllowCSV, "ioc-allow", "", "comma-separated IOC allowlist substrings")
	flags.StringVar(&cfg.IOCAllowFile, "ioc-allow-file", cfg.IOCAllowFile, "file of IOC allowlist substrings")
	flags.BoolVar(&cfg.IOCEnvTrust, "ioc-env-trust", cfg.IOCEnvTrust, "suppress environment-based IOC checks")
	flags.BoolVar(&cfg.IOCExecTrace, "ioc-exec-trace", cfg.IOCExecTrace, "enable the eBPF exec/connect tracer")
	flags.IntVar(&cfg.IOCExecTraceSeconds, "ioc-exec-trace-sec", cfg.IOCExecTraceSeconds, "eBPF tracer poll window in seconds")
	flags.StringVar(&suidExpectedAddCSV, "suid-expected", "", "comma-separated additional expected SUID paths")
	flags.StringVar(&cfg.SUIDExpectedFile, "suid-expected-file", cfg.SUIDExpectedFile, "file of additional expected SUID paths")
	flags.BoolVar(&cfg.FSHygiene, "fs-hygiene", cfg.FSHygiene, "enable PATH/interpreter/capability/hardlink checks")
	flags.IntVar(&cfg.FSWorldWritableLimit, "fs-world-writable-limit", cfg.FSWorldWritableLimit, "cap world-writable findings (-1 = unlimited)")
	flags.StringVar(&worldWritableDirsCSV, "world-writable-dirs", "", "comma-separated roots to sweep for world-writable files")
	flags.StringVar(&worldWritableExcludeCSV, "world-writable-exclude", "", "comma-separated substrings to exclude")
	flags.BoolVar(&cfg.Hardening, "hardening", cfg.Hardening, "enable kernel hardening checks")
	flags.BoolVar(&cfg.Containers, "containers", cfg.Containers, "enable container attribution")
	flags.StringVar(&cfg.ContainerIDFilter, "container-id", cfg.ContainerIDFilter, "restrict output to one container id")
	flags.BoolVar(&cfg.RulesEnable, "rules-enable", cfg.RulesEnable, "enable the post-scan rule engine")
	flags.StringVar(&cfg.RulesDir, "rules-dir", cfg.RulesDir, "directory of rule YAML files")
	flags.BoolVar(&cfg.RulesAllowLegacy, "rules-allow-legacy", cfg.RulesAllowLegacy, "accept rules with an unsupported version")
	flags.BoolVar(&cfg.Parallel, "parallel", cfg.Parallel, "run scanners over a bounded worker pool")
	flags.IntVar(&cfg.ParallelMaxThreads, "parallel-threads", cfg.ParallelMaxThreads, "worker pool size")
	flags.BoolVar(&cfg.Integrity, "integrity", cfg.Integrity, "no effect on its own; --integrity-ima and --integrity-pkg-verify select the integrity checks")
	flags.BoolVar(&cfg.IntegrityIMA, "integrity-ima", cfg.IntegrityIMA, "check IMA measurement list presence")
	flags.BoolVar(&cfg.IntegrityPkgVerify, "integrity-pkg-verify", cfg.IntegrityPkgVerify, "run dpkg -V / rpm -Va")
	flags.IntVar(&cfg.IntegrityPkgLimit, "integrity-pkg-limit", cfg.IntegrityPkgLimit, "cap package mismatch findings (-1 = unlimited)")
	flags.BoolVar(&cfg.IntegrityPkgRehash, "integrity-pkg-rehash", cfg.IntegrityPkgRehash, "rehash mismatched package files")
	flags.IntVar(&cfg.IntegrityPkgRehashLimit, "integrity-pkg-rehash-limit", cfg.IntegrityPkgRehashLimit, "cap rehashed files (-1 = unlimited)")
	flags.BoolVar(&cfg.NoUserMeta, "no-user-meta", cfg.NoUserMeta, "suppress uid/gid metadata")
	flags.BoolVar(&cfg.NoCmdlineMeta, "no-cmdline-meta", cfg.NoCmdlineMeta, "suppress cmdline metadata")
	flags.BoolVar(&cfg.NoHostnameMeta, "no-hostname-meta", cfg.NoHostnameMeta, "suppress hostname metadata")
	flags.BoolVar(&cfg.FastScan, "fast-scan", cfg.FastScan, "disable heavy scanners (modules deep scan, integrity rehash, YARA, eBPF)")
	flags.BoolVar(&cfg.Timings, "timings", cfg.Timings, "include per-scanner durations")
	flags.StringVarP(&outputFile, "output", "o", "-", "output file path (- for stdout)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "print progress to stderr")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func allScanners() []scanner.Scanner {
	return []scanner.Scanner{
		scanner.NewProcessScanner(),
		scanner.NewNetworkScanner(),
		scanner.NewModuleScanner(),
		scanner.NewIOCScanner(),
		scanner.NewSuidScanner(),
		scanner.NewWorldWritableScanner(),
		scanner.NewKernelParamScanner(),
		scanner.NewMACScanner(),
		scanner.NewMountScanner(),
		scanner.NewKernelHardeningScanner(),
		scanner.NewSystemdUnitScanner(),
		scanner.NewAuditdScanner(),
		scanner.NewContainerScanner(),
		scanner.NewIntegrityScanner(),
		scanner.NewYaraScanner(),
		scanner.NewEbpfTraceScanner(),
	}
}

func run(cfg *config.Config, outputFile string, verbose bool) error {
	reporter := progress.New(verbose)
	registry := scanner.NewRegistry()

	loadFailure := false
	for _, s := range allScanners() {
		if err := registry.Register(s); err != nil {
			reporter.Log("scanner registration failed: %v", err)
			loadFailure = true
		}
	}

	report := model.NewReport(cfg.Timings)
	sc := scanctx.New(context.Background(), cfg, report)

	reporter.Log("starting scan with %d registered scanners", len(registry.Names()))
	registry.Run(sc)
	reporter.Log("scan complete")

	if cfg.RulesEnable && cfg.RulesDir != "" {
		engine := rules.NewEngine()
		warnings := engine.LoadDir(cfg.RulesDir, cfg.RulesAllowLegacy)
		for _, w := range warnings {
			report.AddWarning(w.Scanner, w.Code, w.Detail)
		}
		report.ForEachFinding(func(scannerName string, f *model.Finding) {
			engine.Apply(scannerName, f)
		})
	}

	floor := model.SeverityFromString(cfg.MinSeverity)
	if err := output.WriteJSON(report, outputFile, floor); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	failSeverity := model.SeverityFromString(cfg.FailOnSeverity)
	exitNonZero := loadFailure
	if report.CountAtOrAbove(failSeverity) > 0 {
		exitNonZero = true
	}
	if cfg.FailOnCount >= 0 && report.TotalFindings() >= cfg.FailOnCount {
		exitNonZero = true
	}
	if exitNonZero {
		os.Exit(1)
	}
	return nil
}
