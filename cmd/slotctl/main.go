// slotctl is the control CLI for slotd: process lifecycle, permission
// diagnostics, and login-item installation.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"slotd/internal/agent"
	"slotd/internal/config"
	"slotd/internal/tap"
)

var (
	configPath = flag.String("config", "", "path to config file")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "start":
		cmdStart()
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "doctor":
		cmdDoctor()
	case "install":
		cmdInstall()
	case "uninstall":
		cmdUninstall()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `slotctl - Control utility for slotd

Usage: slotctl [options] <command>

Commands:
  start       Start the agent in the background
  stop        Stop the running agent
  status      Show agent status
  doctor      Check permissions and configuration
  install     Install the agent as a login item (macOS)
  uninstall   Remove the login item (macOS)
  help        Show this help message

Options:
  -config <path>  Path to config file`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func manager() *agent.Manager {
	return agent.NewManager(agent.DefaultDir())
}

// findAgentBinary looks for slotd next to this executable, then on PATH.
func findAgentBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "slotd")
		if runtime.GOOS == "windows" {
			candidate += ".exe"
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return exec.LookPath("slotd")
}

func cmdStart() {
	mgr := manager()
	if mgr.IsRunning() {
		pid, _ := mgr.ReadPID()
		fmt.Printf("Agent already running (pid %d)\n", pid)
		return
	}

	bin, err := findAgentBinary()
	if err != nil {
		fatal("cannot find slotd binary: %v", err)
	}

	args := []string{}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		fatal("start agent: %v", err)
	}
	if err := cmd.Process.Release(); err != nil {
		fatal("release agent process: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.IsRunning() {
			pid, _ := mgr.ReadPID()
			fmt.Printf("Agent started (pid %d)\n", pid)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fatal("agent did not come up; run 'slotctl doctor' or start slotd in the foreground to see why")
}

func cmdStop() {
	mgr := manager()
	if !mgr.IsRunning() {
		fmt.Println("Agent is not running")
		return
	}
	if err := mgr.SignalStop(); err != nil {
		fatal("stop agent: %v", err)
	}
	if err := mgr.WaitForStop(5 * time.Second); err != nil {
		fatal("%v", err)
	}
	fmt.Println("Agent stopped")
}

func cmdStatus() {
	status, err := manager().CurrentStatus()
	if err != nil {
		fatal("read status: %v", err)
	}
	if !status.Running {
		fmt.Println("Agent: not running")
		return
	}
	fmt.Printf("Agent: running (pid %d)\n", status.PID)
	if status.Version != "" {
		fmt.Printf("Version: %s\n", status.Version)
	}
	if !status.StartedAt.IsZero() {
		fmt.Printf("Started: %s (up %s)\n",
			status.StartedAt.Format(time.RFC3339), status.Uptime.Round(time.Second))
	}
}

func cmdDoctor() {
	ok := true

	granted, detail := tap.CheckPermission()
	if granted {
		fmt.Println("✓ Keyboard interception authorized")
	} else {
		ok = false
		fmt.Printf("✗ Keyboard interception: %s\n", detail)
		if runtime.GOOS == "darwin" {
			fmt.Println("  Opening the Accessibility settings pane...")
			if err := tap.OpenPermissionSettings(); err != nil {
				fmt.Printf("  Could not open settings: %v\n", err)
			}
			fmt.Println("  Grant access to slotd, then run 'slotctl doctor' again.")
		}
	}

	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if cfg, err := config.Load(path); err != nil {
		ok = false
		fmt.Printf("✗ Config %s: %v\n", path, err)
	} else {
		fmt.Printf("✓ Config %s (window %dms, overlay ports %d/%d)\n",
			path, cfg.Timing.SelectWindowMs, cfg.Overlay.OverlayPort, cfg.Overlay.AgentPort)
		fmt.Printf("✓ Slot database path %s\n", cfg.Storage.Path)
	}

	if manager().IsRunning() {
		fmt.Println("✓ Agent is running")
	} else {
		fmt.Println("· Agent is not running (start with 'slotctl start')")
	}

	if !ok {
		os.Exit(1)
	}
}

const launchAgentLabel = "io.slotd.agent"

func launchAgentPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "LaunchAgents", launchAgentLabel+".plist")
}

func cmdInstall() {
	if runtime.GOOS != "darwin" {
		fatal("install is only supported on macOS; use your init system to run slotd at login")
	}
	bin, err := findAgentBinary()
	if err != nil {
		fatal("cannot find slotd binary: %v", err)
	}
	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`, launchAgentLabel, bin)

	path := launchAgentPath()
	if path == "" {
		fatal("cannot determine home directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fatal("create LaunchAgents dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(plist), 0644); err != nil {
		fatal("write launch agent: %v", err)
	}
	if out, err := exec.Command("launchctl", "load", path).CombinedOutput(); err != nil {
		fatal("launchctl load: %v\n%s", err, out)
	}
	fmt.Printf("Installed launch agent: %s\n", path)
}

func cmdUninstall() {
	if runtime.GOOS != "darwin" {
		fatal("uninstall is only supported on macOS")
	}
	path := launchAgentPath()
	if path == "" {
		fatal("cannot determine home directory")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Println("Launch agent is not installed")
		return
	}
	if out, err := exec.Command("launchctl", "unload", path).CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "launchctl unload: %v\n%s", err, out)
	}
	if err := os.Remove(path); err != nil {
		fatal("remove launch agent: %v", err)
	}
	fmt.Println("Removed launch agent")
}
