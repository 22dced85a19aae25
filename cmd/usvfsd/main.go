package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"usvfs/internal/logging"
	"usvfs/internal/manager"

	"bazil.org/fuse"
	"github.com/sirupsen/logrus"
)

var log = logging.Get("main")

// linkList collects repeatable SRC=DST flag values.
type linkList []string

func (l *linkList) String() string { return strings.Join(*l, ",") }

func (l *linkList) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected SRC=DST, got %q", v)
	}
	*l = append(*l, v)
	return nil
}

func splitLink(v string) (src, dst string) {
	i := strings.Index(v, "=")
	return v[:i], v[i+1:]
}

func main() {
	var fileLinks, dirLinks linkList
	stateFile := flag.String("state", "usvfs-policy.json", "Policy state file path")
	upperDir := flag.String("upper", "", "Upper directory for write redirection")
	useNamespace := flag.Bool("namespace", false, "Serve mounts from a child in a fresh user+mount namespace")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	execCmd := flag.String("exec", "", "Command to launch hooked under the mounts")
	workDir := flag.String("workdir", "", "Working directory for -exec")
	servePlan := flag.String("serve-plan", "", "Internal: serve one mount from a plan file")
	flag.Var(&fileLinks, "link-file", "Map a file: SRC=DST (repeatable)")
	flag.Var(&dirLinks, "link-dir", "Map a directory recursively: SRC=DST (repeatable)")
	flag.Parse()

	if *verbose {
		logging.SetLevel(logrus.DebugLevel)
	}
	if os.Getenv("FUSE_DEBUG") != "" {
		fuse.Debug = func(msg interface{}) { log.Trace("%v", msg) }
	}

	if *servePlan != "" {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		if err := manager.ServePlan(*servePlan, sigChan); err != nil {
			log.Error("serve-plan: %v", err)
			os.Exit(1)
		}
		return
	}

	log.Info("Starting usvfsd...")

	mgr, err := manager.New(*stateFile)
	if err != nil {
		log.Error("Failed to initialize manager: %v", err)
		os.Exit(1)
	}
	mgr.UseMountNamespace(*useNamespace)
	if *upperDir != "" {
		mgr.SetUpperDir(*upperDir)
	}

	for _, l := range dirLinks {
		src, dst := splitLink(l)
		if err := mgr.VirtualLinkDirectoryStatic(src, dst, manager.Recursive); err != nil {
			log.Error("link-dir %s: %v", l, err)
			os.Exit(1)
		}
	}
	for _, l := range fileLinks {
		src, dst := splitLink(l)
		if err := mgr.VirtualLinkFile(src, dst, 0); err != nil {
			log.Error("link-file %s: %v", l, err)
			os.Exit(1)
		}
	}

	if err := mgr.Mount(); err != nil {
		log.Error("Mount failed: %v", err)
		os.Exit(1)
	}
	log.Info("All mounts active")

	if *execCmd != "" {
		pid, err := mgr.CreateProcessHooked("/bin/sh", "-c "+shellQuote(*execCmd), *workDir, nil)
		if err != nil {
			log.Error("exec: %v", err)
		} else {
			log.Info("hooked child pid=%d", pid)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received signal %v, unmounting", sig)

	if err := mgr.Unmount(); err != nil {
		log.Error("Unmount failed: %v", err)
		os.Exit(1)
	}
	log.Info("Clean shutdown complete")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
