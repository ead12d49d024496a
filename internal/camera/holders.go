package camera

import (
	"context"
	"log"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// =============================================================================
// Device holders
// =============================================================================
// A capture node can only be opened by one process. A previous FFmpeg left
// behind by a crash keeps the node busy, so before streaming we look up the
// holders (lsof, then fuser), send SIGTERM, wait a grace period and SIGKILL
// whatever survived. Our own PID is never touched.
// =============================================================================

// holderGrace is the pause between SIGTERM and SIGKILL.
const holderGrace = 400 * time.Millisecond

// FreeDevice terminates other processes holding devicePath and reports
// whether any were signalled.
func FreeDevice(devicePath string) bool {
	pids := holdersFromLsof(devicePath)
	if len(pids) == 0 {
		pids = holdersFromFuser(devicePath)
	}
	delete(pids, os.Getpid())
	if len(pids) == 0 {
		return false
	}

	sorted := make([]int, 0, len(pids))
	for pid := range pids {
		sorted = append(sorted, pid)
	}
	sort.Ints(sorted)
	log.Printf("[Holders] Releasing %s from PIDs %v", devicePath, sorted)

	signalAll(devicePath, sorted, syscall.SIGTERM)
	time.Sleep(holderGrace)

	var survivors []int
	for _, pid := range sorted {
		if syscall.Kill(pid, 0) == nil {
			survivors = append(survivors, pid)
		}
	}
	signalAll(devicePath, survivors, syscall.SIGKILL)
	return true
}

func signalAll(devicePath string, pids []int, sig syscall.Signal) {
	for _, pid := range pids {
		err := syscall.Kill(pid, sig)
		if err == nil {
			continue
		}
		if err == syscall.EPERM || err == syscall.EACCES {
			// not ours; let fuser try with elevated rights
			runTool("sudo", "-n", "fuser", "-k", devicePath)
			return
		}
		log.Printf("[Holders] %v to PID %d failed: %v", sig, pid, err)
	}
}

func holdersFromLsof(devicePath string) map[int]struct{} {
	pids := make(map[int]struct{})
	for _, line := range strings.Split(runTool("lsof", "-t", devicePath), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && pid > 0 {
			pids[pid] = struct{}{}
		}
	}
	return pids
}

var pidPattern = regexp.MustCompile(`\b(\d+)\b`)

func holdersFromFuser(devicePath string) map[int]struct{} {
	pids := make(map[int]struct{})
	for _, m := range pidPattern.FindAllString(runTool("fuser", devicePath), -1) {
		if pid, err := strconv.Atoi(m); err == nil && pid > 0 {
			pids[pid] = struct{}{}
		}
	}
	return pids
}

// runTool runs a helper with a 2 s timeout; failures yield "".
func runTool(name string, args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
