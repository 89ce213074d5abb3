// Package supervisor wires SIGINT/SIGTERM into the lifecycle's child
// process and drives the bounded retry loop around release.
package supervisor

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/GothAck/chroot-venv/internal/buildroot"
	"github.com/GothAck/chroot-venv/internal/lifecycle"
)

const (
	releaseRetries = 3
	retryDelay     = time.Second
)

// latch holds the one process-wide (pid, halting) pair signal delivery
// needs; installation and forwarding are one-shot per Run call.
type latch struct {
	mu      sync.Mutex
	pid     int
	halting bool
}

func (l *latch) setPID(pid int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pid = pid
}

// forward sends sig to the child exactly once; subsequent calls after
// the first are no-ops so a second Ctrl-C doesn't re-signal a child
// that's already exiting.
func (l *latch) forward(sig os.Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halting {
		return
	}
	l.halting = true
	if l.pid > 0 {
		termSig, ok := sig.(syscall.Signal)
		if !ok {
			termSig = syscall.SIGTERM
		}
		if err := syscall.Kill(l.pid, termSig); err != nil {
			log.Warnf("supervisor: forward %s to pid %d: %v", sig, l.pid, err)
		}
	}
}

// Run acquires the lifecycle for cfg/originalRoot/args, forwards
// SIGINT/SIGTERM to the spawned child for as long as it runs, then
// releases with one attempt plus up to releaseRetries retries. It returns the child's
// exit status OR'd with 1 if any acquire or release step failed,
// matching the process exit code contract.
func Run(cfg *buildroot.Config, originalRoot string, args []string, keepFD map[int]bool, ledgerDir string) int {
	l := &latch{}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				l.forward(sig)
			case <-done:
				return
			}
		}
	}()

	state, stage, err := lifecycle.Start(cfg, originalRoot, args, keepFD, ledgerDir, l.setPID)
	close(done)
	failed := err != nil
	if err != nil {
		log.Errorf("acquire failed at stage %s: %v", stage, err)
	}

	// One initial attempt plus up to releaseRetries retries, sleeping
	// between attempts but not after the last one.
	releaseStage := stage
	for attempt := 0; attempt <= releaseRetries; attempt++ {
		releaseStage, err = lifecycle.Stop(cfg, state, releaseStage)
		if err == nil {
			break
		}
		failed = true
		log.Warnf("release attempt %d failed at stage %s: %v", attempt+1, releaseStage, err)
		if attempt < releaseRetries {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		log.Errorf("release did not complete; left at stage %s", releaseStage)
	}
	if state.Ledger != nil {
		if closeErr := state.Ledger.Close(); closeErr != nil {
			log.Warnf("supervisor: close ledger: %v", closeErr)
		}
	}

	exit := state.ExitStatus
	if failed {
		exit |= 1
	}
	return exit
}
