package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"atomic-deploy/cmd"
	"atomic-deploy/internal/joberrors"

	"golang.org/x/term"
)

func main() {
	// Capture original terminal state (if stdin is a TTY) so we can restore on forced exit.
	var origState *term.State
	if fi, _ := os.Stdin.Stat(); (fi.Mode() & os.ModeCharDevice) != 0 {
		if st, err := term.GetState(int(os.Stdin.Fd())); err == nil {
			origState = st
		}
	}

	forceExit := func(code int) {
		if origState != nil {
			_ = term.Restore(int(os.Stdin.Fd()), origState)
		}
		os.Exit(code)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	done := make(chan struct{})

	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = cmd.ExecuteContext(ctx)
		close(done)
	}()

	var first int32

waitLoop:
	for {
		select {
		case sig := <-sigs:
			if sig == os.Interrupt || sig == syscall.SIGTERM {
				if atomic.CompareAndSwapInt32(&first, 0, 1) {
					log.Println("interrupt received (Ctrl+C). Attempting graceful shutdown... (press Ctrl+C again to force)")
					cancel()
					select {
					case <-done:
						break waitLoop
					case sig2 := <-sigs:
						log.Printf("second signal (%v) received -> force exit\n", sig2)
						forceExit(130)
					case <-time.After(5 * time.Second):
						log.Println("timeout waiting for goroutine, forcing exit")
						forceExit(1)
					}
				} else {
					forceExit(130)
				}
			}
		case <-done:
			break waitLoop
		}
	}

	wg.Wait()

	if origState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), origState)
	}

	os.Exit(exitCode(runErr))
}

// exitCode maps a command error to the process exit code: 0 on success,
// 2 for ConfigInvalid errors (an invalid config file, or an invalid
// --log-level, --if-exists or --runs value), and 1 for anything else,
// including any run failure and cobra's own argument-count and
// unknown-flag errors.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var jerr *joberrors.Error
	if errors.As(err, &jerr) && jerr.Kind == joberrors.ConfigInvalid {
		return 2
	}
	return 1
}
