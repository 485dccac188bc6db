package supervisor

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Stopper is anything the guard can stop at shutdown.
type Stopper interface {
	Stop()
}

// Guard tracks live supervisors so a host can stop every child on exit.
type Guard struct {
	mu      sync.Mutex
	next    uint64
	members map[uint64]Stopper

	logger *slog.Logger

	// raise re-delivers a caught signal with its default disposition.
	raise func(os.Signal)
}

// DefaultGuard is the process-wide guard a Supervisor joins while its child
// is alive, unless Config.Guard says otherwise. main should defer
// DefaultGuard.Shutdown().
var DefaultGuard = NewGuard(nil)

// NewGuard creates an empty guard. A nil logger uses slog.Default at log time.
func NewGuard(logger *slog.Logger) *Guard {
	return &Guard{
		members: make(map[uint64]Stopper),
		logger:  logger,
		raise:   reraise,
	}
}

func (g *Guard) log() *slog.Logger {
	if g.logger != nil {
		return g.logger
	}
	return slog.Default()
}

// Register adds s to the guard. The returned func removes it and is safe to
// call more than once.
func (g *Guard) Register(s Stopper) (deregister func()) {
	g.mu.Lock()
	id := g.next
	g.next++
	g.members[id] = s
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.members, id)
		g.mu.Unlock()
	}
}

// Len returns the number of registered members.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Shutdown stops every registered member concurrently and waits for all of them.
// Members stay registered; Stop is idempotent.
func (g *Guard) Shutdown() {
	g.mu.Lock()
	members := make([]Stopper, 0, len(g.members))
	for _, s := range g.members {
		members = append(members, s)
	}
	g.mu.Unlock()

	if len(members) == 0 {
		return
	}

	g.log().Debug("guard_shutdown", "members", len(members))

	var wg sync.WaitGroup
	for _, s := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()
}

// StopOnSignal runs Shutdown when one of signals arrives, then re-raises it
// so the host terminates as it would have without the handler.
// The returned func uninstalls the handler.
func (g *Guard) StopOnSignal(signals ...os.Signal) (cancel func()) {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)

	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			g.log().Warn("shutdown_signal",
				"signal", sig.String(),
				"members", g.Len(),
			)
			g.Shutdown()
			g.raise(sig)
		case <-done:
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func reraise(sig os.Signal) {
	signal.Reset(sig)
	if s, ok := sig.(syscall.Signal); ok {
		_ = syscall.Kill(os.Getpid(), s)
	}
}
