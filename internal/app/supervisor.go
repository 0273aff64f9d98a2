package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Runner runs one component within the supervisor.
type Runner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor manages component lifecycles for the daemon.
type Supervisor struct {
	Log *zap.Logger
}

// Run starts all runners and waits for termination. The first component
// error stops the daemon; context cancellation is a clean shutdown.
func (s Supervisor) Run(ctx context.Context, runners []Runner) error {
	if len(runners) == 0 {
		return fmt.Errorf("no components enabled")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(runners))

	for _, runner := range runners {
		r := runner
		wg.Add(1)
		go func() {
			defer wg.Done()
			log := s.Log.With(zap.String("component", r.Name))
			log.Info("starting component")
			if err := r.Run(ctx); err != nil {
				log.Error("component exited", zap.Error(err))
				errCh <- fmt.Errorf("%s: %w", r.Name, err)
				return
			}
			log.Info("component stopped")
		}()
	}

	select {
	case <-ctx.Done():
		s.Log.Info("shutdown requested")
	case err := <-errCh:
		return err
	}

	wg.Wait()
	return nil
}
