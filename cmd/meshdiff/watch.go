package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chazu/meshdiff/pkg/compare"
	"github.com/chazu/meshdiff/pkg/watcher"
)

var watchThreshold float64

var watchCmd = &cobra.Command{
	Use:   "watch [a] [b]",
	Short: "Re-run measure and match whenever either file changes",
	Args:  cobra.ExactArgs(2),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Float64Var(&watchThreshold, "threshold", 0, "match distance threshold (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	out := cmd.OutOrStdout()
	th := threshold(watchThreshold)
	var mu sync.Mutex
	report := func() {
		mu.Lock()
		defer mu.Unlock()
		if err := s.measureAndMatch(ctx, out, th); err != nil {
			logger.Warn("comparison failed", "err", err)
		}
	}

	for i, slot := range compare.Slots {
		if err := s.loadFile(ctx, slot, args[i]); err != nil {
			return err
		}
	}
	report()

	fw, err := watcher.New(cfg.Debounce(), logger)
	if err != nil {
		return err
	}
	defer fw.Close()

	for i, slot := range compare.Slots {
		slot, path := slot, args[i]
		err := fw.Watch(path, func(changed string) {
			if err := s.loadFile(ctx, slot, changed); err != nil {
				if !compare.IsStale(err) {
					logger.Warn("reload failed", "slot", slot, "err", err)
				}
				return
			}
			fmt.Fprintf(out, "--- %s changed: %s\n", slot, filepath.Base(changed))
			report()
		})
		if err != nil {
			return err
		}
	}

	logger.Info("watching for changes", "a", args[0], "b", args[1])
	<-ctx.Done()
	return nil
}
