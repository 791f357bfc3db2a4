package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/spf13/cobra"

	"github.com/gogpu/gstate"
	"github.com/gogpu/gstate/backend"
	"github.com/gogpu/gstate/backend/native"
	"github.com/gogpu/gstate/internal/config"
)

type warmUpFlags struct {
	config  string
	backend string
	shaders string
	workers int
}

func newWarmUpCmd() *cobra.Command {
	var fl warmUpFlags

	cmd := &cobra.Command{
		Use:   "warmup FILE",
		Short: "Load a collection and compile every variant on a backend",
		Long: "Load a collection and compile every variant on a backend.\n\n" +
			"The native backend runs on a headless device and translates the WGSL\n" +
			"shaders in --shaders, which checks a collection against a shader library.",
		Example: "  gstate warmup --backend native --shaders ./shaders GraphicsStateCollection.graphicsstate",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWarmUp(cmd, fl, args[0])
		},
	}
	cmd.Flags().StringVar(&fl.config, "config", "", "Controller config file (.yaml, .toml or .json)")
	cmd.Flags().StringVar(&fl.backend, "backend", backend.BackendMemory, "Backend: memory|native")
	cmd.Flags().StringVar(&fl.shaders, "shaders", "", "Directory of .wgsl shaders (native backend)")
	cmd.Flags().IntVar(&fl.workers, "workers", 0, "Warm-up workers, overrides the config file")
	return cmd
}

func runWarmUp(cmd *cobra.Command, fl warmUpFlags, path string) error {
	if filepath.Ext(path) != gstate.FileExtension {
		return fmt.Errorf("%s: expected a %s file", path, gstate.FileExtension)
	}

	cfg := gstate.DefaultConfig()
	if fl.config != "" {
		var err error
		if cfg, err = config.Load(fl.config); err != nil {
			return err
		}
	}
	cfg.Mode = gstate.ModeLoadAndWarmUp
	cfg.Directory = filepath.Dir(path)
	cfg.FileName = strings.TrimSuffix(filepath.Base(path), gstate.FileExtension)
	if fl.workers > 0 {
		cfg.Workers = fl.workers
	}

	b, cleanup, err := openBackend(fl)
	if err != nil {
		return err
	}
	defer cleanup()

	ctrl, err := gstate.NewController(cfg, b)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = ctrl.Stop(ctx) }()

	r, err := ctrl.WarmUpHandle().Wait(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "backend:   %s\nattempted: %d\nsucceeded: %d\nfailed:    %d\nskipped:   %d\nduration:  %s\n",
		b.Name(), r.Attempted, r.Succeeded, r.Failed, r.Skipped, r.Duration)
	if err != nil {
		return fmt.Errorf("warm up: %w", err)
	}
	return nil
}

// openBackend creates and registers the selected backend.
func openBackend(fl warmUpFlags) (backend.Backend, func(), error) {
	switch fl.backend {
	case backend.BackendMemory:
		b, err := backend.Lookup(backend.BackendMemory)
		return b, func() {}, err
	case backend.BackendNative:
		if fl.shaders == "" {
			return nil, nil, errors.New("the native backend requires --shaders")
		}
		lib := native.NewShaderLibrary(0)
		n, err := lib.LoadDir(fl.shaders)
		if err != nil {
			return nil, nil, err
		}
		gstate.Logger().Info("gstate: shaders loaded", "dir", fl.shaders, "count", n)

		nb, err := native.Register(&noop.Device{}, lib, native.WithAdapterInfo(gpucontext.AdapterInfo{
			Name: "noop",
			Type: gpucontext.AdapterTypeSoftware,
		}))
		if err != nil {
			return nil, nil, err
		}
		b, err := backend.Lookup(backend.BackendNative)
		if err != nil {
			nb.Destroy()
			return nil, nil, err
		}
		return b, nb.Destroy, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", backend.ErrBackendNotAvailable, fl.backend)
	}
}
