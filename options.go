package gstate

import "os"

// Option configures a Controller during creation.
//
// Example:
//
//	c, err := gstate.NewController(cfg, b,
//	    gstate.WithOnWarmUpComplete(func(r gstate.Report) {
//	        log.Printf("warmed %d variants", r.Succeeded)
//	    }),
//	)
type Option func(*options)

// options holds optional configuration for Controller creation.
type options struct {
	collection *Collection
	onWarmUp   func(Report)
	cacheDirFn func() (string, error)
}

// defaultOptions returns the default controller options.
func defaultOptions() options {
	return options{
		cacheDirFn: os.UserCacheDir,
	}
}

// WithCollection makes the controller use c instead of creating one on
// Start. The host can then inspect the collection while tracing.
func WithCollection(c *Collection) Option {
	return func(o *options) {
		o.collection = c
	}
}

// WithOnWarmUpComplete registers fn to be called once with the report
// after a warm-up started by the controller finishes.
func WithOnWarmUpComplete(fn func(Report)) Option {
	return func(o *options) {
		o.onWarmUp = fn
	}
}

// WithCacheDir overrides how the default collection directory is found
// when Config.Directory is empty. The default is os.UserCacheDir.
func WithCacheDir(fn func() (string, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.cacheDirFn = fn
		}
	}
}
