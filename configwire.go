package fetch

import (
	"os"

	"github.com/lambdista/fetch/config"
	"github.com/lambdista/fetch/internal/bufpool"
	"github.com/lambdista/fetch/internal/tracelog"
)

// OptionsFromConfig builds interpreter Options from a loaded Config. It
// also applies internal/bufpool's global pooling configuration as a
// side effect, since pooling is process-wide rather than per-run.
//
// Telemetry is wired to OpenTelemetry's globally registered providers
// when cfg.Telemetry.Enabled; callers that configured their own
// TracerProvider/MeterProvider should call NewOTelTelemetry directly
// instead and set it on the returned Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	bufpool.Configure(bufpool.Config{
		Enabled: cfg.Pool.Enabled,
		MaxKeep: cfg.Pool.MaxKeep,
	})

	opts := Options{
		MaxRounds: cfg.Interpreter.MaxRounds,
		Logger:    tracelog.New(os.Stderr, tracelog.ParseLevel(cfg.Logging.Level)),
	}

	if cfg.Features.ConcurrentRounds {
		opts.Effect = NewGoroutineEffect()
	} else {
		opts.Effect = NewSequentialEffect()
	}

	// cfg.Interpreter.CacheEnabled is intentionally not wired here: the
	// interpreter's round loop uses the cache both to skip re-fetching
	// and to detect when a node has become resolved (Step 7), so a
	// cache that silently discarded entries would make the loop spin
	// forever instead of terminating. A real "uncached" mode would need
	// its own termination signal threaded through executeRound, not
	// just a different Cache implementation.

	if cfg.Telemetry.Enabled {
		t, err := NewOTelTelemetry(nil, nil)
		if err != nil {
			return Options{}, err
		}
		opts.Telemetry = t
	}

	return opts, nil
}
