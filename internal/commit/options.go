package commit

import (
	"time"

	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/manifest"
)

// Options configures a Coordinator.
type Options struct {
	// MaxRetries is the number of attempts allowed after the first one
	// loses the pointer race.
	MaxRetries int

	// BaseBackoff is the wait after the first lost race. It grows by
	// BackoffFactor per retry up to MaxBackoff.
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	BackoffFactor float64

	// JitterFactor randomizes each wait within [1-j, 1+j] of its nominal value.
	JitterFactor float64

	// Clock supplies snapshot timestamps.
	Clock func() time.Time

	Encode manifest.EncodeOptions

	// Writer is recorded in every manifest this coordinator publishes.
	Writer string

	Logger logging.Logger
}

// DefaultOptions returns the default commit options.
func DefaultOptions() Options {
	return Options{
		MaxRetries:    10,
		BaseBackoff:   5 * time.Millisecond,
		MaxBackoff:    500 * time.Millisecond,
		BackoffFactor: 2,
		JitterFactor:  0.2,
		Clock:         time.Now,
		Encode:        manifest.DefaultEncodeOptions(),
	}
}

// sanitize fills zero fields from DefaultOptions.
func (o Options) sanitize() Options {
	def := DefaultOptions()
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = def.BaseBackoff
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = max(def.MaxBackoff, o.BaseBackoff)
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = def.BackoffFactor
	}
	if o.JitterFactor < 0 || o.JitterFactor >= 1 {
		o.JitterFactor = def.JitterFactor
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	if o.Encode == (manifest.EncodeOptions{}) {
		o.Encode = def.Encode
	}
	o.Logger = logging.OrDefault(o.Logger)
	return o
}
