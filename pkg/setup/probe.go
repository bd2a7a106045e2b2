package setup

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const (
	// DefaultProbeTimeout is how long a probe waits for a response
	DefaultProbeTimeout = 3 * time.Second
	// DefaultProbeURL is probed by steps declared with probe = True unless RunOptions.ProbeURL is set
	DefaultProbeURL = "https://aur.archlinux.org"
	// DefaultProbe marks steps that probe the configured connection URL
	DefaultProbe = "@connection"
)

// Prober checks whether a URL is reachable
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber sends a HEAD request and treats any HTTP response as success
type HTTPProber struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPProber returns a prober with the given timeout (DefaultProbeTimeout if zero)
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return &HTTPProber{
		Client:  &http.Client{},
		Timeout: timeout,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return eris.Wrapf(err, "invalid probe URL %s", url)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return eris.Errorf("timeout after %s", p.Timeout)
		}
		return eris.Wrapf(err, "failed to reach %s", url)
	}
	resp.Body.Close()

	return nil
}

func checkConnection(ctx context.Context, step *Step) error {
	if step.Probe == "" {
		return nil
	}

	opts := getRuntimeCtx(ctx).opts
	log(ctx).Debug().Str("step", step.Short).Msg("Checking network connection...")

	url := step.Probe
	if url == DefaultProbe {
		url = opts.ProbeURL
		if url == "" {
			url = DefaultProbeURL
		}
	}

	if opts.DryRun {
		log(ctx).Info().
			Str("step", step.Short).
			Bool("dry", true).
			Msgf("Would probe %s and prompt on failure", url)
		return nil
	}

	err := opts.Prober.Probe(ctx, url)
	if err == nil {
		log(ctx).Info().Str("step", step.Short).Msgf("Connection to %s verified", url)
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	log(ctx).Warn().
		Str("step", step.Short).
		Msgf("⚠ Could not verify connection (%s)", eris.ToString(err, false))

	if opts.AssumeYes {
		log(ctx).Warn().Str("step", step.Short).Msg("Continuing anyway")
		return nil
	}

	if opts.Confirm == nil {
		return eris.Wrapf(err, "step %s could not verify the network connection", step.Short)
	}

	ok, err := opts.Confirm.Confirm(ctx, "Continue anyway?", true)
	if err != nil {
		return eris.Wrap(err, "failed to read answer")
	}

	if !ok {
		return ErrAborted
	}

	return nil
}
