package reachability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
)

const defaultReachTimeout = 5 * time.Second

// TransportProber reports link state from the host's network interfaces
// and reachability from a lightweight HTTP request.
type TransportProber struct {
	// URL is requested to decide reachability. Empty leaves reachability
	// unknown.
	URL     string
	Client  *http.Client
	Timeout time.Duration

	// Connected overrides interface inspection.
	Connected func() (bool, error)
}

// Probe implements Prober.
func (p *TransportProber) Probe(ctx context.Context) (Status, error) {
	connected := p.Connected
	if connected == nil {
		connected = hasActiveInterface
	}

	up, err := connected()
	if err != nil {
		return Status{}, fmt.Errorf("%w: inspecting interfaces: %w", apperrors.ErrTransport, err)
	}

	st := Status{Connected: up}
	if !up || p.URL == "" {
		return st, nil
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultReachTimeout
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return Status{}, fmt.Errorf("creating reachability request: %w", err)
	}

	st.ReachabilityKnown = true

	resp, err := client.Do(req)
	if err != nil {
		return st, nil
	}

	resp.Body.Close()

	st.Reachable = resp.StatusCode < http.StatusInternalServerError

	return st, nil
}

// hasActiveInterface reports whether any non-loopback interface is up and
// carries an address.
func hasActiveInterface() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		if len(addrs) > 0 {
			return true, nil
		}
	}

	return false, nil
}
