package api

import "github.com/innernet-go/meshnet/internal/meshnet"

// injectEndpoints mutates peers in place, filling in or refining each
// peer's declared endpoint from the transport address most recently
// observed for its public key (§4.8). Ground:
// original_source/server/src/api/mod.rs::inject_endpoints, ported
// field-for-field as a free function called before serializing any
// peer list.
func injectEndpoints(observed map[string]string, peers []meshnet.Peer) {
	for i := range peers {
		p := &peers[i]

		var e *meshnet.Endpoint
		known := false
		if raw, ok := observed[p.PublicKey]; ok {
			if parsed, err := meshnet.ParseEndpoint(raw); err == nil {
				e = &parsed
				known = true
			}
		}

		switch {
		case p.Endpoint == nil:
			if known {
				p.Endpoint = e
			}
		case p.Endpoint.IsHostUnspecified():
			if known {
				replaced := meshnet.Endpoint{Host: e.Host, Port: p.Endpoint.Port}
				p.Endpoint = &replaced
			} else {
				p.Endpoint = nil
			}
		}

		if known && !meshnet.EqualEndpoint(p.Endpoint, e) && !meshnet.ContainsEndpoint(p.Candidates, *e) {
			p.Candidates = append(p.Candidates, *e)
		}
	}
}
