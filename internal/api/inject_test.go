package api

import (
	"testing"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

func TestInjectEndpointsSetsUnsetEndpoint(t *testing.T) {
	peers := []meshnet.Peer{{PublicKey: "pk1"}}
	injectEndpoints(map[string]string{"pk1": "198.51.100.1:51820"}, peers)

	if peers[0].Endpoint == nil || peers[0].Endpoint.String() != "198.51.100.1:51820" {
		t.Fatalf("expected endpoint to be set, got %+v", peers[0].Endpoint)
	}
}

func TestInjectEndpointsFillsUnspecifiedHost(t *testing.T) {
	ep := meshnet.Endpoint{Host: "0.0.0.0", Port: 51820}
	peers := []meshnet.Peer{{PublicKey: "pk1", Endpoint: &ep}}
	injectEndpoints(map[string]string{"pk1": "198.51.100.1:4242"}, peers)

	if peers[0].Endpoint.Host != "198.51.100.1" || peers[0].Endpoint.Port != 51820 {
		t.Fatalf("expected host filled, port kept: %+v", peers[0].Endpoint)
	}
}

func TestInjectEndpointsClearsUnspecifiedHostWhenUnknown(t *testing.T) {
	ep := meshnet.Endpoint{Host: "0.0.0.0", Port: 51820}
	peers := []meshnet.Peer{{PublicKey: "pk1", Endpoint: &ep}}
	injectEndpoints(map[string]string{}, peers)

	if peers[0].Endpoint != nil {
		t.Fatalf("expected endpoint cleared, got %+v", peers[0].Endpoint)
	}
}

func TestInjectEndpointsAddsCandidateOnMismatch(t *testing.T) {
	ep := meshnet.Endpoint{Host: "203.0.113.1", Port: 51820}
	peers := []meshnet.Peer{{PublicKey: "pk1", Endpoint: &ep}}
	injectEndpoints(map[string]string{"pk1": "198.51.100.1:51820"}, peers)

	if peers[0].Endpoint.Host != "203.0.113.1" {
		t.Fatalf("declared endpoint with a specified host should not be overwritten: %+v", peers[0].Endpoint)
	}
	if len(peers[0].Candidates) != 1 || peers[0].Candidates[0].Host != "198.51.100.1" {
		t.Fatalf("expected observed endpoint appended as a candidate: %+v", peers[0].Candidates)
	}
}

func TestInjectEndpointsDoesNotDuplicateCandidate(t *testing.T) {
	ep := meshnet.Endpoint{Host: "203.0.113.1", Port: 51820}
	peers := []meshnet.Peer{{
		PublicKey:  "pk1",
		Endpoint:   &ep,
		Candidates: []meshnet.Endpoint{{Host: "198.51.100.1", Port: 51820}},
	}}
	injectEndpoints(map[string]string{"pk1": "198.51.100.1:51820"}, peers)

	if len(peers[0].Candidates) != 1 {
		t.Fatalf("expected no duplicate candidate, got %+v", peers[0].Candidates)
	}
}
