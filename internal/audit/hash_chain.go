package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// HashChain links successive AuthzCheckEvents with a SHA-256 hash so a
// reviewer can detect a tampered or reordered audit log: each event's hash
// covers its own content plus the previous event's hash.
type HashChain struct {
	mu          sync.RWMutex
	lastHash    string
	initialized bool
}

// NewHashChain creates a new hash chain manager. The genesis event's
// PrevHash is empty.
func NewHashChain() *HashChain {
	return &HashChain{}
}

// InitializeWithHash seeds the chain with a prior last-hash, for a logger
// resuming after a restart.
func (hc *HashChain) InitializeWithHash(hash string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastHash = hash
	hc.initialized = true
}

type hashInput struct {
	Timestamp   string        `json:"timestamp"`
	Principal   string        `json:"principal"`
	Action      string        `json:"action"`
	ResourceUid string        `json:"resource_uid"`
	Decision    Decision      `json:"decision"`
	Policies    []PolicyMatch `json:"policies,omitempty"`
	PrevHash    string        `json:"prev_hash"`
}

func (hc *HashChain) canonicalize(event *AuthzCheckEvent) ([]byte, error) {
	in := hashInput{
		Timestamp:   event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		Principal:   event.Principal.ID,
		Action:      event.Action,
		ResourceUid: event.Resource.Kind + "::" + event.Resource.ID,
		Decision:    event.Decision,
		Policies:    event.Policies,
		PrevHash:    event.PrevHash,
	}
	return json.Marshal(in)
}

// Apply sets event.PrevHash to the chain's current head, computes
// event.Hash over the canonical content, and advances the chain.
func (hc *HashChain) Apply(event *AuthzCheckEvent) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	event.PrevHash = hc.lastHash
	data, err := hc.canonicalizeLocked(event)
	if err != nil {
		return fmt.Errorf("canonicalize event for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	event.Hash = hex.EncodeToString(sum[:])
	hc.lastHash = event.Hash
	hc.initialized = true
	return nil
}

func (hc *HashChain) canonicalizeLocked(event *AuthzCheckEvent) ([]byte, error) {
	return hc.canonicalize(event)
}

// GetLastHash returns the current chain head.
func (hc *HashChain) GetLastHash() string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.lastHash
}

// IsInitialized reports whether any event has been applied yet.
func (hc *HashChain) IsInitialized() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.initialized
}

// VerifyChain replays a chronologically ordered slice of events, confirming
// each event's PrevHash matches the previous event's Hash and each event's
// Hash matches its recomputed content hash.
func VerifyChain(events []*AuthzCheckEvent) (bool, error) {
	hc := NewHashChain()
	for i, event := range events {
		want := hc.GetLastHash()
		if event.PrevHash != want {
			return false, fmt.Errorf("event %d has broken chain: expected prev_hash %s, got %s", i, want, event.PrevHash)
		}
		gotHash := event.Hash
		data, err := hc.canonicalize(event)
		if err != nil {
			return false, fmt.Errorf("canonicalize event %d: %w", i, err)
		}
		sum := sha256.Sum256(data)
		recomputed := hex.EncodeToString(sum[:])
		if recomputed != gotHash {
			return false, fmt.Errorf("event %d has invalid hash", i)
		}
		hc.mu.Lock()
		hc.lastHash = gotHash
		hc.initialized = true
		hc.mu.Unlock()
	}
	return true, nil
}
