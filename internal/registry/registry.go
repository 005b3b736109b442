// Package registry implements the Agent Name Service registry: it verifies
// proofs of ownership, enforces the key rotation policy, enriches records
// with DIDs and serves lookups over a pluggable Store.
package registry

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/ans-project/ans/internal/did"
	"github.com/ans-project/ans/internal/syncbus"
	"github.com/ans-project/ans/internal/validate"
	"github.com/ans-project/ans/pkg/protocol"
)

// Config tunes the registry service. Zero values select defaults.
type Config struct {
	KeyCacheSize     int
	DeregisterWindow time.Duration
	MaxLookupLimit   int
}

const (
	defaultKeyCacheSize     = 1024
	defaultDeregisterWindow = 5 * time.Minute
	defaultMaxLookupLimit   = 100
)

// Service is the registry. All writes are serialized so the rotation check
// and the store update happen atomically with respect to each other.
type Service struct {
	store     Store
	publisher syncbus.Publisher
	keys      *lru.Cache[string, *ecdsa.PublicKey]
	cfg       Config
	logger    zerolog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New creates a Service. A nil publisher disables sync events.
func New(store Store, publisher syncbus.Publisher, cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.KeyCacheSize <= 0 {
		cfg.KeyCacheSize = defaultKeyCacheSize
	}
	if cfg.DeregisterWindow <= 0 {
		cfg.DeregisterWindow = defaultDeregisterWindow
	}
	if cfg.MaxLookupLimit <= 0 {
		cfg.MaxLookupLimit = defaultMaxLookupLimit
	}
	if publisher == nil {
		publisher = syncbus.Nop{}
	}
	keys, err := lru.New[string, *ecdsa.PublicKey](cfg.KeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("key cache: %w", err)
	}
	return &Service{
		store:     store,
		publisher: publisher,
		keys:      keys,
		cfg:       cfg,
		logger:    logger.With().Str("component", "registry").Logger(),
		now:       time.Now,
	}, nil
}

// Register verifies and stores a signed registration. Re-registering an
// existing agent ID is an update; changing its public key requires a
// rotation signature from the key on record.
func (s *Service) Register(ctx context.Context, reg *protocol.SignedRegistration) (*protocol.RegistrationReceipt, error) {
	problems, err := validate.ValidateRegistration(reg)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	if err := reg.AgentRecord.Validate(); err != nil {
		return nil, newValidationError(err)
	}
	if err := requireCanonical(&reg.AgentRecord); err != nil {
		return nil, err
	}

	pub, err := s.publicKey(reg.PublicKey)
	if err != nil {
		return nil, newValidationError(err)
	}
	if !protocol.VerifyRecordWithKey(&reg.AgentRecord, pub, reg.Proof.Signature) {
		return nil, ErrInvalidProof
	}

	rec := reg.AgentRecord

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Get(ctx, rec.AgentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load %s: %w", rec.AgentID, err)
	}

	now := s.now().UTC()
	entry := &protocol.AgentEntry{
		AgentRecord:        rec,
		VerificationStatus: protocol.StatusProvisional,
		VerificationID:     uuid.NewString(),
		Signature:          reg.Proof.Signature,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	eventType := protocol.EventAgentRegister
	if existing != nil {
		eventType = protocol.EventAgentUpdate
		entry.CreatedAt = existing.CreatedAt
		oldPub, err := s.publicKey(existing.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("stored key for %s: %w", rec.AgentID, err)
		}
		if oldPub.Equal(pub) {
			entry.DID = existing.DID
		} else {
			if reg.Proof.RotationSignature == "" ||
				!protocol.VerifyRecordWithKey(&reg.AgentRecord, oldPub, reg.Proof.RotationSignature) {
				return nil, ErrKeyConflict
			}
			s.logger.Info().Str("agent_id", rec.AgentID).Msg("public key rotated")
		}
	}
	if entry.DID == "" {
		if entry.DID, err = did.New(rec.PublicKey); err != nil {
			return nil, fmt.Errorf("issue did: %w", err)
		}
	}

	if err := s.store.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("store %s: %w", rec.AgentID, err)
	}

	s.publish(ctx, eventType, entry)

	s.logger.Info().
		Str("agent_id", entry.AgentID).
		Str("did", entry.DID).
		Bool("updated", existing != nil).
		Msg("agent registered")

	residency := entry.DataResidency
	if residency == nil {
		residency = []string{}
	}
	return &protocol.RegistrationReceipt{
		AgentID:                   entry.AgentID,
		DID:                       entry.DID,
		ProvisionalStatus:         "registered",
		VerificationPending:       true,
		VerificationID:            entry.VerificationID,
		EstimatedVerificationTime: protocol.EstimatedVerificationTime,
		DataResidencyConfirmed:    residency,
		Updated:                   existing != nil,
		Record:                    entry,
	}, nil
}

// Get returns the stored entry for agentID.
func (s *Service) Get(ctx context.Context, agentID string) (*protocol.AgentEntry, error) {
	return s.store.Get(ctx, strings.ToLower(strings.TrimSpace(agentID)))
}

// Lookup returns the page of entries matching q, sorted by agent ID.
// No match yields an empty result, not an error; a negative limit is
// ErrInvalidQuery.
func (s *Service) Lookup(ctx context.Context, q protocol.LookupQuery) (*protocol.LookupResponse, error) {
	if q.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative, got %d", ErrInvalidQuery, q.Limit)
	}
	limit := q.Limit
	if limit == 0 {
		limit = protocol.DefaultLookupLimit
	}
	if limit > s.cfg.MaxLookupLimit {
		limit = s.cfg.MaxLookupLimit
	}

	var candidates []protocol.AgentEntry
	if q.AgentID != "" {
		e, err := s.Get(ctx, q.AgentID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return nil, err
		default:
			candidates = append(candidates, *e)
		}
	} else {
		all, err := s.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		candidates = all
	}

	matched := candidates[:0]
	for _, e := range candidates {
		if matchesQuery(&e, q) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].AgentID < matched[j].AgentID })

	start := 0
	if q.PageToken != "" {
		start = sort.Search(len(matched), func(i int) bool { return matched[i].AgentID > q.PageToken })
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	resp := &protocol.LookupResponse{
		Status:       "success",
		Results:      make([]protocol.AgentResult, 0, end-start),
		TotalMatches: len(matched),
	}
	for i := start; i < end; i++ {
		resp.Results = append(resp.Results, toResult(&matched[i], q.Policy))
	}
	if end < len(matched) && end > start {
		resp.NextPageToken = matched[end-1].AgentID
	}
	return resp, nil
}

// Deregister removes an agent after checking the request is fresh and
// signed by the key on record.
func (s *Service) Deregister(ctx context.Context, req *protocol.DeregisterRequest) error {
	req.AgentID = strings.ToLower(strings.TrimSpace(req.AgentID))
	if err := protocol.ValidateAgentID(req.AgentID); err != nil {
		return newValidationError(err)
	}

	skew := s.now().Sub(time.Unix(req.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.cfg.DeregisterWindow {
		return ErrStaleRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Get(ctx, req.AgentID)
	if err != nil {
		return err
	}
	pub, err := s.publicKey(existing.PublicKey)
	if err != nil {
		return fmt.Errorf("stored key for %s: %w", req.AgentID, err)
	}
	if !protocol.VerifyDeregistration(req, pub) {
		return ErrInvalidProof
	}
	if err := s.store.Delete(ctx, req.AgentID); err != nil {
		return err
	}

	s.publish(ctx, protocol.EventAgentDeregister, existing)
	s.logger.Info().Str("agent_id", req.AgentID).Str("reason", req.Reason).Msg("agent deregistered")
	return nil
}

// DIDDocument resolves a did:ans identifier or an agent ID to a DID document.
// A DID whose fingerprint does not match the stored key does not resolve.
func (s *Service) DIDDocument(ctx context.Context, ref string) (*protocol.DIDDocument, error) {
	var entry *protocol.AgentEntry
	if did.IsDID(ref) {
		if _, _, err := did.Parse(ref); err != nil {
			return nil, ErrNotFound
		}
		all, err := s.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		for i := range all {
			if all[i].DID == ref {
				entry = &all[i]
				break
			}
		}
		if entry == nil || !did.MatchesKey(ref, entry.PublicKey) {
			return nil, ErrNotFound
		}
	} else {
		e, err := s.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		entry = e
	}
	return did.Document(entry)
}

// Count returns the number of stored agents.
func (s *Service) Count(ctx context.Context) (int, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Close closes the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) publicKey(pemData string) (*ecdsa.PublicKey, error) {
	if pub, ok := s.keys.Get(pemData); ok {
		return pub, nil
	}
	pub, err := protocol.ParsePublicKey(pemData)
	if err != nil {
		return nil, err
	}
	s.keys.Add(pemData, pub)
	return pub, nil
}

func (s *Service) publish(ctx context.Context, eventType string, entry *protocol.AgentEntry) {
	ev := protocol.NewSyncEvent(eventType, entry.AgentID, entry.CriticalRegistration)
	ev.DID = entry.DID
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("agent_id", entry.AgentID).Str("type", eventType).Msg("sync event not published")
	}
}

func matchesQuery(e *protocol.AgentEntry, q protocol.LookupQuery) bool {
	if q.AgentID != "" && e.AgentID != strings.ToLower(strings.TrimSpace(q.AgentID)) {
		return false
	}
	if !e.HasCapabilities(q.Capabilities...) {
		return false
	}
	if q.NamePrefix != "" && !strings.HasPrefix(e.Name, q.NamePrefix) {
		return false
	}
	if q.TrustLevel != "" && e.VerificationStatus != q.TrustLevel {
		return false
	}
	if q.Policy != nil && q.Policy.VerificationStatus != "" && e.VerificationStatus != q.Policy.VerificationStatus {
		return false
	}
	return true
}

func policyCompatible(e *protocol.AgentEntry, p *protocol.PolicyRequirements) bool {
	if p == nil {
		return true
	}
	if p.VerificationStatus != "" && e.VerificationStatus != p.VerificationStatus {
		return false
	}
	return e.HasCapabilities(p.Capabilities...)
}

func toResult(e *protocol.AgentEntry, policy *protocol.PolicyRequirements) protocol.AgentResult {
	return protocol.AgentResult{
		AgentRecord: e.AgentRecord,
		DID:         e.DID,
		Verification: protocol.Verification{
			Level:     e.VerificationStatus,
			Timestamp: e.UpdatedAt,
		},
		PolicyCompatibility: policyCompatible(e, policy),
	}
}

// requireCanonical rejects records that Normalize would change. The stored
// signature covers the submitted bytes, so they must already be the bytes
// that get stored.
func requireCanonical(r *protocol.AgentRecord) error {
	norm := *r
	norm.Normalize()
	got, err := protocol.CanonicalRecord(r)
	if err != nil {
		return newValidationError(err)
	}
	want, err := protocol.CanonicalRecord(&norm)
	if err != nil {
		return newValidationError(err)
	}
	if !bytes.Equal(got, want) {
		return &ValidationError{Problems: []string{"record is not in canonical form (normalize before signing)"}}
	}
	return nil
}
