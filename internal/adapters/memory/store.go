package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/google/uuid"
)

// Store is an in-memory durable store. A single mutex guards every table so
// multi-row mutations are all-or-nothing for concurrent readers.
type Store struct {
	mu          sync.Mutex
	systems     map[uuid.UUID]domain.System
	licenses    map[uuid.UUID]domain.License
	activations map[uuid.UUID][]domain.ActivationRecord
	outbox      []ports.OutboxRecord
}

func NewStore() *Store {
	return &Store{
		systems:     map[uuid.UUID]domain.System{},
		licenses:    map[uuid.UUID]domain.License{},
		activations: map[uuid.UUID][]domain.ActivationRecord{},
	}
}

func (s *Store) Systems() *SystemRepository   { return &SystemRepository{store: s} }
func (s *Store) Licenses() *LicenseRepository { return &LicenseRepository{store: s} }
func (s *Store) Outbox() *OutboxRepository    { return &OutboxRepository{store: s} }

// enqueue must be called with mu held.
func enqueue[T any](s *Store, build ports.EventFunc[T], row T) error {
	if build == nil {
		return nil
	}
	event, err := build(row)
	if err != nil {
		return err
	}
	s.outbox = append(s.outbox, ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		CreatedAt:    event.OccurredAt,
		FirstSeenAt:  event.OccurredAt,
	})
	return nil
}

type SystemRepository struct {
	store *Store
}

func (r *SystemRepository) RegisterTx(_ context.Context, params ports.RegisterSystemParams, event ports.EventFunc[domain.System]) (domain.System, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var row domain.System
	found := false
	for _, existing := range s.systems {
		if existing.HardwareID == params.HardwareID && existing.Domain == params.Domain {
			row = existing
			found = true
			break
		}
	}
	if !found {
		row = domain.System{
			SystemID:  uuid.New(),
			Status:    domain.SystemStatusPending,
			CreatedAt: params.RegisteredAt,
		}
	}
	expires := params.CredentialsExpiresAt
	row.HardwareID = params.HardwareID
	row.Domain = params.Domain
	row.IPAddress = params.IPAddress
	row.ClientNonceSalt = params.ClientNonceSalt
	row.ServerNonceSalt = params.ServerNonceSalt
	row.RequestCodeSalt = params.RequestCodeSalt
	row.HardwareIDSalt = params.HardwareIDSalt
	row.ActivationSalt = params.ActivationSalt
	row.APIKey = params.APIKey
	row.APISecretSealed = params.APISecretSealed
	row.HMACSalt = params.HMACSalt
	row.CredentialsExpiresAt = &expires
	row.UpdatedAt = params.RegisteredAt
	if err := enqueue(s, event, row); err != nil {
		return domain.System{}, err
	}
	s.systems[row.SystemID] = row
	return row, nil
}

func (r *SystemRepository) GetByID(_ context.Context, systemID uuid.UUID) (domain.System, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.systems[systemID]
	if !ok {
		return domain.System{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *SystemRepository) GetByDomain(_ context.Context, domainName string) (domain.System, error) {
	return r.findOne(func(row domain.System) bool { return row.Domain == domainName })
}

func (r *SystemRepository) GetByAPIKey(_ context.Context, apiKey string) (domain.System, error) {
	return r.findOne(func(row domain.System) bool { return row.APIKey != "" && row.APIKey == apiKey })
}

// findOne returns the most recently updated match, mirroring the SQL ordering.
func (r *SystemRepository) findOne(match func(domain.System) bool) (domain.System, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  domain.System
		found bool
	)
	for _, row := range s.systems {
		if !match(row) {
			continue
		}
		if !found || row.UpdatedAt.After(best.UpdatedAt) {
			best = row
			found = true
		}
	}
	if !found {
		return domain.System{}, domain.ErrNotFound
	}
	return best, nil
}

func (r *SystemRepository) SetRequestCodeIssued(_ context.Context, systemID uuid.UUID, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.systems[systemID]
	if !ok {
		return domain.ErrNotFound
	}
	issued := at
	row.RequestCodeCreatedAt = &issued
	row.UpdatedAt = at
	s.systems[systemID] = row
	return nil
}

func (r *SystemRepository) Heartbeat(_ context.Context, systemID uuid.UUID, version string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.systems[systemID]
	if !ok {
		return domain.ErrNotFound
	}
	beat := at
	row.LastHeartbeatAt = &beat
	if version != "" {
		row.CurrentVersion = version
	}
	s.systems[systemID] = row
	return nil
}

type LicenseRepository struct {
	store *Store
}

func (r *LicenseRepository) CreateTx(_ context.Context, params ports.CreateLicenseParams, event ports.EventFunc[domain.License]) (domain.License, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	status := domain.LicenseStatusPending
	if params.SystemID != nil {
		if _, ok := s.systems[*params.SystemID]; !ok {
			return domain.License{}, domain.ErrNotFound
		}
		status = domain.LicenseStatusActive
	}
	row := domain.License{
		LicenseID:         uuid.New(),
		CustomerID:        params.CustomerID,
		SystemID:          params.SystemID,
		LicenseKeyHash:    params.LicenseKeyHash,
		LicenseKeyDisplay: params.LicenseKeyDisplay,
		Salt:              params.Salt,
		Iterations:        params.Iterations,
		LicenseType:       params.LicenseType,
		Status:            status,
		Features:          append([]string(nil), params.Features...),
		ExpiresAt:         params.ExpiresAt,
		CreatedAt:         params.IssuedAt,
		UpdatedAt:         params.IssuedAt,
	}
	if err := enqueue(s, event, row); err != nil {
		return domain.License{}, err
	}
	s.licenses[row.LicenseID] = row
	return cloneLicense(row), nil
}

func (r *LicenseRepository) GetByID(_ context.Context, licenseID uuid.UUID) (domain.License, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.licenses[licenseID]
	if !ok {
		return domain.License{}, domain.ErrNotFound
	}
	return cloneLicense(row), nil
}

func (r *LicenseRepository) GetBySystemID(_ context.Context, systemID uuid.UUID) (domain.License, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  domain.License
		found bool
	)
	for _, row := range s.licenses {
		if row.SystemID == nil || *row.SystemID != systemID {
			continue
		}
		if !found || row.UpdatedAt.After(best.UpdatedAt) {
			best = row
			found = true
		}
	}
	if !found {
		return domain.License{}, domain.ErrNotFound
	}
	return cloneLicense(best), nil
}

func (r *LicenseRepository) ListByDisplay(_ context.Context, display string, status domain.LicenseStatus) ([]domain.License, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.License, 0, 1)
	for _, row := range s.licenses {
		if row.LicenseKeyDisplay == display && row.Status == status {
			out = append(out, cloneLicense(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *LicenseRepository) ActivateTx(_ context.Context, params ports.ActivateParams, event ports.EventFunc[ports.ActivationResult]) (ports.ActivationResult, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	license, ok := s.licenses[params.LicenseID]
	if !ok {
		return ports.ActivationResult{}, domain.ErrLicenseNotFound
	}
	for _, rec := range s.activations[license.LicenseID] {
		if rec.Status == domain.ActivationStatusActive {
			return ports.ActivationResult{}, domain.ErrAlreadyActivated
		}
	}
	if license.Status != params.ExpectedStatus {
		return ports.ActivationResult{}, domain.ErrConflict
	}
	if license.PastExpiry(params.ActivatedAt) {
		return ports.ActivationResult{}, domain.ErrLicenseExpired
	}

	system, found := s.resolveSystem(params)
	if params.SystemID != nil && !found {
		return ports.ActivationResult{}, domain.ErrNotFound
	}
	if want := params.RequestCodeCreatedAt; want != nil {
		got := system.RequestCodeCreatedAt
		if got == nil || !got.Equal(*want) {
			return ports.ActivationResult{}, domain.ErrChallengeExpired
		}
	}
	if !found {
		system = domain.System{
			SystemID:   uuid.New(),
			HardwareID: params.HardwareID,
			Domain:     params.Domain,
			IPAddress:  params.IPAddress,
			CustomerID: params.CustomerID,
			CreatedAt:  params.ActivatedAt,
		}
	}

	at := params.ActivatedAt
	record := domain.ActivationRecord{
		ActivationID: uuid.New(),
		LicenseID:    license.LicenseID,
		SystemID:     system.SystemID,
		Status:       domain.ActivationStatusActive,
		ActivatedAt:  at,
	}

	licenseID := license.LicenseID
	system.LicenseID = &licenseID
	system.Status = domain.SystemStatusActive
	system.ActivationStatus = string(domain.ActivationStatusActive)
	system.ActivatedAt = &at
	system.RequestCodeCreatedAt = nil
	system.UpdatedAt = at
	if system.CustomerID == "" {
		system.CustomerID = license.CustomerID
	}

	systemID := system.SystemID
	license.SystemID = &systemID
	license.Status = domain.LicenseStatusActive
	license.ActivationCount++
	license.ActivatedAt = &at
	license.LastActivatedAt = &at
	license.HardwareIDHash = params.HardwareIDHash
	license.IPHash = params.IPHash
	if params.RequestCodeHash != "" {
		license.RequestCodeHash = params.RequestCodeHash
	}
	license.UpdatedAt = at

	result := ports.ActivationResult{License: cloneLicense(license), System: system, Record: record}
	if err := enqueue(s, event, result); err != nil {
		return ports.ActivationResult{}, err
	}
	s.systems[system.SystemID] = system
	s.licenses[license.LicenseID] = license
	s.activations[license.LicenseID] = append(s.activations[license.LicenseID], record)
	return result, nil
}

// resolveSystem must be called with mu held.
func (s *Store) resolveSystem(params ports.ActivateParams) (domain.System, bool) {
	if params.SystemID != nil {
		row, ok := s.systems[*params.SystemID]
		return row, ok
	}
	var (
		fallback domain.System
		found    bool
	)
	for _, row := range s.systems {
		if row.HardwareID != params.HardwareID {
			continue
		}
		if row.Domain == params.Domain {
			return row, true
		}
		fallback = row
		found = true
	}
	return fallback, found
}

func (r *LicenseRepository) RevokeTx(_ context.Context, licenseID uuid.UUID, revokedAt time.Time, event ports.EventFunc[domain.License]) (domain.License, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[licenseID]
	if !ok {
		return domain.License{}, domain.ErrLicenseNotFound
	}
	if license.Status == domain.LicenseStatusRevoked {
		return domain.License{}, domain.ErrConflict
	}
	license.Status = domain.LicenseStatusRevoked
	license.UpdatedAt = revokedAt
	if err := enqueue(s, event, license); err != nil {
		return domain.License{}, err
	}
	records := s.activations[licenseID]
	for i := range records {
		if records[i].Status == domain.ActivationStatusActive {
			at := revokedAt
			records[i].Status = domain.ActivationStatusRevoked
			records[i].RevokedAt = &at
		}
	}
	s.licenses[licenseID] = license
	return cloneLicense(license), nil
}

func (r *LicenseRepository) ListActivations(_ context.Context, licenseID uuid.UUID) ([]domain.ActivationRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.activations[licenseID]
	out := make([]domain.ActivationRecord, len(items))
	copy(out, items)
	return out, nil
}

type OutboxRepository struct {
	store *Store
}

func (r *OutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	out := make([]ports.OutboxRecord, 0, limit)
	for i := range s.outbox {
		if len(out) >= limit {
			break
		}
		rec := &s.outbox[i]
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			continue
		}
		if rec.ClaimUntil != nil && rec.ClaimUntil.After(now) {
			continue
		}
		token := claimToken
		until := claimUntil
		rec.ClaimToken = &token
		rec.ClaimUntil = &until
		out = append(out, *rec)
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		published := at
		rec.PublishedAt = &published
		rec.ClaimToken = nil
		rec.ClaimUntil = nil
	})
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		msg := errMsg
		failedAt := at
		rec.RetryCount++
		rec.LastError = &msg
		rec.LastErrorAt = &failedAt
		rec.ClaimToken = nil
		rec.ClaimUntil = nil
	})
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		msg := errMsg
		dead := at
		rec.RetryCount++
		rec.LastError = &msg
		rec.LastErrorAt = &dead
		rec.DeadLetteredAt = &dead
		rec.ClaimToken = nil
		rec.ClaimUntil = nil
	})
}

// Records returns a snapshot of every outbox row, for assertions.
func (r *OutboxRepository) Records() []ports.OutboxRecord {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.OutboxRecord, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (r *OutboxRepository) update(outboxID uuid.UUID, claimToken string, apply func(*ports.OutboxRecord)) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		rec := &s.outbox[i]
		if rec.OutboxID != outboxID {
			continue
		}
		if rec.ClaimToken == nil || *rec.ClaimToken != claimToken {
			return domain.ErrConflict
		}
		apply(rec)
		return nil
	}
	return domain.ErrNotFound
}

func cloneLicense(in domain.License) domain.License {
	in.Features = append([]string(nil), in.Features...)
	return in
}
