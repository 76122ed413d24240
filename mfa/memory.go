package mfa

import (
	"context"
	"sync"
	"time"
)

// In-memory store implementations. They satisfy the same contracts as the
// Mongo-backed ones and exist for tests and single-process deployments.

type MemoryConfigStore struct {
	mu      sync.Mutex
	configs map[string]*UserConfig
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]*UserConfig)}
}

func memKey(tenantID, userID string) string { return tenantID + "\x00" + userID }

func (s *MemoryConfigStore) Get(_ context.Context, tenantID, userID string) (*UserConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[memKey(tenantID, userID)]
	if !ok {
		return nil, ErrConfigNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (s *MemoryConfigStore) SaveTOTP(_ context.Context, tenantID, userID string, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[memKey(tenantID, userID)] = &UserConfig{
		UserID:      userID,
		TenantID:    tenantID,
		TOTPEnabled: true,
		TOTPSecret:  append([]byte(nil), secret...),
		UpdatedAt:   time.Now().Unix(),
	}
	return nil
}

func (s *MemoryConfigStore) DisableTOTP(_ context.Context, tenantID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg, ok := s.configs[memKey(tenantID, userID)]; ok {
		cfg.TOTPEnabled = false
		cfg.TOTPSecret = nil
		cfg.UpdatedAt = time.Now().Unix()
	}
	return nil
}

func (s *MemoryConfigStore) ClaimTOTPCounter(_ context.Context, tenantID, userID string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[memKey(tenantID, userID)]
	if !ok || cfg.TOTPLastCounter >= counter {
		return false, nil
	}
	cfg.TOTPLastCounter = counter
	return true, nil
}

type memoryBackupCode struct {
	used bool
}

type MemoryBackupCodeStore struct {
	mu    sync.Mutex
	codes map[string]map[string]*memoryBackupCode
}

func NewMemoryBackupCodeStore() *MemoryBackupCodeStore {
	return &MemoryBackupCodeStore{codes: make(map[string]map[string]*memoryBackupCode)}
}

func (s *MemoryBackupCodeStore) Replace(_ context.Context, tenantID, userID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]*memoryBackupCode, len(hashes))
	for _, h := range hashes {
		set[h] = &memoryBackupCode{}
	}
	s.codes[memKey(tenantID, userID)] = set
	return nil
}

func (s *MemoryBackupCodeStore) Consume(_ context.Context, tenantID, userID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[memKey(tenantID, userID)][hash]
	if !ok || code.used {
		return false, nil
	}
	code.used = true
	return true, nil
}

func (s *MemoryBackupCodeStore) Remaining(_ context.Context, tenantID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := 0
	for _, code := range s.codes[memKey(tenantID, userID)] {
		if !code.used {
			remaining++
		}
	}
	return remaining, nil
}

type MemoryTrustStore struct {
	mu      sync.Mutex
	devices map[string][]TrustedDevice
}

func NewMemoryTrustStore() *MemoryTrustStore {
	return &MemoryTrustStore{devices: make(map[string][]TrustedDevice)}
}

func (s *MemoryTrustStore) List(_ context.Context, tenantID, userID string) ([]TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TrustedDevice(nil), s.devices[memKey(tenantID, userID)]...), nil
}

func (s *MemoryTrustStore) Put(_ context.Context, tenantID, userID string, device TrustedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(tenantID, userID)
	kept := s.devices[key][:0]
	for _, d := range s.devices[key] {
		if d.DeviceID != device.DeviceID {
			kept = append(kept, d)
		}
	}
	s.devices[key] = append(kept, device)
	return nil
}

func (s *MemoryTrustStore) Remove(_ context.Context, tenantID, userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(tenantID, userID)
	kept := s.devices[key][:0]
	for _, d := range s.devices[key] {
		if d.DeviceID != deviceID {
			kept = append(kept, d)
		}
	}
	s.devices[key] = kept
	return nil
}

func (s *MemoryTrustStore) Touch(_ context.Context, tenantID, userID, deviceID string, lastUsed int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := s.devices[memKey(tenantID, userID)]
	for i := range devices {
		if devices[i].DeviceID == deviceID {
			devices[i].LastUsed = lastUsed
		}
	}
	return nil
}
