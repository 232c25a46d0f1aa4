package signals

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of all four signal sources
// for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	credits  map[string]creditEntry // credit_uid → entry
	devices  map[string][]DeviceRecord
	sms      map[string][]SmsRecord // uuidDevice → messages
	metadata map[string][]MetadataRecord
}

type creditEntry struct {
	uid    string // secondary identifier, looked up when the primary key misses
	userID string
}

// NewMemoryStore creates an empty in-memory signal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credits:  make(map[string]creditEntry),
		devices:  make(map[string][]DeviceRecord),
		sms:      make(map[string][]SmsRecord),
		metadata: make(map[string][]MetadataRecord),
	}
}

// AddCredit seeds a credit. uid is the secondary identifier and may be empty.
func (s *MemoryStore) AddCredit(creditUID, uid, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[creditUID] = creditEntry{uid: uid, userID: userID}
}

// AddDevice seeds a device record.
func (s *MemoryStore) AddDevice(d DeviceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.UserID] = append(s.devices[d.UserID], d)
}

// AddSms seeds an SMS record.
func (s *MemoryStore) AddSms(m SmsRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sms[m.UUIDDevice] = append(s.sms[m.UUIDDevice], m)
}

// AddMetadata seeds a metadata record for a user.
func (s *MemoryStore) AddMetadata(userID string, m MetadataRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[userID] = append(s.metadata[userID], m)
}

func (s *MemoryStore) ResolveUser(ctx context.Context, creditUID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Primary key lookup, then fall back to the secondary uid field.
	if e, ok := s.credits[creditUID]; ok {
		if e.userID == "" {
			return "", ErrCreditNotFound
		}
		return e.userID, nil
	}
	for _, e := range s.credits {
		if e.uid != "" && e.uid == creditUID {
			if e.userID == "" {
				return "", ErrCreditNotFound
			}
			return e.userID, nil
		}
	}
	return "", ErrCreditNotFound
}

func (s *MemoryStore) DevicesByUser(ctx context.Context, userID string) ([]DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeviceRecord, len(s.devices[userID]))
	copy(out, s.devices[userID])
	return out, nil
}

func (s *MemoryStore) SmsByDevices(ctx context.Context, uuidDevices []string) ([]SmsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SmsRecord
	for _, dev := range uuidDevices {
		out = append(out, s.sms[dev]...)
	}

	// Newest first, matching the postgres ordering.
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out, nil
}

func (s *MemoryStore) MetadataByUser(ctx context.Context, userID string) ([]MetadataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MetadataRecord, len(s.metadata[userID]))
	copy(out, s.metadata[userID])
	return out, nil
}
