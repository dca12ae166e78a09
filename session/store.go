package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/patientportal/internal/util"
	"github.com/jmcleod/patientportal/patient"
	"github.com/jmcleod/patientportal/storage"
)

const (
	// Bucket holds every session key.
	Bucket = "session"

	keyToken        = "token"
	keyPatient      = "patient"
	keyLastActivity = "last_activity"

	tokenAAD = "patientportal:token:v1"

	// DefaultInactivityTimeout is how long a session may go without activity.
	DefaultInactivityTimeout = 30 * time.Minute
)

// legacyKeys were written by older clients. They are removed on Clear and
// never read.
var legacyKeys = []string{"auth_token", "patient_data", "patient_id", "phone_number", "last_login"}

// Patient is the patient snapshot held by a session.
type Patient = patient.Patient

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	// Token is empty when there is none.
	Token string
	// Patient is nil when there is none.
	Patient *Patient
	// LastActivityAt is zero when no activity was recorded.
	LastActivityAt time.Time
	SessionActive  bool
}

// IsAuthenticated reports whether the snapshot has a token, a patient and a
// positively validated session.
func (s Snapshot) IsAuthenticated() bool {
	return s.Token != "" && s.Patient != nil && s.SessionActive
}

// TokenStore persists the bearer token, the patient snapshot and the last
// activity time. Read failures are logged and reported as absence.
type TokenStore struct {
	repo   storage.Repository
	logger *slog.Logger
	now    func() time.Time

	// sealing is fixed at construction; key is dropped by Close.
	sealing bool
	mu      sync.Mutex
	key     *memguard.Enclave
}

// StoreOption configures a TokenStore.
type StoreOption func(*TokenStore)

// WithSealingKey seals the token at rest with key (32 bytes). key is wiped
// once moved into protected memory.
func WithSealingKey(key []byte) StoreOption {
	return func(s *TokenStore) {
		if len(key) == util.KeySize {
			s.sealing = true
			s.key = memguard.NewEnclave(key)
		}
	}
}

// WithStoreClock overrides time.Now.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *TokenStore) { s.now = now }
}

// WithStoreLogger sets the structured logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *TokenStore) { s.logger = logger }
}

// NewTokenStore creates a TokenStore over repo.
func NewTokenStore(repo storage.Repository, opts ...StoreOption) *TokenStore {
	s := &TokenStore{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("component", "token_store")
	return s
}

// Save writes token, patient and a fresh activity time in one transaction.
func (s *TokenStore) Save(token string, p *Patient) error {
	if token == "" || p == nil {
		return errors.New("saving session: token and patient are required")
	}
	tokenVal, err := s.encodeToken(token)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	patientVal, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("saving session: encoding patient: %w", err)
	}
	activity := s.encodeTime(s.now())
	err = s.repo.Batch(Bucket, func(tx storage.BatchTx) error {
		if err := tx.Put(keyToken, tokenVal); err != nil {
			return err
		}
		if err := tx.Put(keyPatient, patientVal); err != nil {
			return err
		}
		return tx.Put(keyLastActivity, activity)
	})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Load returns the stored token and patient. Anything missing, corrupt or
// unsealable yields an empty snapshot. SessionActive is always false:
// a loaded session is pending validation.
func (s *TokenStore) Load() Snapshot {
	token := s.Token()
	if token == "" {
		return Snapshot{}
	}
	p := s.Patient()
	if p == nil {
		return Snapshot{}
	}
	return Snapshot{Token: token, Patient: p, LastActivityAt: s.LastActivity()}
}

// Token returns the stored token or "".
func (s *TokenStore) Token() string {
	data, err := s.repo.Get(Bucket, keyToken)
	if err != nil {
		s.logReadError(keyToken, err)
		return ""
	}
	token, err := s.decodeToken(data)
	if err != nil {
		s.logger.Warn("discarding unreadable token", slog.String("error", err.Error()))
		return ""
	}
	return token
}

// Patient returns the stored patient or nil.
func (s *TokenStore) Patient() *Patient {
	data, err := s.repo.Get(Bucket, keyPatient)
	if err != nil {
		s.logReadError(keyPatient, err)
		return nil
	}
	p, err := patient.Normalize(data)
	if err != nil {
		s.logger.Warn("discarding corrupt patient snapshot", slog.String("error", err.Error()))
		return nil
	}
	return p
}

// SetToken replaces the token only.
func (s *TokenStore) SetToken(token string) error {
	if token == "" {
		return errors.New("storing token: empty token")
	}
	val, err := s.encodeToken(token)
	if err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	if err := s.repo.Put(Bucket, keyToken, val); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	return nil
}

// SetPatient replaces the patient snapshot only.
func (s *TokenStore) SetPatient(p *Patient) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storing patient: %w", err)
	}
	if err := s.repo.Put(Bucket, keyPatient, data); err != nil {
		return fmt.Errorf("storing patient: %w", err)
	}
	return nil
}

// Touch records now as the last activity.
func (s *TokenStore) Touch() {
	if err := s.repo.Put(Bucket, keyLastActivity, s.encodeTime(s.now())); err != nil {
		s.logger.Warn("recording activity failed", slog.String("error", err.Error()))
	}
}

// LastActivity returns the last recorded activity, or the zero time.
func (s *TokenStore) LastActivity() time.Time {
	data, err := s.repo.Get(Bucket, keyLastActivity)
	if err != nil {
		s.logReadError(keyLastActivity, err)
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		s.logger.Warn("discarding corrupt activity time", slog.String("error", err.Error()))
		return time.Time{}
	}
	return t
}

// IsExpired reports whether no activity was recorded or the last activity
// is more than timeout ago.
func (s *TokenStore) IsExpired(timeout time.Duration) bool {
	last := s.LastActivity()
	if last.IsZero() {
		return true
	}
	return s.now().Sub(last) > timeout
}

// Clear removes the session and every legacy key. Missing keys are fine.
func (s *TokenStore) Clear() {
	err := s.repo.Batch(Bucket, func(tx storage.BatchTx) error {
		for _, k := range append([]string{keyToken, keyPatient, keyLastActivity}, legacyKeys...) {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("clearing session failed", slog.String("error", err.Error()))
	}
}

// Close drops the sealing key enclave. The enclave is never opened again,
// so sealed tokens read as absent and writes fail afterwards.
func (s *TokenStore) Close() {
	s.mu.Lock()
	s.key = nil
	s.mu.Unlock()
}

func (s *TokenStore) sealingKey() (*memguard.LockedBuffer, error) {
	s.mu.Lock()
	enclave := s.key
	s.mu.Unlock()
	if enclave == nil {
		return nil, errors.New("sealing key closed")
	}
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening sealing key: %w", err)
	}
	return buf, nil
}

func (s *TokenStore) encodeToken(token string) ([]byte, error) {
	if !s.sealing {
		return []byte(token), nil
	}
	buf, err := s.sealingKey()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	env, err := storage.SealRecord(buf.Bytes(), []byte(token), []byte(tokenAAD))
	if err != nil {
		return nil, fmt.Errorf("sealing token: %w", err)
	}
	return env.Marshal()
}

func (s *TokenStore) decodeToken(data []byte) (string, error) {
	if !s.sealing {
		return string(data), nil
	}
	env, err := storage.UnmarshalEnvelope(data)
	if err != nil {
		return "", err
	}
	buf, err := s.sealingKey()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	plain, err := storage.OpenRecord(buf.Bytes(), env, []byte(tokenAAD))
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(plain)
	return string(plain), nil
}

func (s *TokenStore) encodeTime(t time.Time) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano))
}

func (s *TokenStore) logReadError(key string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	s.logger.Warn("reading session key failed", slog.String("key", key), slog.String("error", err.Error()))
}
