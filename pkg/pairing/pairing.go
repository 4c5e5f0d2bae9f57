package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/registry"
)

// CodeTTL is how long an issued pairing code stays valid.
const CodeTTL = 5 * time.Minute

const (
	codeLen      = 8
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// ErrCodeInvalid covers unknown, expired and already-consumed codes. The
// caller cannot tell which, on purpose.
var ErrCodeInvalid = errors.New("pairing code invalid or expired")

type issuedCode struct {
	expiresAt time.Time
}

// Service issues pairing codes and redeems them into client bindings.
type Service struct {
	store  *registry.Store
	logger *slog.Logger

	mu    sync.Mutex
	codes map[string]issuedCode
	now   func() time.Time
}

// NewService creates the pairing service.
func NewService(store *registry.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		codes:  make(map[string]issuedCode),
		now:    time.Now,
	}
}

// IssueCode mints a new one-shot code valid for CodeTTL.
func (s *Service) IssueCode() (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}

	s.mu.Lock()
	s.pruneLocked()
	s.codes[code] = issuedCode{expiresAt: s.now().Add(CodeTTL)}
	s.mu.Unlock()

	s.logger.Info("pairing code issued")
	return code, nil
}

// Redeem consumes a code and persists the binding of the presenting
// client. The returned UUID identifies the binding from then on.
func (s *Service) Redeem(code, fingerprint, role string) (string, error) {
	s.mu.Lock()
	issued, ok := s.codes[code]
	if ok {
		delete(s.codes, code)
	}
	s.mu.Unlock()

	if !ok || s.now().After(issued.expiresAt) {
		return "", ErrCodeInvalid
	}

	binding := &model.ClientBinding{
		UUID:        uuid.New().String(),
		Fingerprint: fingerprint,
		Role:        role,
	}
	if err := s.store.InsertBinding(binding); err != nil {
		return "", fmt.Errorf("persist client binding: %w", err)
	}

	s.logger.Info("client paired", "uuid", binding.UUID, "role", role)
	return binding.UUID, nil
}

// Touch marks a bound client as seen.
func (s *Service) Touch(bindingUUID string) error {
	return s.store.TouchBinding(bindingUUID)
}

// Lookup resolves a binding by UUID.
func (s *Service) Lookup(bindingUUID string) (*model.ClientBinding, error) {
	return s.store.FindBindingByUUID(bindingUUID)
}

// pruneLocked drops expired codes. Caller holds the lock.
func (s *Service) pruneLocked() {
	now := s.now()
	for code, issued := range s.codes {
		if now.After(issued.expiresAt) {
			delete(s.codes, code)
		}
	}
}

// randomCode draws an uppercase token without ambiguous characters.
func randomCode() (string, error) {
	buf := make([]byte, codeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
