package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/result"
	"github.com/alexjbarnes/fieldsync/internal/telemetry"
	bolt "go.etcd.io/bbolt"
)

// SecureKey names a credential held in the SecureStore.
type SecureKey string

// Well-known credential keys.
const (
	AccessToken     SecureKey = "access_token"
	BaseURL         SecureKey = "base_url"
	UserRole        SecureKey = "user_role"
	LicenseUserRole SecureKey = "license_user_role"
	LoggedInUserID  SecureKey = "logged_in_user_id"
	UserPassword    SecureKey = "user_password"
)

// DefaultServiceID is the keystore entry holding the install secret.
const DefaultServiceID = "fieldsync.securestore"

var (
	secureValuesBucket = []byte("secure")
	secureMetaBucket   = []byte("meta")
	keyCheckKey        = []byte("keycheck")
	keyCheckPlaintext  = []byte("fieldsync-keycheck")
)

// SecureOptions configures a SecureStore.
type SecureOptions struct {
	// ServiceID is the keystore entry name. Defaults to DefaultServiceID.
	ServiceID string

	// Strict makes use before Initialize panic. Production hosts leave it
	// false, which logs, records telemetry and returns an error result.
	Strict bool

	// Sink receives every caught failure. Defaults to telemetry.Nop().
	Sink telemetry.Sink
}

// SecureStore is an encrypted key/value store for session credentials.
// Values are sealed before they reach disk; the sealing key is derived
// from a secret provisioned lazily from the Keystore on Initialize.
type SecureStore struct {
	path      string
	keystore  Keystore
	serviceID string
	strict    bool
	logger    *slog.Logger
	sink      telemetry.Sink

	mu   sync.RWMutex
	db   *bolt.DB
	seal *sealer
}

// NewSecureStore creates an uninitialized store backed by the bolt file
// at path. Nothing touches disk or the keystore until Initialize.
func NewSecureStore(path string, keystore Keystore, logger *slog.Logger, opts SecureOptions) *SecureStore {
	if opts.ServiceID == "" {
		opts.ServiceID = DefaultServiceID
	}

	if opts.Sink == nil {
		opts.Sink = telemetry.Nop()
	}

	return &SecureStore{
		path:      path,
		keystore:  keystore,
		serviceID: opts.ServiceID,
		strict:    opts.Strict,
		logger:    logger,
		sink:      opts.Sink,
	}
}

// Initialize provisions the install secret and opens the store. When the
// keystore holds no secret a new one is generated and stored, and any
// previous contents of the store are discarded since they can no longer
// be opened. The same reset happens when the stored key check fails to
// decrypt. Calling Initialize again is a no-op.
func (s *SecureStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	secret, fresh, err := s.provisionSecret(ctx)
	if err != nil {
		return err
	}
	defer zero(secret)

	seal, err := newSealer(secret)
	if err != nil {
		return fmt.Errorf("creating sealer: %w", err)
	}

	db, err := openBolt(s.path, secureValuesBucket, secureMetaBucket)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}

	if err := s.verifyKey(db, seal, fresh); err != nil {
		db.Close()
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}

	s.db = db
	s.seal = seal

	return nil
}

func (s *SecureStore) provisionSecret(ctx context.Context) ([]byte, bool, error) {
	secret, err := s.keystore.Get(ctx, s.serviceID)
	if err == nil && len(secret) >= secretSize {
		return secret, false, nil
	}

	if err != nil && !errors.Is(err, apperrors.ErrSecretNotFound) {
		return nil, false, fmt.Errorf("%w: %w", apperrors.ErrKeystore, err)
	}

	secret, err = newSecret()
	if err != nil {
		return nil, false, err
	}

	if err := s.keystore.Set(ctx, s.serviceID, secret); err != nil {
		return nil, false, fmt.Errorf("%w: storing secret: %w", apperrors.ErrKeystore, err)
	}

	s.logger.Info("provisioned new secure store key", slog.String("service", s.serviceID))

	return secret, true, nil
}

// verifyKey checks that seal can open the stored key check, resetting
// the store when it cannot or when the secret was just created.
func (s *SecureStore) verifyKey(db *bolt.DB, seal *sealer, fresh bool) error {
	return db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(secureMetaBucket)

		check := meta.Get(keyCheckKey)
		if check != nil && !fresh {
			pt, err := seal.open(string(keyCheckKey), check)
			if err == nil && bytes.Equal(pt, keyCheckPlaintext) {
				return nil
			}

			s.logger.Warn("secure store key mismatch, resetting store")
			s.sink.RecordError("securestore.keycheck", errors.New("stored key check did not decrypt"))
		}

		if check != nil || fresh {
			if err := resetBucket(tx, secureValuesBucket); err != nil {
				return err
			}
		}

		sealed, err := seal.seal(string(keyCheckKey), keyCheckPlaintext)
		if err != nil {
			return err
		}

		return meta.Put(keyCheckKey, sealed)
	})
}

func resetBucket(tx *bolt.Tx, name []byte) error {
	if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return err
	}

	_, err := tx.CreateBucket(name)

	return err
}

// misuse handles a call made before Initialize.
func (s *SecureStore) misuse(op string) error {
	err := fmt.Errorf("securestore %s: %w", op, apperrors.ErrStoreNotInitialized)
	if s.strict {
		panic(err)
	}

	s.logger.Error("secure store used before initialization", slog.String("op", op))
	s.sink.RecordError("securestore."+op, err)

	return err
}

// Get returns the value under key. A missing key is an empty Ok result;
// any failure is an error result with an empty value.
func (s *SecureStore) Get(key SecureKey) result.Result[string] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return result.Err[string](s.misuse("get"))
	}

	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(secureValuesBucket).Get([]byte(key))
		if data == nil {
			return nil
		}

		pt, err := s.seal.open(string(key), data)
		if err != nil {
			return err
		}

		value = string(pt)

		return nil
	})
	if err != nil {
		s.logger.Warn("secure store read failed", slog.String("key", string(key)), slog.String("error", err.Error()))
		s.sink.RecordError("securestore.get", err)

		return result.Err[string](fmt.Errorf("reading %s: %w", key, err))
	}

	return result.Ok(value)
}

// Set seals and stores value under key. It never panics outside strict
// mode; failures are logged, recorded and returned as an error result.
func (s *SecureStore) Set(key SecureKey, value string) result.Result[struct{}] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return result.Err[struct{}](s.misuse("set"))
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		sealed, err := s.seal.seal(string(key), []byte(value))
		if err != nil {
			return err
		}

		return tx.Bucket(secureValuesBucket).Put([]byte(key), sealed)
	})
	if err != nil {
		s.logger.Error("secure store write failed", slog.String("key", string(key)), slog.String("error", err.Error()))
		s.sink.RecordError("securestore.set", err)

		return result.Err[struct{}](fmt.Errorf("writing %s: %w", key, err))
	}

	return result.Done()
}

// Clear removes every stored credential. Used on logout.
func (s *SecureStore) Clear() result.Result[struct{}] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return result.Err[struct{}](s.misuse("clear"))
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return resetBucket(tx, secureValuesBucket)
	})
	if err != nil {
		s.sink.RecordError("securestore.clear", err)
		return result.Err[struct{}](fmt.Errorf("clearing store: %w", err))
	}

	return result.Done()
}

// Initialized reports whether Initialize has completed.
func (s *SecureStore) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db != nil
}

// Close closes the database. The store can be initialized again.
func (s *SecureStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	s.seal = nil

	return err
}
