package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"

	"staybook/internal/app/commands"
	"staybook/internal/pkg/apperror"
)

// IdempotentCommand is implemented by commands whose outcome is replayed for a repeated key.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	// ResultPrototype returns a pointer of the handler result type to decode into.
	ResultPrototype() any
}

// ScopedCommand limits a key to one caller, so equal keys from different callers never
// share a record.
type ScopedCommand interface {
	IdempotencyScope() string
}

// FingerprintedCommand describes the request contents. Reusing a key with different
// contents is rejected instead of replayed.
type FingerprintedCommand interface {
	IdempotencyFingerprint() string
}

// IdempotencyRecord is either a reservation held by a running command (Pending) or the
// stored outcome of a finished one. Token identifies the reservation holder.
type IdempotencyRecord struct {
	Key         string
	Command     string
	Fingerprint string
	Token       string
	Pending     bool
	Payload     []byte
	Error       string
	Status      int
	OccurredAt  time.Time
}

type IdempotencyStore interface {
	// Reserve stores rec unless a live record already holds its key; that record is
	// returned with found set instead.
	Reserve(ctx context.Context, rec IdempotencyRecord) (existing IdempotencyRecord, found bool, err error)
	// Complete replaces the pending record holding rec.Token with the final outcome.
	Complete(ctx context.Context, rec IdempotencyRecord) error
	// Release drops the pending record of key held by token.
	Release(ctx context.Context, key, token string) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONResultCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

var (
	errMissingPrototype = errors.New("middleware: idempotent command requires result prototype")
	ErrKeyReused        = errors.New("middleware: idempotency key already used by another command")
	ErrKeyInFlight      = errors.New("middleware: idempotency key held by a running request")
)

const defaultInFlightTimeout = 2 * time.Minute

// IdempotencyOptions tune which outcomes are remembered.
type IdempotencyOptions struct {
	Codec ResultCodec
	// Transient reports errors that must not be recorded, so a retry with the same key
	// runs the handler again.
	Transient func(err error) bool
	// InFlightTimeout is how long a reservation blocks its key. An older reservation
	// belongs to a request that died and is taken over.
	InFlightTimeout time.Duration
	Now             func() time.Time
	Tokens          func() string
}

func Idempotency(store IdempotencyStore, opts IdempotencyOptions) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONResultCodec{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = uuid.NewString
	}
	inFlight := opts.InFlightTimeout
	if inFlight <= 0 {
		inFlight = defaultInFlightTimeout
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			idCmd, ok := cmd.(IdempotentCommand)
			if !ok {
				return nextFn(ctx, cmd)
			}
			key := idCmd.IdempotencyKey()
			if key == "" {
				return nextFn(ctx, cmd)
			}
			claim := IdempotencyRecord{
				Key:         scopedKey(idCmd, key),
				Command:     cmd.Key(),
				Fingerprint: fingerprintOf(cmd),
				Token:       tokens(),
				Pending:     true,
				OccurredAt:  now().UTC(),
			}
			for attempt := 0; ; attempt++ {
				existing, found, err := store.Reserve(ctx, claim)
				if err != nil {
					return nil, err
				}
				if !found {
					break
				}
				if !existing.Pending {
					return replay(existing, idCmd, claim.Fingerprint, codec)
				}
				if attempt > 0 || now().Sub(existing.OccurredAt) < inFlight {
					return nil, apperror.Wrap(ErrKeyInFlight, http.StatusConflict,
						"a request with this idempotency key is still in progress")
				}
				if err := store.Release(ctx, existing.Key, existing.Token); err != nil {
					return nil, err
				}
			}

			// The outcome is stored even when the caller has gone away.
			saveCtx := context.WithoutCancel(ctx)
			result, err := nextFn(ctx, cmd)
			record := claim
			record.Pending = false
			record.OccurredAt = now().UTC()
			if err != nil {
				if opts.Transient != nil && opts.Transient(err) {
					if relErr := store.Release(saveCtx, claim.Key, claim.Token); relErr != nil {
						return nil, errors.Join(err, relErr)
					}
					return nil, err
				}
				record.Error, record.Status = describeError(err)
				if saveErr := store.Complete(saveCtx, record); saveErr != nil {
					return nil, errors.Join(err, saveErr)
				}
				return nil, err
			}
			if result != nil {
				payload, encErr := codec.Encode(result)
				if encErr != nil {
					return nil, encErr
				}
				record.Payload = payload
			}
			if saveErr := store.Complete(saveCtx, record); saveErr != nil {
				return nil, saveErr
			}
			return result, nil
		})
	}
}

func scopedKey(cmd IdempotentCommand, key string) string {
	scope := ""
	if sc, ok := cmd.(ScopedCommand); ok {
		scope = sc.IdempotencyScope()
	}
	return scope + ":" + cmd.Key() + ":" + key
}

func fingerprintOf(cmd commands.Command) string {
	fc, ok := cmd.(FingerprintedCommand)
	if !ok {
		return ""
	}
	sum := sha256.Sum256([]byte(fc.IdempotencyFingerprint()))
	return hex.EncodeToString(sum[:])
}

func replay(rec IdempotencyRecord, cmd IdempotentCommand, fingerprint string, codec ResultCodec) (any, error) {
	if rec.Command != "" && rec.Command != cmd.Key() {
		return nil, apperror.Wrap(ErrKeyReused, http.StatusUnprocessableEntity, "idempotency key already used for another request")
	}
	if rec.Fingerprint != fingerprint {
		return nil, apperror.Wrap(ErrKeyReused, http.StatusUnprocessableEntity, "idempotency key already used for another request")
	}
	if rec.Error != "" {
		status := rec.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return nil, apperror.New(status, rec.Error)
	}
	proto := cmd.ResultPrototype()
	if proto == nil {
		return nil, errMissingPrototype
	}
	if len(rec.Payload) > 0 {
		if err := codec.Decode(rec.Payload, proto); err != nil {
			return nil, err
		}
	}
	return normalizePrototype(proto), nil
}

func describeError(err error) (string, int) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message, appErr.Code
	}
	return err.Error(), http.StatusInternalServerError
}

func normalizePrototype(proto any) any {
	rv := reflect.ValueOf(proto)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return rv.Interface()
	}
	return proto
}
