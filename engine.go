package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/google/uuid"
)

// Engine is the credential orchestrator. It is safe for concurrent use.
type Engine struct {
	config     Config
	identities identity.Store
	hasher     *password.Pool
	tokens     *jwt.Manager
	sessions   *session.Manager
	guard      *lockout.Guard
	federation *oauth.Flow
	validator  *credentialValidator
	audit      *audit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Close flushes pending audit events, waiting at most until ctx is done.
func (e *Engine) Close(ctx context.Context) error {
	if e == nil || e.audit == nil {
		return nil
	}
	return e.audit.Close(ctx)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, e.logger)
}

// writeContext detaches a security write from the caller's cancellation so a
// client hanging up cannot skip a failure count or a revocation.
func (e *Engine) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.config.WriteTimeout)
}

// storeContext bounds a store call that stays tied to the caller.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.StoreTimeout)
}

// Register creates a password identity and signs it in.
func (e *Engine) Register(ctx context.Context, email, pw string) (*AuthResult, error) {
	if err := e.validator.credentials(email, pw); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
		return nil, err
	}

	hash, err := e.hasher.Hash(ctx, pw)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return nil, validationError("password", "is too long")
		}
		return nil, e.fail(ctx, "register", err)
	}

	sctx, cancel := e.storeContext(ctx)
	ident, err := e.identities.Create(sctx, identity.NewIdentity{
		Email:        email,
		PasswordHash: hash,
		Role:         identity.DefaultRole,
	})
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateEmail) {
			e.metricInc(MetricRegisterConflict)
			err = wrapKind(ErrConflict, err)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
			return nil, err
		}
		return nil, e.fail(ctx, "register", err)
	}

	result, err := e.establish(ctx, ident)
	if err != nil {
		return nil, e.fail(ctx, "register", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, ident.ID.String(), "", nil, nil)
	e.log(ctx).Info("auth.register.success", "identity_id", ident.ID)
	return result, nil
}

// Login verifies a password. The per-account and per-address lockouts are
// consulted before any other work, and every refusal is the same
// ErrUnauthenticated.
func (e *Engine) Login(ctx context.Context, email, pw string) (*AuthResult, error) {
	if err := e.validator.email(email); err != nil {
		return nil, err
	}
	if pw == "" {
		return nil, validationError("password", "is required")
	}

	keys := []lockout.Key{lockout.AccountKey(email), lockout.AddressKey(clientIPFromContext(ctx))}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.guard.Check(sctx, keys...); err != nil {
		if errors.Is(err, lockout.ErrLocked) {
			e.metricInc(MetricLoginLocked)
			err = wrapKind(ErrUnauthenticated, err)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, nil)
			return nil, err
		}
		return nil, e.fail(ctx, "login", err)
	}

	ident, err := e.identities.ByEmail(sctx, email)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return nil, e.fail(ctx, "login", err)
	}

	started := time.Now()
	var ok bool
	if ident != nil && ident.HasPassword() {
		ok, err = e.hasher.Verify(ctx, pw, ident.PasswordHash)
	} else {
		// Unknown or federation-only: pay for a verify anyway.
		err = e.hasher.VerifyDummy(ctx, pw)
	}
	e.metrics.Observe(MetricPasswordVerifyLatency, time.Since(started))
	if err != nil {
		return nil, e.fail(ctx, "login", err)
	}

	if !ok {
		return nil, e.loginFailed(ctx, ident, keys)
	}

	wctx, wcancel := e.writeContext(ctx)
	if err := e.guard.RecordSuccess(wctx, keys...); err != nil {
		e.metricInc(MetricBackendUnavailable)
		e.log(ctx).Warn("auth.login.reset_lockout_failed", "identity_id", ident.ID, "error", err)
	}
	wcancel()

	if e.config.Password.UpgradeOnLogin && e.hasher.NeedsUpgrade(ident.PasswordHash) {
		e.rehash(ctx, ident, pw)
	}

	result, err := e.establish(ctx, ident)
	if err != nil {
		return nil, e.fail(ctx, "login", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, ident.ID.String(), "", nil, nil)
	e.log(ctx).Info("auth.login.success", "identity_id", ident.ID)
	return result, nil
}

func (e *Engine) loginFailed(ctx context.Context, ident *identity.Identity, keys []lockout.Key) error {
	var identityID string
	if ident != nil {
		identityID = ident.ID.String()
	}

	wctx, cancel := e.writeContext(ctx)
	defer cancel()

	for _, k := range keys {
		locked, err := e.guard.RecordFailure(wctx, k)
		if err != nil {
			return e.fail(ctx, "login", err)
		}
		if locked {
			e.metricInc(MetricLockoutTriggered)
			e.emitAudit(ctx, auditEventLockoutTriggered, false, identityID, "", nil, func() map[string]string {
				return map[string]string{"scope": k.Kind.String()}
			})
			e.log(ctx).Warn("auth.login.locked", "scope", k.Kind.String())
		}
	}

	err := wrapKind(ErrUnauthenticated, nil)
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, identityID, "", err, nil)
	e.log(ctx).Warn("auth.login.invalid_credentials")
	return err
}

// rehash replaces a hash made with weaker parameters. Failures are logged
// and never fail the login.
func (e *Engine) rehash(ctx context.Context, ident *identity.Identity, pw string) {
	hash, err := e.hasher.Hash(ctx, pw)
	if err != nil {
		e.log(ctx).Warn("auth.login.rehash_failed", "identity_id", ident.ID, "error", err)
		return
	}

	wctx, cancel := e.writeContext(ctx)
	defer cancel()
	if err := e.identities.UpdatePasswordHash(wctx, ident.ID, hash); err != nil {
		e.log(ctx).Warn("auth.login.rehash_failed", "identity_id", ident.ID, "error", err)
		return
	}
	ident.PasswordHash = hash
	e.metricInc(MetricPasswordRehash)
	e.emitAudit(ctx, auditEventPasswordRehashed, true, ident.ID.String(), "", nil, nil)
}

// Refresh redeems a refresh token and returns a new pair. The refresh token
// keeps its session id and gets a new secret; the old one stops working.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	sid, secret, err := e.parseRefreshToken(refreshToken)
	if err != nil {
		e.refreshFailed(ctx, "", err)
		return nil, err
	}

	// Resolve the owner before rotating so a store failure here cannot
	// consume the presented secret.
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	s, err := e.sessions.Lookup(sctx, sid)
	if err != nil {
		return nil, e.refreshError(ctx, sid, err)
	}
	ident, err := e.identities.ByID(sctx, s.IdentityID)
	if err != nil {
		return nil, e.refreshError(ctx, sid, err)
	}

	wctx, wcancel := e.writeContext(ctx)
	tok, err := e.sessions.RedeemAndRotate(wctx, sid, secret)
	wcancel()
	if err != nil {
		return nil, e.refreshError(ctx, sid, err)
	}

	access, err := e.mint(ident)
	if err != nil {
		return nil, e.fail(ctx, "refresh", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, ident.ID.String(), sid.String(), nil, nil)
	return e.tokenPair(access, tok), nil
}

func (e *Engine) refreshError(ctx context.Context, sid uuid.UUID, err error) error {
	if errors.Is(err, session.ErrInvalidSession) || errors.Is(err, identity.ErrNotFound) {
		if e.config.Session.ReuseDetection && errors.Is(err, session.ErrRefreshHashMismatch) {
			e.metricInc(MetricRefreshReuseRevoked)
			e.log(ctx).Warn("auth.refresh.reuse_revoked", "session_id", sid)
		}
		err = wrapKind(ErrUnauthenticated, err)
		e.refreshFailed(ctx, sid.String(), err)
		return err
	}
	return e.fail(ctx, "refresh", err)
}

func (e *Engine) refreshFailed(ctx context.Context, sid string, err error) {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sid, err, nil)
}

// Logout revokes the session named by refreshToken. The secret must be the
// current one; an unknown, expired or already revoked session is refused.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	sid, secret, err := e.parseRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricLogoutRejected)
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", err, nil)
		return err
	}

	wctx, cancel := e.writeContext(ctx)
	err = e.sessions.RevokeWithSecret(wctx, sid, secret)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			e.metricInc(MetricLogoutRejected)
			err = wrapKind(ErrUnauthenticated, err)
			e.emitAudit(ctx, auditEventLogoutSession, false, "", sid.String(), err, nil)
			return err
		}
		return e.fail(ctx, "logout", err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, "", sid.String(), nil, nil)
	return nil
}

// ValidateAccess checks an access token without any I/O.
func (e *Engine) ValidateAccess(token string) (*jwt.Claims, error) {
	started := time.Now()
	claims, err := e.tokens.Validate(strings.TrimSpace(token))
	e.metrics.Observe(MetricValidateLatency, time.Since(started))
	if err != nil {
		return nil, wrapKind(ErrUnauthenticated, err)
	}
	return claims, nil
}

// Me returns the identity an access token was minted for.
func (e *Engine) Me(ctx context.Context, token string) (*identity.Identity, error) {
	claims, err := e.ValidateAccess(token)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, wrapKind(ErrUnauthenticated, err)
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	ident, err := e.identities.ByID(sctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, wrapKind(ErrUnauthenticated, err)
		}
		return nil, e.fail(ctx, "me", err)
	}
	return ident, nil
}

func (e *Engine) parseRefreshToken(raw string) (uuid.UUID, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, "", validationError("refresh_token", "is required")
	}
	sid, secret, err := session.ParseToken(raw)
	if err != nil {
		return uuid.Nil, "", wrapKind(ErrUnauthenticated, err)
	}
	return sid, secret, nil
}

// establish mints an access token and opens a new session for ident.
func (e *Engine) establish(ctx context.Context, ident *identity.Identity) (*AuthResult, error) {
	access, err := e.mint(ident)
	if err != nil {
		return nil, err
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	tok, err := e.sessions.Issue(sctx, ident.ID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionCreated)

	return &AuthResult{
		Identity:  ident,
		TokenPair: *e.tokenPair(access, tok),
	}, nil
}

func (e *Engine) mint(ident *identity.Identity) (string, error) {
	return e.tokens.Mint(jwt.Subject{
		ID:    ident.ID.String(),
		Email: ident.Email,
		Role:  ident.Role,
	})
}

func (e *Engine) tokenPair(access string, tok *session.Token) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: tok.String(),
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(e.tokens.TTL() / time.Second),
	}
}

// fail maps an unexpected component error onto the public taxonomy. Backend
// and provider outages become ErrServiceUnavailable; anything else is logged
// in full and returned as ErrInternal.
func (e *Engine) fail(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ErrInternal):
		return err
	case errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, identity.ErrUnavailable),
		errors.Is(err, lockout.ErrStoreUnavailable),
		errors.Is(err, oauth.ErrProviderUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		e.metricInc(MetricBackendUnavailable)
		e.log(ctx).Warn("auth."+op+".unavailable", "error", err)
		wrapped := wrapKind(ErrServiceUnavailable, err)
		e.emitAudit(ctx, auditEventBackendUnavailable, false, "", "", wrapped, func() map[string]string {
			return map[string]string{"op": op}
		})
		return wrapped
	default:
		e.log(ctx).Error("auth."+op+".internal", "error", err)
		return wrapKind(ErrInternal, err)
	}
}
