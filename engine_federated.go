package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/oauth"
)

// ErrFederationDisabled is returned by the federated login operations when no
// provider client is configured.
var ErrFederationDisabled = errors.New("federated login not configured")

// StartFederatedLogin returns the provider authorization URL with a signed,
// time-limited state.
func (e *Engine) StartFederatedLogin(ctx context.Context, req FederatedStartRequest) (*FederatedStartResult, error) {
	if e.federation == nil {
		return nil, wrapKind(ErrServiceUnavailable, ErrFederationDisabled)
	}
	res, err := e.federation.Start(req)
	if err != nil {
		return nil, e.federatedError(ctx, err)
	}
	e.metricInc(MetricFederatedStart)
	e.emitAudit(ctx, auditEventFederatedStart, true, "", "", nil, func() map[string]string {
		return map[string]string{"provider": oauth.ProviderGoogle, "pkce": strconv.FormatBool(req.CodeChallenge != "" || res.CodeVerifier != "")}
	})
	return res, nil
}

// CompleteFederatedLogin verifies the state, exchanges the code, resolves or
// creates the local identity and signs it in.
func (e *Engine) CompleteFederatedLogin(ctx context.Context, cb FederatedCallback) (*AuthResult, error) {
	if e.federation == nil {
		return nil, wrapKind(ErrServiceUnavailable, ErrFederationDisabled)
	}

	ext, err := e.federation.Complete(ctx, cb)
	if err != nil {
		return nil, e.federatedError(ctx, err)
	}

	sctx, cancel := e.storeContext(ctx)
	ident, err := oauth.Upsert(sctx, e.identities, ext)
	cancel()
	if err != nil {
		return nil, e.federatedError(ctx, err)
	}

	result, err := e.establish(ctx, ident)
	if err != nil {
		return nil, e.federatedError(ctx, err)
	}
	result.ClientState = ext.ClientState

	e.metricInc(MetricFederatedSuccess)
	e.emitAudit(ctx, auditEventFederatedSuccess, true, ident.ID.String(), "", nil, func() map[string]string {
		return map[string]string{"provider": ext.Provider}
	})
	e.log(ctx).Info("auth.google.success", "identity_id", ident.ID)
	return result, nil
}

func (e *Engine) federatedError(ctx context.Context, err error) error {
	var out error
	switch {
	case errors.Is(err, oauth.ErrInvalidRequest):
		out = federatedValidation(err)
	case errors.Is(err, oauth.ErrInvalidState),
		errors.Is(err, oauth.ErrIdentityRejected):
		out = wrapKind(ErrUnauthenticated, err)
	case errors.Is(err, identity.ErrDuplicateEmail),
		errors.Is(err, identity.ErrDuplicateFederation):
		// Upsert already retried the lookup once; a second collision means
		// the email is bound to a different federated subject.
		out = wrapKind(ErrUnauthenticated, err)
	default:
		out = e.fail(ctx, "google", err)
	}

	e.metricInc(MetricFederatedFailure)
	e.emitAudit(ctx, auditEventFederatedFailure, false, "", "", out, nil)
	if Kind(out) == KindUnauthenticated {
		e.log(ctx).Warn("auth.google.rejected", "error", err)
	}
	return out
}

// federatedValidation recovers the parameter name the flow reported.
func federatedValidation(err error) error {
	detail := strings.TrimPrefix(err.Error(), oauth.ErrInvalidRequest.Error()+": ")
	field, _, _ := strings.Cut(detail, ":")
	if field = strings.TrimSpace(field); field == "" {
		field = "request"
	}
	return validationError(field, "is invalid")
}
