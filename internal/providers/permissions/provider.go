package permissions

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Scopes an application may request.
const (
	ScopeUserInfo         = "scope.userInfo"
	ScopeUserLocation     = "scope.userLocation"
	ScopeAddress          = "scope.address"
	ScopeInvoiceTitle     = "scope.invoiceTitle"
	ScopeInvoice          = "scope.invoice"
	ScopeWerun            = "scope.werun"
	ScopeRecord           = "scope.record"
	ScopeWritePhotosAlbum = "scope.writePhotosAlbum"
	ScopeCamera           = "scope.camera"
	ScopeBluetooth        = "scope.bluetooth"
)

var knownScopes = map[string]string{
	ScopeUserInfo:         "User profile",
	ScopeUserLocation:     "Geographic location",
	ScopeAddress:          "Mailing address",
	ScopeInvoiceTitle:     "Invoice title",
	ScopeInvoice:          "Invoices",
	ScopeWerun:            "Step count",
	ScopeRecord:           "Microphone",
	ScopeWritePhotosAlbum: "Save to photo album",
	ScopeCamera:           "Camera",
	ScopeBluetooth:        "Bluetooth",
}

const auditCapacity = 1000

// Decider asks whoever owns the device whether appID may use scope. It may
// block until answered and must honor ctx.
type Decider func(ctx context.Context, appID, scope string) (bool, error)

// Entry is a recorded decision
type Entry struct {
	AppID     string `json:"app_id"`
	Scope     string `json:"scope"`
	Allowed   bool   `json:"allowed"`
	DecidedAt int64  `json:"decided_at"`
}

// AuditEntry represents an authorization request audit log
type AuditEntry struct {
	Timestamp int64  `json:"timestamp"`
	AppID     string `json:"app_id"`
	Scope     string `json:"scope"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
}

// ScopeInfo describes a requestable scope
type ScopeInfo struct {
	Scope       string `json:"scope"`
	Description string `json:"description"`
}

// Gate decides authorization requests. A decision, once made, is remembered
// until revoked.
type Gate struct {
	decide Decider
	logger *zap.Logger

	mu        sync.RWMutex
	decisions map[string]map[string]Entry
	audit     []AuditEntry
	auditNext int
}

// NewGate creates a gate. A nil decider refuses every scope that was not
// granted explicitly.
func NewGate(decide Decider, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		decide:    decide,
		logger:    logger.Named("permissions"),
		decisions: make(map[string]map[string]Entry),
	}
}

// AllowAll is a decider that grants everything.
func AllowAll(context.Context, string, string) (bool, error) { return true, nil }

// RequestAuthorization returns nil when appID may use scope and a denied
// error otherwise.
func (g *Gate) RequestAuthorization(ctx context.Context, appID, scope string) error {
	if _, ok := knownScopes[scope]; !ok {
		return errs.New(errs.KindMalformedInput, "permissions.RequestAuthorization", "invalid scope %q", scope)
	}

	if e, ok := g.lookup(appID, scope); ok {
		g.record(appID, scope, e.Allowed, "remembered")
		return deniedUnless(e.Allowed, scope)
	}

	if g.decide == nil {
		g.record(appID, scope, false, "no decider")
		return deniedUnless(false, scope)
	}

	allowed, err := g.decide(ctx, appID, scope)
	if err != nil {
		g.record(appID, scope, false, err.Error())
		if ctx.Err() != nil {
			return errs.Wrap(errs.KindTransport, "permissions.RequestAuthorization", ctx.Err())
		}
		return errs.Wrap(errs.KindInternal, "permissions.RequestAuthorization", err)
	}

	g.remember(appID, scope, allowed)
	g.record(appID, scope, allowed, "decided")
	g.logger.Info("authorization decided",
		zap.String("app_id", appID),
		zap.String("scope", scope),
		zap.Bool("allowed", allowed),
	)
	return deniedUnless(allowed, scope)
}

// Grant records an allow decision for appID.
func (g *Gate) Grant(appID string, scopes ...string) error {
	return g.set(appID, scopes, true)
}

// Deny records a refusal for appID. Later requests fail without asking.
func (g *Gate) Deny(appID string, scopes ...string) error {
	return g.set(appID, scopes, false)
}

// Revoke forgets decisions for appID; with no scopes it forgets all of them.
func (g *Gate) Revoke(appID string, scopes ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(scopes) == 0 {
		delete(g.decisions, appID)
		return
	}
	for _, s := range scopes {
		delete(g.decisions[appID], s)
	}
}

// List returns the decisions recorded for appID, or for every app when
// appID is empty.
func (g *Gate) List(appID string) []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Entry
	for app, scopes := range g.decisions {
		if appID != "" && app != appID {
			continue
		}
		for _, e := range scopes {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppID != out[j].AppID {
			return out[i].AppID < out[j].AppID
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}

// Audit returns up to limit of the most recent requests, newest first.
func (g *Gate) Audit(appID string, limit int) []AuditEntry {
	if limit <= 0 {
		limit = 100
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.audit)
	out := make([]AuditEntry, 0, min(limit, n))
	for i := 0; i < n && len(out) < limit; i++ {
		e := g.audit[(g.auditNext-1-i+n)%n]
		if appID == "" || e.AppID == appID {
			out = append(out, e)
		}
	}
	return out
}

// Scopes lists every requestable scope.
func Scopes() []ScopeInfo {
	out := make([]ScopeInfo, 0, len(knownScopes))
	for s, d := range knownScopes {
		out = append(out, ScopeInfo{Scope: s, Description: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

func (g *Gate) set(appID string, scopes []string, allowed bool) error {
	for _, s := range scopes {
		if _, ok := knownScopes[s]; !ok {
			return errs.New(errs.KindMalformedInput, "permissions.Grant", "invalid scope %q", s)
		}
	}
	for _, s := range scopes {
		g.remember(appID, s, allowed)
	}
	return nil
}

func (g *Gate) lookup(appID, scope string) (Entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.decisions[appID][scope]
	return e, ok
}

func (g *Gate) remember(appID, scope string, allowed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	scopes := g.decisions[appID]
	if scopes == nil {
		scopes = make(map[string]Entry)
		g.decisions[appID] = scopes
	}
	scopes[scope] = Entry{AppID: appID, Scope: scope, Allowed: allowed, DecidedAt: time.Now().Unix()}
}

func (g *Gate) record(appID, scope string, allowed bool, reason string) {
	e := AuditEntry{
		Timestamp: time.Now().UnixMilli(),
		AppID:     appID,
		Scope:     scope,
		Allowed:   allowed,
		Reason:    reason,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.audit) < auditCapacity {
		g.audit = append(g.audit, e)
		g.auditNext = len(g.audit) % auditCapacity
		return
	}
	g.audit[g.auditNext] = e
	g.auditNext = (g.auditNext + 1) % auditCapacity
}

func deniedUnless(allowed bool, scope string) error {
	if allowed {
		return nil
	}
	return errs.New(errs.KindDenied, "permissions.RequestAuthorization", "authorize:fail auth deny %s", scope)
}
