package policy

import (
	"context"
	_ "embed"

	"github.com/knowhq/sable/pkg/model"
	"github.com/knowhq/sable/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed policy/access.rego
var accessRegoRaw string

// Engine derives row-level access scopes from user identities. The role
// decision is evaluated through the embedded Rego policy; scope assembly
// stays in Go so the result remains storage-agnostic.
type Engine struct {
	query *rego.PreparedEvalQuery
}

// New prepares the embedded access policy for evaluation
func New(ctx context.Context) (*Engine, error) {
	r := rego.New(
		rego.Query("data.access.unrestricted"),
		rego.Module("access.rego", accessRegoRaw),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare access policy")
	}

	return &Engine{query: &prepared}, nil
}

// DeriveScope computes the access scope for an identity. It is total:
// a policy evaluation fault falls back to the restrictive scope so a
// retrieval is never executed wider than intended.
func (e *Engine) DeriveScope(ctx context.Context, identity model.UserIdentity) model.AccessScope {
	if e.unrestricted(ctx, identity) {
		return model.Unrestricted()
	}
	return restrictedScope(identity)
}

func (e *Engine) unrestricted(ctx context.Context, identity model.UserIdentity) bool {
	if e == nil || e.query == nil {
		return identity.HasRole(model.RoleAdmin)
	}

	roles := identity.Roles
	if roles == nil {
		roles = []string{}
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"user_id":    identity.UserID,
		"department": identity.Department,
		"roles":      roles,
	}))
	if err != nil {
		logging.From(ctx).Error("access policy evaluation failed, falling back to restricted scope",
			"error", err, "user_id", identity.UserID)
		return false
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false
	}

	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed
}

// restrictedScope accepts a fact when it carries no department tag, its
// department matches the identity, or the user is explicitly allow-listed.
func restrictedScope(identity model.UserIdentity) model.AccessScope {
	return model.AccessScope{
		Root: model.ScopeTerm{
			Op: model.OpOr,
			Terms: []model.ScopeTerm{
				{Op: model.OpAbsent, Field: "department"},
				{Op: model.OpEq, Field: "department", Param: "user_dept"},
				{Op: model.OpContains, Field: "allowed_users", Param: "user_id"},
			},
		},
		Params: map[string]string{
			"user_dept": identity.Department,
			"user_id":   identity.UserID,
		},
	}
}
