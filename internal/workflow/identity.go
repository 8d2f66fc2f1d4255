package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/match"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/store"
)

// Resolver maps submissions to applicant records by normalized composite
// key. Resolution is an exact lookup: fuzzy matching is reserved for the
// upload path, never for workflow identity.
type Resolver struct {
	store store.Store
	audit *audit.Logger
}

// NewResolver creates an identity resolver.
func NewResolver(st store.Store, al *audit.Logger) *Resolver {
	return &Resolver{store: st, audit: al}
}

// Resolve finds or creates the applicant for a submission. The same key
// always maps to the same record; resolving twice is idempotent. New
// documents are appended to an existing record, never deduplicated.
func (r *Resolver) Resolve(ctx context.Context, sub model.Submission) (*model.Applicant, error) {
	key := match.NormalizeKey(model.IdentityKey{
		GivenName:  sub.GivenName,
		FamilyName: sub.FamilyName,
		SchoolName: sub.SchoolName,
		StateCode:  sub.StateCode,
	})

	existing, err := r.store.FindApplicantByKey(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "identity: lookup")
	}
	if existing != nil {
		existing.Documents = append(existing.Documents, sub.Documents...)
		if err := r.store.UpdateApplicant(ctx, existing); err != nil {
			return nil, eris.Wrap(err, "identity: update existing")
		}
		r.audit.MustRecord(ctx, existing.ID, "system", model.InteractionIdentityMatch, map[string]any{
			"action": "matched",
			"key":    keyString(key),
		})
		zap.L().Info("identity: matched existing applicant",
			zap.String("applicant_id", existing.ID),
		)
		return existing, nil
	}

	a := &model.Applicant{
		ID:         uuid.NewString(),
		GivenName:  sub.GivenName,
		FamilyName: sub.FamilyName,
		SchoolName: sub.SchoolName,
		StateCode:  sub.StateCode,
		Documents:  sub.Documents,
	}
	if err := r.store.CreateApplicant(ctx, a, key); err != nil {
		if eris.Is(err, store.ErrDuplicateKey) {
			return nil, &DuplicateIdentityError{Key: keyString(key)}
		}
		return nil, eris.Wrap(err, "identity: create")
	}
	r.audit.MustRecord(ctx, a.ID, "system", model.InteractionIdentityMatch, map[string]any{
		"action": "created",
		"key":    keyString(key),
	})
	zap.L().Info("identity: created applicant",
		zap.String("applicant_id", a.ID),
		zap.String("school", a.SchoolName),
		zap.String("state", a.StateCode),
	)
	return a, nil
}

func keyString(k model.IdentityKey) string {
	return fmt.Sprintf("%s|%s|%s|%s", k.GivenName, k.FamilyName, k.SchoolName, k.StateCode)
}
