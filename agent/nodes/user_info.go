package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	graphx "github.com/tanpawarit/grooming-reservation-agent/agent/graph"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

var mobilePattern = regexp.MustCompile(`^01[016789]\d{8}$`)

var phoneSeparators = strings.NewReplacer("-", "", " ", "", ".", "", "(", "", ")", "")

// NormalizePhoneNumber strips common separators and reports whether the result
// is a valid mobile number.
func NormalizePhoneNumber(raw string) (string, bool) {
	n := phoneSeparators.Replace(strings.TrimSpace(raw))
	if !mobilePattern.MatchString(n) {
		return "", false
	}
	return n, true
}

// NewFetchUserInfo validates the verified contact identifier once per
// invocation. A missing or malformed number produces a corrective turn and the
// branch ends the invocation before routing.
func NewFetchUserInfo(env Env) graphx.NodeFunc {
	return func(ctx context.Context, st *statex.SessionState) error {
		if st == nil {
			return fmt.Errorf("%w: nil state", contractx.ErrValidation)
		}
		raw := st.UserContext[contractx.UserContextPhoneNumber]
		phone, ok := NormalizePhoneNumber(raw)
		if !ok {
			log.Warn().Str("session_id", st.SessionID).Msg("phone number missing or invalid")
			delete(st.UserContext, contractx.UserContextPhoneNumber)
			st.Append(statex.Turn{
				ID:        env.id(),
				Role:      statex.RoleAssistant,
				Content:   InvalidPhoneMessage,
				CreatedAt: env.now(),
			})
			return nil
		}
		st.MergeUserContext(map[string]string{contractx.UserContextPhoneNumber: phone})
		return nil
	}
}

// UserInfoBranch continues to the router only with a verified phone number.
func UserInfoBranch() *graphx.Branch {
	return graphx.NewBranch(func(ctx context.Context, st *statex.SessionState) (string, error) {
		if _, ok := NormalizePhoneNumber(st.UserContext[contractx.UserContextPhoneNumber]); ok {
			return Router, nil
		}
		return graphx.END, nil
	}, map[string]bool{Router: true, graphx.END: true})
}
