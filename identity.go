package cloudgpt

import "strconv"

// IdentityKind says how a caller was identified.
type IdentityKind string

const (
	IdentityAPIKey    IdentityKind = "api_key"
	IdentitySession   IdentityKind = "session"
	IdentityAnonymous IdentityKind = "anonymous"
)

// Identity is the resolved caller of a request. It is owned by the external
// auth layer and is read-only here.
type Identity struct {
	Kind      IdentityKind
	UserID    string
	APIKey    string `json:"-"`
	KeyID     int64
	Plan      Plan
	CustomRPM int64
	CustomRPD int64
	ClientIP  string
}

// BucketKey returns the quota bucket for this identity.
func (id Identity) BucketKey() string {
	switch id.Kind {
	case IdentityAPIKey:
		return "key:" + strconv.FormatInt(id.KeyID, 10)
	case IdentitySession:
		return "user:" + id.UserID
	default:
		return "ip:" + id.ClientIP
	}
}

// AnonymousIdentity returns the identity of an unauthenticated caller.
func AnonymousIdentity(clientIP string) Identity {
	return Identity{Kind: IdentityAnonymous, Plan: PlanAnonymous, ClientIP: clientIP}
}
