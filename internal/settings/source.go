package settings

// PolicyAPISource exposes the policy API credential and profile from the
// DB-backed snapshot, so gateway requests pick up settings updates without
// client rebuilds.
type PolicyAPISource struct{}

// Credential returns the stored bearer credential.
func (PolicyAPISource) Credential() string {
	value, _ := StringValue(PolicyCredentialKey)
	return value
}

// ProfileID returns the stored policy profile identifier.
func (PolicyAPISource) ProfileID() string {
	value, _ := StringValue(PolicyProfileIDKey)
	return value
}
