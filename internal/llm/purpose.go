package llm

import "context"

// Purpose labels recorded with every logged request.
const (
	PurposeChallengeGen   = "challenge-gen"
	PurposeChallengeGrade = "challenge-grade"
	purposeTutorPrefix    = "tutor-"
	purposeUnknown        = "unknown"
)

type purposeKey struct{}

// WithPurpose labels the requests made with ctx.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

// TutorPurpose is the label of a tutor request in the given persona mode.
func TutorPurpose(mode string) string { return purposeTutorPrefix + mode }

// PurposeFrom returns the label set by WithPurpose, or "unknown".
func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey{}).(string); ok && v != "" {
		return v
	}
	return purposeUnknown
}
