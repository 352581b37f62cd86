// Package ledger owns the per-user credit balance and the plan policy table.
//
// Credits are the prepaid quota unit consumed by speech synthesis: one credit
// per 100 input characters, minimum one per request. Plans determine the
// per-request character ceiling and the synthesis quality tier.
//
// The debit path is a single atomic conditional decrement at the storage
// layer, so concurrent requests from the same user can never take a balance
// negative: the losing request observes ErrInsufficientCredits.
package ledger

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"
)

// charsPerCredit is the number of input characters covered by one credit.
const charsPerCredit = 100

// DefaultSignupCredits is the credit grant for a newly created profile.
const DefaultSignupCredits = 50

// Plan is a subscription tier determining the per-request character ceiling
// and the synthesis quality tier.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// IsValid reports whether p is a recognised plan.
func (p Plan) IsValid() bool {
	return p == PlanFree || p == PlanPro
}

// Policy holds the plan-derived limits. It is configuration data keyed by
// plan, not logic scattered through handlers.
type Policy struct {
	// MaxChars is the per-request input ceiling in characters.
	MaxChars int

	// HD selects the provider's high-definition quality tier.
	HD bool
}

// planPolicies is the canonical plan policy table.
var planPolicies = map[Plan]Policy{
	PlanFree: {MaxChars: 1000, HD: false},
	PlanPro:  {MaxChars: 5000, HD: true},
}

// PolicyFor returns the policy for plan. Unrecognised plans get the free
// policy, the most restrictive one.
func PolicyFor(plan Plan) Policy {
	if p, ok := planPolicies[plan]; ok {
		return p
	}
	return planPolicies[PlanFree]
}

// CreditsNeeded returns the credit cost of synthesizing text: one credit per
// 100 characters rounded up, minimum one regardless of length. Characters
// are counted as runes so multi-byte input is not overcharged.
func CreditsNeeded(text string) int {
	n := utf8.RuneCountInString(text)
	credits := (n + charsPerCredit - 1) / charsPerCredit
	if credits < 1 {
		credits = 1
	}
	return credits
}

// Sentinel errors for the ledger contract.
var (
	// ErrProfileNotFound is returned when no profile exists for the user.
	ErrProfileNotFound = errors.New("ledger: profile not found")

	// ErrInsufficientCredits is returned by Debit when the conditional
	// decrement matches no row because the balance is below the amount.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
)

// Profile is the identity-linked account record.
type Profile struct {
	ID        string
	UserID    string
	Name      string
	Email     string
	Plan      Plan
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is the quota view of a profile used on the generation path.
type Balance struct {
	// ProfileID is the profile's row ID, distinct from the auth user ID.
	// Voiceover records reference it.
	ProfileID string
	Credits   int
	Plan      Plan
}

// Ledger exposes the credit balance check/debit operations.
type Ledger interface {
	// Balance returns the current credits and plan for the user.
	// Returns ErrProfileNotFound when no profile exists.
	Balance(ctx context.Context, userID string) (Balance, error)

	// Debit decrements the stored credits by amount as one atomic
	// conditional write and returns the remaining balance. Returns
	// ErrInsufficientCredits when the balance is below amount and
	// ErrProfileNotFound when no profile exists.
	Debit(ctx context.Context, userID string, amount int) (int, error)

	// Credit adds amount to the stored balance (top-up path) and returns
	// the new balance. Returns ErrProfileNotFound when no profile exists.
	Credit(ctx context.Context, userID string, amount int) (int, error)
}
