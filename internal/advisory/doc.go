// Package advisory provides the business boundary for Verdict's advisory
// disposition system. It defines the Engine (deterministic rule chain), the
// StateMachine (transition guarding), the StateStore interface (SCD2 temporal
// persistence), the Explainer (customer-facing text), the Service (decide,
// validate, apply orchestration), and domain models.
package advisory
