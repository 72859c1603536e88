// Package exposition renders a store.Snapshot as Prometheus text exposition.
//
// Every target contributes a fixed set of status series under
// <namespace>_target_* and its probe measurements as <namespace>_<name>
// gauges, all labelled with target. Output is deterministic: families are
// sorted by name and series by label set, so two renders of the same
// snapshot are byte-identical.
//
// A target whose measurements cannot be expressed (bad metric or label name,
// a clash with a built-in series) is left out of the output entirely and
// reported as a *RenderError. Other targets are unaffected.
package exposition
