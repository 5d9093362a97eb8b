// Package welcome manages the onboarding email series: scheduling the
// sequence at signup, draining due mail through the email provider,
// applying inbound provider events to the per-email state machine, and
// reporting engagement stats.
//
// State transitions are monotonic. A row advances scheduled → sent →
// delivered → opened → clicked and never moves backward, so provider
// events arriving out of order cannot regress engagement already seen.
package welcome
