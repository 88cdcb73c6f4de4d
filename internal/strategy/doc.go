// Package strategy implements backend selection for the load balancer.
//
//   - ChooseTop2: one linear pass that keeps the two best eligible backends,
//     ranked by health score and, on equal scores, by fewest requests.
//   - Pick: spreads load by choosing uniformly between the two candidates.
//
// Backends whose host is in the exclusion set are never returned.
package strategy
