// Package cmd implements the gentlevisitor command line.
//
// Commands:
//   - run: starts the scheduling loop. Each cycle checks the activity window, asks the
//     record store for the target with the fewest attempts, consults the configured
//     controller, and dispatches a fetch through the next proxy with a random identity.
//     An optional HTTP server exposes health, metrics, status and the history trail.
//   - import: bulk loads targets from a text file, one URL per line.
//   - migrate: applies the schema migrations for the configured database.
//
// Configuration comes from an optional YAML file (--config) overridden by
// GENTLEVISITOR_* environment variables, e.g. GENTLEVISITOR_CRAWLER_MAX_IN_FLIGHT=8.
// SIGINT and SIGTERM stop the loop; fetches already in flight are allowed to finish.
package cmd
