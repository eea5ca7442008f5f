// Package main hosts the auditor binary.
//
// Architecture overview:
//   - HTTP API: internal/api exposes health, metrics, audit, batch, fix and timeline endpoints plus a
//     server-sent event stream per audit. Requests are validated by the orchestrator service, persisted,
//     and handed to the dispatcher.
//   - Dispatcher and queue: audits flow through a bounded in-memory queue to a fixed worker pool sized by
//     dispatch.concurrency. Each worker runs the external Analyzer as a child process and parses its JSON report.
//   - Persistence: audits, batches, fixes and timeline events live in memory or Postgres (database.driver).
//     Raw Analyzer output is archived to the configured blob store (memory, local or GCS).
//   - Fanout: terminal audits are published to Pub/Sub when a topic is configured; progress events are batched
//     by the progress hub into the timeline, the event broker (in-process or Redis) and Prometheus.
//   - Reconciliation: a cron-scheduled sweep fails audits stuck in running past reconcile.stale_after_seconds.
//
// Commands:
//   - auditor serve: run the API and workers until SIGINT or SIGTERM.
//   - auditor audit submit|status|result, auditor batch submit|get: talk to a running server at poll.server_url.
//   - auditor sweep: one reconciliation pass against the configured store.
//
// Every config key can be overridden with an AUDITOR_ prefixed env var, for example
// AUDITOR_DATABASE_DSN or AUDITOR_DISPATCH_CONCURRENCY.
package main
