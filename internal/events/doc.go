// Package events broadcasts task changes to real-time subscribers.
//
// Events are published to named topics on an injected Channel: the global
// topic "tasks" carries taskCreated and taskDeleted, and the per-task topic
// "task-{id}" carries taskUpdate. Delivery is fire-and-forget and
// at-most-once; there is no replay for late subscribers.
//
// The primary components are:
//   - Channel and Subscription: the publish/subscribe abstraction, with an
//     in-memory implementation here and a Redis one in internal/platform/redis
//   - Dispatcher: a bounded queue and worker pool that moves publishing off
//     the request path
//   - Broadcaster: the task-level API used by services; it never returns
//     errors, it logs them
package events
