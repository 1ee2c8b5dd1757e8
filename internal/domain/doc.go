// Package domain contains the core business entities, value objects, and
// domain logic of the application: users, tasks with their attached
// documents, and the task access policy. It is independent of any specific
// infrastructure or delivery mechanism.
package domain
