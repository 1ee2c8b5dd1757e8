// Package api is the HTTP surface of the task board. Handlers decode and
// validate requests, call the task and user services, and translate their
// errors into status codes and client-safe messages. NewRouter assembles the
// routes, authentication and rate limiting.
package api
