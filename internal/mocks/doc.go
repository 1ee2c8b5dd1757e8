// Package mocks provides centralized test doubles for the store and auth
// interfaces.
//
// Two styles are available:
//
//   - Function-field mocks (MockJWTService, MockPasswordVerifier) and the
//     in-memory stores (MockUserStore, MockTaskStore). Every method consults
//     an optional override function first and otherwise falls back to a
//     working in-memory implementation.
//   - testify mocks (UserStore) for tests that assert exact calls.
//
// Usage:
//
//	users := mocks.NewMockUserStore()
//	tasks := mocks.NewMockTaskStore()
//	tasks.DeleteFn = func(ctx context.Context, id uuid.UUID) error {
//	    return errors.New("boom")
//	}
//
// The in-memory stores ignore transactions: WithTx returns the receiver.
package mocks
