//go:build integration

// Package testdb provides utilities for database integration tests.
//
// Tests run inside a transaction that is rolled back when the test
// completes, so they can share one migrated database without cleanup:
//
//	func TestCreateTask(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        tasks := postgres.NewPostgresTaskStore(tx, nil)
//	        // ...
//	    })
//	}
//
// The database URL is read from DATABASE_URL, falling back to
// TASKBOARD_TEST_DB_URL. Tests are skipped when neither is set.
package testdb
