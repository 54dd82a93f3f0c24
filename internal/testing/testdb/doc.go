// Package testdb connects repository tests to a real SurrealDB instance.
//
// Each call to New gets its own namespace with every migrations/*.surql file
// applied, and drops it when the test ends:
//
//	repo := repository.NewTicketRepository(testdb.New(t))
//
// Tests skip when TEST_DB_HOST is unset. TEST_DB_PORT, TEST_DB_USER and
// TEST_DB_PASSWORD default to 8000, root and root.
package testdb
