// Package listing implements listing submission and persistence logic.
//
// The service layer owns the write path: admission check, attempt logging,
// and the insert-or-update against the record store. It depends on the
// Repository interface defined in repository.go and never imports net/http
// or database/sql directly.
//
// Repository implementations live in repository/postgres, repository/dynamo,
// and repository/memory.
package listing
