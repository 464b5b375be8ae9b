// Package password hashes and verifies local-backend credentials with Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Length policy is the caller's job: the local backend rejects short passwords with
// the same message the hosted backend uses before anything reaches this package.
package password
