// Package password hashes and verifies account credentials and enforces the
// password strength policy.
//
// # Hash formats
//
// [Argon2] produces PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Bcrypt] produces standard $2a$/$2b$ strings and exists so accounts created
// by the previous platform keep working. [Multi] hashes with one algorithm
// and verifies with whichever one the stored hash names.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import the root charityauth package.
//   - Log plaintext passwords.
package password
